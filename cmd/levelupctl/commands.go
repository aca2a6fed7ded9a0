package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/galsolomon2002/gamified-todo-app/config"
	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
	"github.com/galsolomon2002/gamified-todo-app/storage"
)

var flags struct {
	backend string
	user    string
	json    bool
	debug   bool
}

var errNoUser = errors.New("--user is required")

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func openBackend(ctx context.Context) (storage.Backend, func(), error) {
	switch flags.backend {
	case "tables":
		connStr := os.Getenv("STORAGE_CONNECTION_STRING")
		if connStr == "" {
			return nil, nil, errors.New("missing STORAGE_CONNECTION_STRING")
		}
		s, err := storage.NewTableStorage(connStr, envOr("TASKS_TABLE", "Tasks"), envOr("SETTINGS_TABLE", "Settings"))
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case "postgres":
		dbURL := os.Getenv("DATABASE_URL")
		if dbURL == "" {
			return nil, nil, errors.New("missing DATABASE_URL")
		}
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			return nil, nil, err
		}
		return storage.NewPgStorage(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", flags.backend)
	}
}

// openStore opens the backend behind the server's Redis cache, so writes made
// here evict the keys the API reads from.
func openStore(ctx context.Context) (*storage.Cache, func(), error) {
	backend, closeBackend, err := openBackend(ctx)
	if err != nil {
		return nil, nil, err
	}
	cache, closeCache, err := withCache(backend)
	if err != nil {
		closeBackend()
		return nil, nil, err
	}
	return cache, func() {
		closeCache()
		closeBackend()
	}, nil
}

// withCache fronts base with the cache configured by REDIS_CONNECTION_STRING
// and CACHE_TTL. Without a connection string every call goes to base.
func withCache(base storage.Backend) (*storage.Cache, func(), error) {
	conn := os.Getenv("REDIS_CONNECTION_STRING")
	if conn == "" {
		return storage.NewCache(base, nil, 0), func() {}, nil
	}
	opts, err := config.RedisOptions(conn)
	if err != nil {
		return nil, nil, fmt.Errorf("redis: %w", err)
	}
	ttl := 10 * time.Minute
	if v := os.Getenv("CACHE_TTL"); v != "" {
		if ttl, err = time.ParseDuration(v); err != nil {
			return nil, nil, fmt.Errorf("invalid CACHE_TTL: %w", err)
		}
	}
	rc := redis.NewClient(opts)
	return storage.NewCache(base, rc, ttl), func() { _ = rc.Close() }, nil
}

// withLedger loads the user's ledger and runs fn against it.
func withLedger(cmd *cobra.Command, fn func(ctx context.Context, l *ledger.Ledger) error) error {
	if flags.user == "" {
		return errNoUser
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	logger := log.New()
	logger.SetOutput(cmd.ErrOrStderr())
	logger.SetLevel(log.WarnLevel)
	if flags.debug {
		logger.SetLevel(log.DebugLevel)
	}
	l := ledger.New(storage.ForUser(store, flags.user), ledger.Options{
		UserID:       flags.user,
		AutoClassify: true,
		Scheduling:   true,
		Logger:       log.NewEntry(logger),
	})
	if _, err := l.Load(ctx); err != nil {
		return err
	}
	return fn(ctx, l)
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return err
}

func printTask(cmd *cobra.Command, t domain.Task) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	line := fmt.Sprintf("[%s] %s  %-6s %3d  %s", mark, t.ID, t.Difficulty, t.Points, t.Title)
	if t.ScheduledTime != nil {
		line += "  @ " + t.ScheduledTime.Local().Format("2006-01-02 15:04")
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func printProgress(cmd *cobra.Command, p domain.Progress) {
	fmt.Fprintf(cmd.OutOrStdout(), "level %d  %d points  %d to next level  %d/%d done\n",
		p.Level, p.TotalPoints, p.PointsToNextLevel, p.CompletedTasks, p.TotalTasks)
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the user's tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(_ context.Context, l *ledger.Ledger) error {
				tasks := l.Tasks()
				if flags.json {
					return printJSON(cmd, tasks)
				}
				if len(tasks) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "no tasks")
				}
				for _, t := range tasks {
					printTask(cmd, t)
				}
				return nil
			})
		},
	}
}

func addCmd() *cobra.Command {
	var difficulty, at string
	cmd := &cobra.Command{
		Use:   "add [title]",
		Short: "Add a task; the difficulty is classified from the title when omitted",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := domain.NewTask{Title: strings.Join(args, " ")}
			if difficulty != "" {
				d, err := domain.ParseDifficulty(difficulty)
				if err != nil {
					return err
				}
				in.Difficulty = d
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				in.ScheduledTime = &ts
			}
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				t, err := l.AddTask(ctx, in)
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd, t)
				}
				printTask(cmd, t)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&difficulty, "difficulty", "d", "", "easy, medium or hard")
	cmd.Flags().StringVar(&at, "at", "", "scheduled time, RFC 3339")
	return cmd
}

func toggleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [id]",
		Short: "Flip the completion of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				before := l.Progress()
				t, err := l.ToggleCompletion(ctx, args[0])
				if err != nil {
					return err
				}
				if flags.json {
					return printJSON(cmd, t)
				}
				printTask(cmd, t)
				if after := l.Progress(); after.Level > before.Level {
					fmt.Fprintf(cmd.OutOrStdout(), "level up! now level %d\n", after.Level)
				}
				return nil
			})
		},
	}
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(ctx context.Context, l *ledger.Ledger) error {
				return l.DeleteTask(ctx, args[0])
			})
		},
	}
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show points and level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLedger(cmd, func(_ context.Context, l *ledger.Ledger) error {
				p := l.Progress()
				if flags.json {
					return printJSON(cmd, p)
				}
				printProgress(cmd, p)
				return nil
			})
		},
	}
}

func classifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify [title]",
		Short: "Guess the difficulty of a title without touching the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d := domain.ClassifyDifficulty(strings.Join(args, " "))
			if flags.json {
				return printJSON(cmd, map[string]any{"difficulty": d, "points": domain.PointsOf(d)})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%d points)\n", d, domain.PointsOf(d))
			return nil
		},
	}
}

func rewardsCmd() *cobra.Command {
	var small, big string
	cmd := &cobra.Command{
		Use:   "rewards",
		Short: "Show or set the user's rewards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.user == "" {
				return errNoUser
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			rewards, err := store.FetchRewards(ctx, flags.user)
			if err != nil {
				return domain.FetchFailed("get rewards", err)
			}
			if cmd.Flags().Changed("small") || cmd.Flags().Changed("big") {
				if cmd.Flags().Changed("small") {
					rewards.Small = small
				}
				if cmd.Flags().Changed("big") {
					rewards.Big = big
				}
				if rewards, err = rewards.Clean(); err != nil {
					return err
				}
				if err := store.SaveRewards(ctx, flags.user, rewards); err != nil {
					return domain.PersistFailed("save rewards", err)
				}
			}
			if flags.json {
				return printJSON(cmd, rewards)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "small: %s\nbig:   %s\n", rewards.Small, rewards.Big)
			return nil
		},
	}
	cmd.Flags().StringVar(&small, "small", "", "small reward")
	cmd.Flags().StringVar(&big, "big", "", "big reward")
	return cmd
}

func evictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict",
		Short: "Drop the user's cached tasks and rewards so the API rereads the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.user == "" {
				return errNoUser
			}
			if os.Getenv("REDIS_CONNECTION_STRING") == "" {
				return errors.New("REDIS_CONNECTION_STRING is not set")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			store, closeStore, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			if err := store.Evict(ctx, flags.user); err != nil {
				return fmt.Errorf("evict: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cache cleared for %s\n", flags.user)
			return nil
		},
	}
}
