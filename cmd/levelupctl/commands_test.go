package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
	"github.com/galsolomon2002/gamified-todo-app/storage"
)

func TestClassifyCommand(t *testing.T) {
	tests := []struct {
		args []string
		want string
	}{
		{args: []string{"לקבוע", "פגישה", "חשובה"}, want: "hard (50 points)"},
		{args: []string{"לקנות חלב"}, want: "medium (25 points)"},
		{args: []string{"לצחצח שיניים"}, want: "easy (10 points)"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		cmd := classifyCmd()
		cmd.SetOut(&out)
		cmd.SetArgs(tt.args)
		if err := cmd.Execute(); err != nil {
			t.Fatalf("classify %v: %v", tt.args, err)
		}
		if got := strings.TrimSpace(out.String()); got != tt.want {
			t.Fatalf("classify %v = %q, want %q", tt.args, got, tt.want)
		}
	}
}

func TestLedgerCommandsRequireUser(t *testing.T) {
	flags.user = ""
	tests := []struct {
		name string
		cmd  *cobra.Command
		args []string
	}{
		{name: "list", cmd: listCmd()},
		{name: "progress", cmd: progressCmd()},
		{name: "toggle", cmd: toggleCmd(), args: []string{"id"}},
		{name: "delete", cmd: deleteCmd(), args: []string{"id"}},
		{name: "add", cmd: addCmd(), args: []string{"title"}},
		{name: "rewards", cmd: rewardsCmd()},
		{name: "evict", cmd: evictCmd()},
	}
	for _, tt := range tests {
		if err := run(tt.cmd, tt.args); !errors.Is(err, errNoUser) {
			t.Fatalf("%s: expected errNoUser, got %v", tt.name, err)
		}
	}
}

func TestUnknownBackend(t *testing.T) {
	flags.user = "u1"
	flags.backend = "sqlite"
	t.Cleanup(func() { flags.user, flags.backend = "", "tables" })

	err := run(listCmd(), nil)
	if err == nil || !strings.Contains(err.Error(), "unknown backend") {
		t.Fatalf("expected unknown backend error, got %v", err)
	}
}

func TestCLIWritesReachServerThroughCache(t *testing.T) {
	mr := miniredis.RunT(t)
	t.Setenv("REDIS_CONNECTION_STRING", "redis://"+mr.Addr())
	t.Setenv("CACHE_TTL", "10m")
	ctx := context.Background()
	mem := storage.NewMemoryStorage()

	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	serverCache := storage.NewCache(mem, rc, 10*time.Minute)
	reg := ledger.NewRegistry(func(userID string) ledger.Store {
		return storage.ForUser(serverCache, userID)
	}, ledger.Options{})

	if _, tasks, err := reg.Reload(ctx, "u1"); err != nil || len(tasks) != 0 {
		t.Fatalf("server reload: %v %v", tasks, err)
	}
	if !mr.Exists("tasks:u1") {
		t.Fatalf("expected the server read to fill the cache")
	}

	store, closeStore, err := withCache(mem)
	if err != nil {
		t.Fatalf("open cli store: %v", err)
	}
	defer closeStore()
	cli := ledger.New(storage.ForUser(store, "u1"), ledger.Options{UserID: "u1"})
	if _, err := cli.Load(ctx); err != nil {
		t.Fatalf("cli load: %v", err)
	}
	added, err := cli.AddTask(ctx, domain.NewTask{Title: "לקנות חלב", Difficulty: domain.Medium})
	if err != nil {
		t.Fatalf("cli add: %v", err)
	}

	srv, tasks, err := reg.Reload(ctx, "u1")
	if err != nil {
		t.Fatalf("server reload: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != added.ID {
		t.Fatalf("server did not see the cli write: %+v", tasks)
	}
	if _, err := srv.ToggleCompletion(ctx, added.ID); err != nil {
		t.Fatalf("server toggle of cli task: %v", err)
	}

	if _, _, err := reg.Reload(ctx, "u1"); err != nil {
		t.Fatalf("server reload: %v", err)
	}
	if err := store.Evict(ctx, "u1"); err != nil {
		t.Fatalf("evict: %v", err)
	}
	if mr.Exists("tasks:u1") || mr.Exists("rewards:u1") {
		t.Fatalf("expected evict to drop the user's keys")
	}
}

func TestEvictCommandNeedsRedis(t *testing.T) {
	t.Setenv("REDIS_CONNECTION_STRING", "")
	flags.user = "u1"
	t.Cleanup(func() { flags.user = "" })

	err := run(evictCmd(), nil)
	if err == nil || !strings.Contains(err.Error(), "REDIS_CONNECTION_STRING") {
		t.Fatalf("expected missing redis error, got %v", err)
	}
}

func TestWithCacheRejectsBadTTL(t *testing.T) {
	t.Setenv("REDIS_CONNECTION_STRING", "redis://127.0.0.1:6379")
	t.Setenv("CACHE_TTL", "soon")

	if _, _, err := withCache(storage.NewMemoryStorage()); err == nil || !strings.Contains(err.Error(), "CACHE_TTL") {
		t.Fatalf("expected CACHE_TTL error, got %v", err)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.SetOut(io.Discard)
	cmd.SetArgs(args)
	return cmd.Execute()
}
