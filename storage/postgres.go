package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

const taskColumns = `id, title, difficulty, points, completed, scheduled_time`

// PgStorage is a PostgreSQL-backed store.
type PgStorage struct {
	pool *pgxpool.Pool
}

// NewPgStorage creates a PgStorage.
func NewPgStorage(pool *pgxpool.Pool) *PgStorage {
	return &PgStorage{pool: pool}
}

// EnsureSchema creates the tasks and rewards tables if they don't exist.
func (s *PgStorage) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS tasks (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			title          TEXT NOT NULL,
			difficulty     TEXT NOT NULL CHECK (difficulty IN ('easy', 'medium', 'hard')),
			points         INTEGER NOT NULL,
			completed      BOOLEAN NOT NULL DEFAULT FALSE,
			scheduled_time TIMESTAMPTZ,
			created_at     TIMESTAMPTZ DEFAULT NOW(),
			updated_at     TIMESTAMPTZ DEFAULT NOW()
		)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at)`)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rewards (
			user_id      TEXT PRIMARY KEY,
			small_reward TEXT NOT NULL DEFAULT '',
			big_reward   TEXT NOT NULL DEFAULT '',
			updated_at   TIMESTAMPTZ DEFAULT NOW()
		)`)
	return err
}

func scanTask(row pgx.Row) (domain.Task, error) {
	var (
		t          domain.Task
		difficulty string
	)
	if err := row.Scan(&t.ID, &t.Title, &difficulty, &t.Points, &t.Completed, &t.ScheduledTime); err != nil {
		return domain.Task{}, err
	}
	t.Difficulty = domain.Difficulty(difficulty)
	return t, nil
}

// FetchTasks returns the user's tasks in creation order.
func (s *PgStorage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = $1 ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []domain.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

// InsertTask inserts the draft and returns the stored row.
func (s *PgStorage) InsertTask(ctx context.Context, userID string, draft domain.Draft) (domain.Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	t, err := scanTask(s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, title, difficulty, points, completed, scheduled_time, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING `+taskColumns,
		newTaskID(), userID, draft.Title, string(draft.Difficulty), draft.Points, draft.Completed, draft.ScheduledTime, now))
	if err != nil {
		return domain.Task{}, fmt.Errorf("create task: %w", err)
	}
	return t, nil
}

// UpdateTask applies the patch to the user's row.
func (s *PgStorage) UpdateTask(ctx context.Context, userID, id string, patch domain.Patch) (domain.Task, error) {
	now := time.Now().Truncate(time.Microsecond)
	t, err := scanTask(s.pool.QueryRow(ctx, `
		UPDATE tasks SET completed = COALESCE($1, completed), updated_at = $2
		WHERE id = $3 AND user_id = $4
		RETURNING `+taskColumns,
		patch.Completed, now, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, ErrTaskNotFound
		}
		return domain.Task{}, fmt.Errorf("update task %s: %w", id, err)
	}
	return t, nil
}

// DeleteTask removes the user's row.
func (s *PgStorage) DeleteTask(ctx context.Context, userID, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// FetchRewards returns the saved rewards, empty when none were saved.
func (s *PgStorage) FetchRewards(ctx context.Context, userID string) (domain.Rewards, error) {
	var r domain.Rewards
	err := s.pool.QueryRow(ctx, `SELECT small_reward, big_reward FROM rewards WHERE user_id = $1`, userID).Scan(&r.Small, &r.Big)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rewards{}, nil
		}
		return domain.Rewards{}, fmt.Errorf("get rewards: %w", err)
	}
	return r, nil
}

// SaveRewards upserts the user's rewards.
func (s *PgStorage) SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO rewards (user_id, small_reward, big_reward, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET small_reward = EXCLUDED.small_reward, big_reward = EXCLUDED.big_reward, updated_at = NOW()`,
		userID, rewards.Small, rewards.Big)
	if err != nil {
		return fmt.Errorf("save rewards: %w", err)
	}
	return nil
}
