package storage

import (
	"context"
	"sync"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

// MemoryStorage keeps everything in process memory. It is used for local
// runs and tests.
type MemoryStorage struct {
	mu      sync.Mutex
	tasks   map[string][]domain.Task
	rewards map[string]domain.Rewards
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tasks:   make(map[string][]domain.Task),
		rewards: make(map[string]domain.Rewards),
	}
}

func (m *MemoryStorage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Task, len(m.tasks[userID]))
	for i, t := range m.tasks[userID] {
		out[i] = t.Clone()
	}
	return out, nil
}

func (m *MemoryStorage) InsertTask(ctx context.Context, userID string, draft domain.Draft) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:            newTaskID(),
		Title:         draft.Title,
		Difficulty:    draft.Difficulty,
		Completed:     draft.Completed,
		Points:        draft.Points,
		ScheduledTime: draft.ScheduledTime,
	}.Clone()
	m.mu.Lock()
	m.tasks[userID] = append(m.tasks[userID], t.Clone())
	m.mu.Unlock()
	return t, nil
}

func (m *MemoryStorage) UpdateTask(ctx context.Context, userID, id string, patch domain.Patch) (domain.Task, error) {
	if err := ctx.Err(); err != nil {
		return domain.Task{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasks[userID]
	for i := range tasks {
		if tasks[i].ID != id {
			continue
		}
		if patch.Completed != nil {
			tasks[i].Completed = *patch.Completed
		}
		return tasks[i].Clone(), nil
	}
	return domain.Task{}, ErrTaskNotFound
}

func (m *MemoryStorage) DeleteTask(ctx context.Context, userID, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasks[userID]
	for i := range tasks {
		if tasks[i].ID == id {
			m.tasks[userID] = append(tasks[:i:i], tasks[i+1:]...)
			return nil
		}
	}
	return ErrTaskNotFound
}

func (m *MemoryStorage) FetchRewards(ctx context.Context, userID string) (domain.Rewards, error) {
	if err := ctx.Err(); err != nil {
		return domain.Rewards{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rewards[userID], nil
}

func (m *MemoryStorage) SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	m.rewards[userID] = rewards
	m.mu.Unlock()
	return nil
}
