package storage

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
)

// ErrTaskNotFound is returned by update and delete when the row does not exist.
var ErrTaskNotFound = errors.New("storage: task not found")

// Backend is the user-scoped persistence used by the ledger and the API.
type Backend interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	InsertTask(ctx context.Context, userID string, draft domain.Draft) (domain.Task, error)
	UpdateTask(ctx context.Context, userID, id string, patch domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, userID, id string) error
	FetchRewards(ctx context.Context, userID string) (domain.Rewards, error)
	SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error
}

type userStore struct {
	backend Backend
	userID  string
}

// ForUser narrows a backend to the tasks of one user.
func ForUser(b Backend, userID string) ledger.Store {
	return &userStore{backend: b, userID: userID}
}

func (s *userStore) FetchAll(ctx context.Context) ([]domain.Task, error) {
	return s.backend.FetchTasks(ctx, s.userID)
}

func (s *userStore) Insert(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	return s.backend.InsertTask(ctx, s.userID, draft)
}

func (s *userStore) Update(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	return s.backend.UpdateTask(ctx, s.userID, id, patch)
}

func (s *userStore) Delete(ctx context.Context, id string) error {
	return s.backend.DeleteTask(ctx, s.userID, id)
}

// newTaskID returns a time ordered id so that listing by key keeps creation order.
func newTaskID() string {
	return uuid.Must(uuid.NewV7()).String()
}
