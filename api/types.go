package api

import (
	"context"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate task creations.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when the creation failed.
	Remove(ctx context.Context, userID, key string) error
}

// RewardsStore persists reward preferences.
type RewardsStore interface {
	FetchRewards(ctx context.Context, userID string) (domain.Rewards, error)
	SaveRewards(ctx context.Context, userID string, rewards domain.Rewards) error
}

type taskResponse struct {
	Task     domain.Task     `json:"task"`
	Progress domain.Progress `json:"progress"`
}

type tasksResponse struct {
	Tasks    []domain.Task   `json:"tasks"`
	Progress domain.Progress `json:"progress"`
}

type classifyRequest struct {
	Title string `json:"title"`
}

type classifyResponse struct {
	Difficulty domain.Difficulty `json:"difficulty"`
	Points     int               `json:"points"`
}

type suggestionsResponse struct {
	Small []string `json:"small"`
	Big   []string `json:"big"`
}
