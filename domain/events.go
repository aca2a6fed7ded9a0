package domain

import "time"

const (
	TaskCreated   = "task-created"
	TaskCompleted = "task-completed"
	TaskReopened  = "task-reopened"
	TaskDeleted   = "task-deleted"
	LevelUp       = "level-up"
)

// Event describes a change to a user's ledger after the store accepted it.
type Event struct {
	ID       string    `json:"id"`
	UserID   string    `json:"userId"`
	Type     string    `json:"type"`
	TaskID   string    `json:"taskId,omitempty"`
	Task     *Task     `json:"task,omitempty"`
	Progress Progress  `json:"progress"`
	Time     time.Time `json:"time"`
}
