package domain

import (
	"strings"
	"time"
)

// Task represents a single daily to-do item.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Difficulty    Difficulty `json:"difficulty"`
	Completed     bool       `json:"completed"`
	Points        int        `json:"points"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
}

// NewTask carries an add intent coming from a client. An empty Difficulty
// asks the ledger to classify the title.
type NewTask struct {
	Title         string     `json:"title"`
	Difficulty    Difficulty `json:"difficulty,omitempty"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
}

// Draft is the record handed to the store for creation. The store assigns the id.
type Draft struct {
	Title         string     `json:"title"`
	Difficulty    Difficulty `json:"difficulty"`
	Completed     bool       `json:"completed"`
	Points        int        `json:"points"`
	ScheduledTime *time.Time `json:"scheduledTime,omitempty"`
}

// Patch carries a field-level update. Nil fields are left untouched.
type Patch struct {
	Completed *bool `json:"completed,omitempty"`
}

// BlankTitle reports whether a title is empty or whitespace only.
func BlankTitle(title string) bool {
	return strings.TrimSpace(title) == ""
}

// NewDraft builds a creation record with points derived from difficulty.
func NewDraft(title string, d Difficulty, scheduled *time.Time) Draft {
	return Draft{
		Title:         title,
		Difficulty:    d,
		Completed:     false,
		Points:        PointsOf(d),
		ScheduledTime: copyTime(scheduled),
	}
}

// Clone returns a copy of t that shares no memory with it.
func (t Task) Clone() Task {
	t.ScheduledTime = copyTime(t.ScheduledTime)
	return t
}

func copyTime(at *time.Time) *time.Time {
	if at == nil {
		return nil
	}
	v := *at
	return &v
}

// Normalize re-derives points from difficulty. It reports whether the
// record had drifted.
func (t *Task) Normalize() bool {
	want := PointsOf(t.Difficulty)
	if t.Points == want {
		return false
	}
	t.Points = want
	return true
}
