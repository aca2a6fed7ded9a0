// Package ledger keeps a user's task set consistent with the remote store and
// derives their progress from it.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

// Store is the remote CRUD capability the ledger persists through. Every
// method is one request to the backend.
type Store interface {
	FetchAll(ctx context.Context) ([]domain.Task, error)
	Insert(ctx context.Context, draft domain.Draft) (domain.Task, error)
	Update(ctx context.Context, id string, patch domain.Patch) (domain.Task, error)
	Delete(ctx context.Context, id string) error
}

// Publisher receives ledger events after the store accepted a change.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// Options selects the optional behaviours of a ledger.
type Options struct {
	UserID string
	// AutoClassify lets AddTask infer the difficulty from the title when none is given.
	AutoClassify bool
	// Scheduling accepts a scheduled time on new tasks.
	Scheduling bool
	Publisher  Publisher
	Logger     *log.Entry
	Now        func() time.Time
}

// Ledger owns the in-memory task set of one user session.
//
// Mutations and loads are serialized by ops, which is held across the store
// call. mu only guards the slice, so readers never wait on the network.
type Ledger struct {
	store Store
	opts  Options
	log   *log.Entry

	ops sync.Mutex

	mu     sync.RWMutex
	tasks  []domain.Task
	loaded bool
}

// New creates an empty ledger backed by store. Call Load to populate it.
func New(store Store, opts Options) *Ledger {
	if store == nil {
		panic("ledger.New: store is nil")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Ledger{
		store: store,
		opts:  opts,
		log:   logger.WithField("user", opts.UserID),
	}
}

// Load replaces the task set with a full read from the store. On failure the
// previous set is kept.
func (l *Ledger) Load(ctx context.Context) ([]domain.Task, error) {
	const op = "load tasks"
	l.ops.Lock()
	defer l.ops.Unlock()

	records, err := l.store.FetchAll(ctx)
	if err != nil {
		l.log.WithError(err).Error("fetch tasks failed")
		return nil, domain.FetchFailed(op, err)
	}

	tasks := make([]domain.Task, 0, len(records))
	seen := make(map[string]struct{}, len(records))
	for _, t := range records {
		if t.ID == "" {
			return nil, domain.FetchFailed(op, fmt.Errorf("record %q has no id", t.Title))
		}
		if !t.Difficulty.Valid() {
			return nil, domain.FetchFailed(op, fmt.Errorf("task %s has invalid difficulty %q", t.ID, t.Difficulty))
		}
		if _, dup := seen[t.ID]; dup {
			return nil, domain.FetchFailed(op, fmt.Errorf("task %s returned twice", t.ID))
		}
		seen[t.ID] = struct{}{}
		if stored := t.Points; t.Normalize() {
			l.log.WithFields(log.Fields{"task": t.ID, "stored": stored, "expected": t.Points}).Warn("task points drifted from difficulty")
		}
		tasks = append(tasks, t.Clone())
	}

	l.mu.Lock()
	l.tasks = tasks
	l.loaded = true
	l.mu.Unlock()

	l.log.WithField("count", len(tasks)).Debug("tasks loaded")
	return cloneTasks(tasks), nil
}

// AddTask validates the intent, persists a new task and appends the record
// returned by the store.
func (l *Ledger) AddTask(ctx context.Context, in domain.NewTask) (domain.Task, error) {
	const op = "add task"
	if domain.BlankTitle(in.Title) {
		return domain.Task{}, domain.Invalid(op, "title is empty")
	}
	d := in.Difficulty
	if d == "" {
		if !l.opts.AutoClassify {
			return domain.Task{}, domain.Invalid(op, "difficulty is required")
		}
		d = domain.ClassifyDifficulty(in.Title)
	}
	if !d.Valid() {
		return domain.Task{}, domain.Invalid(op, fmt.Sprintf("unknown difficulty %q", d))
	}
	if in.ScheduledTime != nil && !l.opts.Scheduling {
		return domain.Task{}, domain.Invalid(op, "scheduled time is not enabled")
	}

	l.ops.Lock()
	defer l.ops.Unlock()

	created, err := l.store.Insert(ctx, domain.NewDraft(in.Title, d, in.ScheduledTime))
	if err != nil {
		l.log.WithError(err).Error("insert task failed")
		return domain.Task{}, domain.PersistFailed(op, err)
	}
	if created.ID == "" || !created.Difficulty.Valid() {
		return domain.Task{}, domain.PersistFailed(op, fmt.Errorf("store returned an incomplete record"))
	}
	created.Normalize()

	l.mu.Lock()
	if indexOf(l.tasks, created.ID) >= 0 {
		l.mu.Unlock()
		return domain.Task{}, domain.PersistFailed(op, fmt.Errorf("store reused id %s", created.ID))
	}
	l.tasks = append(l.tasks, created.Clone())
	progress := domain.ComputeProgress(l.tasks)
	l.mu.Unlock()

	l.log.WithFields(log.Fields{"task": created.ID, "difficulty": created.Difficulty}).Info("task added")
	l.publish(ctx, domain.TaskCreated, created.ID, &created, progress)
	return created, nil
}

// ToggleCompletion flips the completed flag of a task. The local record only
// changes after the store accepted the update.
func (l *Ledger) ToggleCompletion(ctx context.Context, id string) (domain.Task, error) {
	const op = "toggle task"
	l.ops.Lock()
	defer l.ops.Unlock()

	l.mu.RLock()
	i := indexOf(l.tasks, id)
	var current domain.Task
	if i >= 0 {
		current = l.tasks[i]
	}
	before := domain.ComputeProgress(l.tasks)
	l.mu.RUnlock()
	if i < 0 {
		return domain.Task{}, domain.NotFound(op, id)
	}

	completed := !current.Completed
	updated, err := l.store.Update(ctx, id, domain.Patch{Completed: &completed})
	if err != nil {
		l.log.WithError(err).WithField("task", id).Error("update task failed")
		return domain.Task{}, domain.PersistFailed(op, err)
	}
	if updated.ID != id || !updated.Difficulty.Valid() {
		return domain.Task{}, domain.PersistFailed(op, fmt.Errorf("store returned a mismatched record for %s", id))
	}
	updated.Normalize()

	l.mu.Lock()
	if i = indexOf(l.tasks, id); i >= 0 {
		l.tasks[i] = updated.Clone()
	}
	after := domain.ComputeProgress(l.tasks)
	l.mu.Unlock()

	evType := domain.TaskReopened
	if updated.Completed {
		evType = domain.TaskCompleted
	}
	l.log.WithFields(log.Fields{"task": id, "completed": updated.Completed, "points": after.TotalPoints}).Info("task toggled")
	l.publish(ctx, evType, id, &updated, after)
	if after.Level > before.Level {
		l.log.WithField("level", after.Level).Info("level up")
		l.publish(ctx, domain.LevelUp, id, nil, after)
	}
	return updated, nil
}

// DeleteTask removes a task from the store and then from the local set.
func (l *Ledger) DeleteTask(ctx context.Context, id string) error {
	const op = "delete task"
	l.ops.Lock()
	defer l.ops.Unlock()

	l.mu.RLock()
	found := indexOf(l.tasks, id) >= 0
	l.mu.RUnlock()
	if !found {
		return domain.NotFound(op, id)
	}

	if err := l.store.Delete(ctx, id); err != nil {
		l.log.WithError(err).WithField("task", id).Error("delete task failed")
		return domain.PersistFailed(op, err)
	}

	l.mu.Lock()
	if i := indexOf(l.tasks, id); i >= 0 {
		l.tasks = append(l.tasks[:i:i], l.tasks[i+1:]...)
	}
	progress := domain.ComputeProgress(l.tasks)
	l.mu.Unlock()

	l.log.WithField("task", id).Info("task deleted")
	l.publish(ctx, domain.TaskDeleted, id, nil, progress)
	return nil
}

// Progress derives the summary from the current task set.
func (l *Ledger) Progress() domain.Progress {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return domain.ComputeProgress(l.tasks)
}

// Tasks returns a copy of the current task set in load and insertion order.
func (l *Ledger) Tasks() []domain.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneTasks(l.tasks)
}

// Task looks up a single task by id.
func (l *Ledger) Task(id string) (domain.Task, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i := indexOf(l.tasks, id); i >= 0 {
		return l.tasks[i].Clone(), true
	}
	return domain.Task{}, false
}

// Loaded reports whether a Load has succeeded at least once.
func (l *Ledger) Loaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

func (l *Ledger) publish(ctx context.Context, evType, taskID string, task *domain.Task, progress domain.Progress) {
	if l.opts.Publisher == nil {
		return
	}
	ev := domain.Event{
		ID:       uuid.NewString(),
		UserID:   l.opts.UserID,
		Type:     evType,
		TaskID:   taskID,
		Task:     task,
		Progress: progress,
		Time:     l.opts.Now().UTC(),
	}
	if err := l.opts.Publisher.Publish(ctx, ev); err != nil {
		l.log.WithError(err).WithFields(log.Fields{"event": evType, "task": taskID}).Warn("publish ledger event failed")
	}
}

func indexOf(tasks []domain.Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTasks(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, len(tasks))
	for i := range tasks {
		out[i] = tasks[i].Clone()
	}
	return out
}
