package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

var errMissingRow = errors.New("row not found")

type fakeStore struct {
	mu     sync.Mutex
	tasks  []domain.Task
	nextID int

	fetchErr  error
	insertErr error
	updateErr error
	deleteErr error

	insertFn func(domain.Draft) (domain.Task, error)

	fetchCalls  int
	insertCalls int
	updateCalls int
	deleteCalls int
	lastPatch   domain.Patch
}

func (f *fakeStore) FetchAll(ctx context.Context) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]domain.Task, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func (f *fakeStore) Insert(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls++
	if f.insertErr != nil {
		return domain.Task{}, f.insertErr
	}
	if f.insertFn != nil {
		t, err := f.insertFn(draft)
		if err == nil {
			f.tasks = append(f.tasks, t)
		}
		return t, err
	}
	f.nextID++
	t := domain.Task{
		ID:            fmt.Sprintf("t%d", f.nextID),
		Title:         draft.Title,
		Difficulty:    draft.Difficulty,
		Completed:     draft.Completed,
		Points:        draft.Points,
		ScheduledTime: draft.ScheduledTime,
	}
	f.tasks = append(f.tasks, t)
	return t, nil
}

func (f *fakeStore) Update(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	f.lastPatch = patch
	if f.updateErr != nil {
		return domain.Task{}, f.updateErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID != id {
			continue
		}
		if patch.Completed != nil {
			f.tasks[i].Completed = *patch.Completed
		}
		return f.tasks[i], nil
	}
	return domain.Task{}, errMissingRow
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return errMissingRow
}

func (f *fakeStore) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.insertCalls + f.updateCalls + f.deleteCalls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *fakePublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, ev := range p.events {
		out[i] = ev.Type
	}
	return out
}
