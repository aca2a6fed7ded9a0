package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

// StoreFactory returns the store view of a single user.
type StoreFactory func(userID string) Store

type registryEntry struct {
	ledger   *Ledger
	lastUsed time.Time
}

// Registry keeps one loaded ledger per user. Ledgers that go unused are
// dropped by EvictIdle and reloaded from the store on the next lookup.
type Registry struct {
	factory StoreFactory
	opts    Options
	now     func() time.Time

	mu      sync.Mutex
	ledgers map[string]*registryEntry
}

// NewRegistry creates a registry. opts is copied into every ledger with the
// user id filled in.
func NewRegistry(factory StoreFactory, opts Options) *Registry {
	if factory == nil {
		panic("ledger.NewRegistry: store factory is nil")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{factory: factory, opts: opts, now: now, ledgers: make(map[string]*registryEntry)}
}

// Get returns the user's ledger, loading it on first use. A ledger whose first
// load failed is not kept.
func (r *Registry) Get(ctx context.Context, userID string) (*Ledger, error) {
	l, _, err := r.get(ctx, userID)
	return l, err
}

// Reload returns the user's ledger after a fresh read from the store. A ledger
// created by this call is only read once.
func (r *Registry) Reload(ctx context.Context, userID string) (*Ledger, []domain.Task, error) {
	l, created, err := r.get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if created {
		return l, l.Tasks(), nil
	}
	tasks, err := l.Load(ctx)
	if err != nil {
		return nil, nil, err
	}
	return l, tasks, nil
}

func (r *Registry) get(ctx context.Context, userID string) (*Ledger, bool, error) {
	r.mu.Lock()
	if e, ok := r.ledgers[userID]; ok {
		e.lastUsed = r.now()
		r.mu.Unlock()
		return e.ledger, false, nil
	}
	r.mu.Unlock()

	opts := r.opts
	opts.UserID = userID
	l := New(r.factory(userID), opts)
	if _, err := l.Load(ctx); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.ledgers[userID]; ok {
		e.lastUsed = r.now()
		return e.ledger, false, nil
	}
	r.ledgers[userID] = &registryEntry{ledger: l, lastUsed: r.now()}
	return l, true, nil
}

// Forget drops the cached ledger of a user.
func (r *Registry) Forget(userID string) {
	r.mu.Lock()
	delete(r.ledgers, userID)
	r.mu.Unlock()
}

// EvictIdle drops every ledger not looked up within maxIdle and returns how
// many were dropped.
func (r *Registry) EvictIdle(maxIdle time.Duration) int {
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for userID, e := range r.ledgers {
		if e.lastUsed.Before(cutoff) {
			delete(r.ledgers, userID)
			n++
		}
	}
	return n
}

// RunEvictor calls EvictIdle every interval until ctx is done. A non-positive
// maxIdle keeps ledgers for the life of the process.
func (r *Registry) RunEvictor(ctx context.Context, maxIdle, interval time.Duration) {
	if maxIdle <= 0 {
		return
	}
	if interval <= 0 {
		interval = maxIdle
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.EvictIdle(maxIdle); n > 0 && r.opts.Logger != nil {
				r.opts.Logger.WithField("evicted", n).Debug("idle ledgers dropped")
			}
		}
	}
}

// Len returns the number of cached ledgers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ledgers)
}
