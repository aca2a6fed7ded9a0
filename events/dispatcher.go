package events

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/galsolomon2002/gamified-todo-app/domain"
)

var (
	// ErrDispatcherSaturated is returned when the buffer stayed full for the
	// whole handoff window.
	ErrDispatcherSaturated = errors.New("events: dispatcher saturated")
	ErrDispatcherClosed    = errors.New("events: dispatcher closed")
)

// DispatcherConfig sizes the worker pool.
type DispatcherConfig struct {
	Workers int
	Buffer  int
	// Timeout bounds a single delivery to the inner publisher.
	Timeout time.Duration
	// Handoff is how long Publish waits for buffer space.
	Handoff time.Duration
}

func (c DispatcherConfig) withDefaults() DispatcherConfig {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.Buffer < 0 {
		c.Buffer = 0
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

type job struct {
	ctx context.Context
	ev  domain.Event
}

// Dispatcher hands events to a fixed set of workers so publishing never holds
// up the request that produced them.
type Dispatcher struct {
	inner Publisher
	cfg   DispatcherConfig
	log   *log.Logger

	mu     sync.RWMutex
	closed bool
	jobs   chan job
	wg     sync.WaitGroup
}

func NewDispatcher(inner Publisher, cfg DispatcherConfig, logger *log.Logger) *Dispatcher {
	if inner == nil {
		panic("events.NewDispatcher: publisher is nil")
	}
	if logger == nil {
		panic("events.NewDispatcher: logger is nil")
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		inner: inner,
		cfg:   cfg,
		log:   logger,
		jobs:  make(chan job, cfg.Buffer),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.Handoff)
	return d
}

// Publish queues ev for delivery. Values carried by ctx are kept but its
// cancellation is not, so delivery outlives the request.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.Event) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}

	j := job{ctx: context.WithoutCancel(ctx), ev: ev}
	select {
	case d.jobs <- j:
		return nil
	default:
	}
	if d.cfg.Handoff <= 0 {
		return ErrDispatcherSaturated
	}

	timer := time.NewTimer(d.cfg.Handoff)
	defer timer.Stop()
	select {
	case d.jobs <- j:
		return nil
	case <-timer.C:
		return ErrDispatcherSaturated
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()
	for j := range d.jobs {
		ctx, cancel := context.WithTimeout(j.ctx, d.cfg.Timeout)
		err := d.inner.Publish(ctx, j.ev)
		cancel()
		if err != nil {
			d.log.WithError(err).WithFields(log.Fields{
				"event":  j.ev.Type,
				"user":   j.ev.UserID,
				"task":   j.ev.TaskID,
				"worker": id,
			}).Error("publish event failed")
		}
	}
}
