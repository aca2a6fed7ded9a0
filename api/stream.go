package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
)

const streamKeepAlive = 25 * time.Second

// Broker fans progress updates out to the SSE streams of a user. It keeps
// only the latest update per stream.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[chan domain.Progress]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan domain.Progress]struct{})}
}

// Publish lets the broker receive ledger events directly.
func (b *Broker) Publish(_ context.Context, ev domain.Event) error {
	b.Notify(ev)
	return nil
}

// Notify pushes the progress carried by ev to the user's streams.
func (b *Broker) Notify(ev domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[ev.UserID] {
		select {
		case <-ch:
		default:
		}
		ch <- ev.Progress
	}
}

func (b *Broker) subscribe(userID string) chan domain.Progress {
	ch := make(chan domain.Progress, 1)
	b.mu.Lock()
	if b.subs[userID] == nil {
		b.subs[userID] = make(map[chan domain.Progress]struct{})
	}
	b.subs[userID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) unsubscribe(userID string, ch chan domain.Progress) {
	b.mu.Lock()
	delete(b.subs[userID], ch)
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of open streams of a user.
func (b *Broker) Subscribers(userID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

func streamProgress(reg *ledger.Registry, broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID := userFrom(c)
		l, err := reg.Get(ctx, userID)
		if err != nil {
			return ledgerError(c, err)
		}

		res := c.Response()
		res.Header().Set(echo.HeaderContentType, "text/event-stream")
		res.Header().Set(echo.HeaderCacheControl, "no-cache")
		res.Header().Set(echo.HeaderConnection, "keep-alive")
		res.Header().Set("X-Accel-Buffering", "no")
		flusher, ok := res.Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		ch := broker.subscribe(userID)
		defer broker.unsubscribe(userID, ch)

		res.WriteHeader(http.StatusOK)
		if err := writeProgressEvent(res, l.Progress()); err != nil {
			return err
		}
		flusher.Flush()

		ticker := time.NewTicker(streamKeepAlive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case p := <-ch:
				if err := writeProgressEvent(res, p); err != nil {
					return err
				}
			case <-ticker.C:
				if _, err := res.Write([]byte(": ping\n\n")); err != nil {
					return err
				}
			}
			flusher.Flush()
		}
	}
}

func writeProgressEvent(res *echo.Response, p domain.Progress) error {
	data, err := sonic.Marshal(p)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+24)
	buf = append(buf, "event: progress\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = res.Write(buf)
	return err
}
