package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
)

const (
	maxBodySize       = 16 << 10
	idempotencyHeader = "Idempotency-Key"

	ctxMetricsKey = "ledger.metrics"
	ctxUserKey    = "ledger.user"
)

// Deps are the collaborators of the HTTP handlers.
type Deps struct {
	Ledgers *ledger.Registry
	Rewards RewardsStore
	Auth    Authenticator
	// Deduper is optional; without it Idempotency-Key headers are ignored.
	Deduper Deduper
	Broker  *Broker
	Logger  *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Ledgers == nil || d.Rewards == nil || d.Auth == nil || d.Logger == nil {
		panic("api.Register: missing dependency")
	}
	if d.Broker == nil {
		d.Broker = NewBroker()
	}

	g := e.Group("/api", observe(d.Logger))
	authed := authenticate(d.Auth, false)
	g.GET("/tasks", listTasks(d.Ledgers), authed)
	g.POST("/tasks", createTask(d.Ledgers, d.Deduper, d.Logger), authed)
	g.POST("/tasks/:id/toggle", toggleTask(d.Ledgers), authed)
	g.DELETE("/tasks/:id", deleteTask(d.Ledgers), authed)
	g.GET("/progress", getProgress(d.Ledgers), authed)
	g.POST("/classify", classify(), authed)
	g.GET("/rewards", getRewards(d.Rewards), authed)
	g.PUT("/rewards", putRewards(d.Rewards), authed)
	g.GET("/rewards/suggestions", rewardSuggestions(), authed)
	// EventSource cannot set headers, so the stream also accepts ?token=.
	g.GET("/stream", streamProgress(d.Ledgers, d.Broker), authenticate(d.Auth, true))
	e.GET("/healthz", healthz)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func observe(logger *log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			m, ctx := newRequestMetrics(req.Context(), logger, req.Method, c.Path())
			c.SetRequest(req.WithContext(ctx))
			c.Set(ctxMetricsKey, m)

			err := next(c)
			status := c.Response().Status
			var he *echo.HTTPError
			if errors.As(err, &he) {
				status = he.Code
			} else if err != nil && !c.Response().Committed {
				status = http.StatusInternalServerError
			}
			m.Log(status, err)
			return err
		}
	}
}

func authenticate(auth Authenticator, allowQueryToken bool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			m := metricsFrom(c)
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" && allowQueryToken {
				if token := c.QueryParam("token"); token != "" {
					header = "Bearer " + token
				}
			}
			start := time.Now()
			userID, err := auth.UserIDFromAuthHeader(header)
			m.ObserveAuth(time.Since(start))
			if err != nil {
				m.SetErrorStage("auth")
				return c.String(http.StatusUnauthorized, err.Error())
			}
			c.Set(ctxUserKey, userID)
			return next(c)
		}
	}
}

func metricsFrom(c echo.Context) *requestMetrics {
	m, _ := c.Get(ctxMetricsKey).(*requestMetrics)
	return m
}

func userFrom(c echo.Context) string {
	id, _ := c.Get(ctxUserKey).(string)
	return id
}

// statusFor maps a ledger failure kind to an HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.ErrValidationFailed:
		return http.StatusBadRequest
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrFetchFailed, domain.ErrPersistFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ledgerError writes err without exposing store causes to the client.
func ledgerError(c echo.Context, err error) error {
	status := statusFor(err)
	m := metricsFrom(c)
	m.SetErrorStage("ledger")
	m.SetError(err)

	msg := err.Error()
	var le *domain.Error
	if errors.As(err, &le) && le.Cause != nil {
		msg = le.Op + ": " + le.Kind.Error()
	}
	return c.String(status, msg)
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, maxBodySize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func badBody(c echo.Context, err error) error {
	m := metricsFrom(c)
	m.SetErrorStage("decode")
	m.SetError(err)
	return c.String(http.StatusBadRequest, "invalid body")
}

func listTasks(reg *ledger.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		start := time.Now()
		_, tasks, err := reg.Reload(c.Request().Context(), userFrom(c))
		m.ObserveLedger(time.Since(start))
		if err != nil {
			return ledgerError(c, err)
		}
		m.SetTasksReturned(len(tasks))
		return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks, Progress: domain.ComputeProgress(tasks)})
	}
}

func createTask(reg *ledger.Registry, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := metricsFrom(c)
		userID := userFrom(c)

		var in domain.NewTask
		if err := decodeBody(c, &in); err != nil {
			return badBody(c, err)
		}
		if in.Difficulty != "" {
			if d, err := domain.ParseDifficulty(string(in.Difficulty)); err == nil {
				in.Difficulty = d
			}
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, userID, key)
			if err != nil {
				m.SetErrorStage("idempotency")
				m.SetError(err)
				return c.String(http.StatusServiceUnavailable, "idempotency store unavailable")
			}
			if !added {
				m.SetErrorStage("duplicate")
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		start := time.Now()
		l, err := reg.Get(ctx, userID)
		var task domain.Task
		if err == nil {
			task, err = l.AddTask(ctx, in)
		}
		m.ObserveLedger(time.Since(start))
		if err != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
					logger.WithError(rerr).WithFields(log.Fields{"user": userID, "key": key}).Error("dedupe rollback failed")
				}
			}
			return ledgerError(c, err)
		}
		return c.JSON(http.StatusCreated, taskResponse{Task: task, Progress: l.Progress()})
	}
}

func toggleTask(reg *ledger.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := metricsFrom(c)
		start := time.Now()
		l, err := reg.Get(ctx, userFrom(c))
		var task domain.Task
		if err == nil {
			task, err = l.ToggleCompletion(ctx, c.Param("id"))
		}
		m.ObserveLedger(time.Since(start))
		if err != nil {
			return ledgerError(c, err)
		}
		return c.JSON(http.StatusOK, taskResponse{Task: task, Progress: l.Progress()})
	}
}

func deleteTask(reg *ledger.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		m := metricsFrom(c)
		start := time.Now()
		l, err := reg.Get(ctx, userFrom(c))
		if err == nil {
			err = l.DeleteTask(ctx, c.Param("id"))
		}
		m.ObserveLedger(time.Since(start))
		if err != nil {
			return ledgerError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func getProgress(reg *ledger.Registry) echo.HandlerFunc {
	return func(c echo.Context) error {
		l, err := reg.Get(c.Request().Context(), userFrom(c))
		if err != nil {
			return ledgerError(c, err)
		}
		return c.JSON(http.StatusOK, l.Progress())
	}
}

func classify() echo.HandlerFunc {
	return func(c echo.Context) error {
		var req classifyRequest
		if err := decodeBody(c, &req); err != nil {
			return badBody(c, err)
		}
		if domain.BlankTitle(req.Title) {
			return c.String(http.StatusBadRequest, "title is empty")
		}
		d := domain.ClassifyDifficulty(req.Title)
		return c.JSON(http.StatusOK, classifyResponse{Difficulty: d, Points: domain.PointsOf(d)})
	}
}

func getRewards(store RewardsStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		rewards, err := store.FetchRewards(c.Request().Context(), userFrom(c))
		if err != nil {
			return ledgerError(c, domain.FetchFailed("get rewards", err))
		}
		return c.JSON(http.StatusOK, rewards)
	}
}

func putRewards(store RewardsStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.Rewards
		if err := decodeBody(c, &in); err != nil {
			return badBody(c, err)
		}
		rewards, err := in.Clean()
		if err != nil {
			return ledgerError(c, err)
		}
		if err := store.SaveRewards(c.Request().Context(), userFrom(c), rewards); err != nil {
			return ledgerError(c, domain.PersistFailed("save rewards", err))
		}
		return c.JSON(http.StatusOK, rewards)
	}
}

func rewardSuggestions() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, suggestionsResponse{Small: domain.SuggestedSmallRewards, Big: domain.SuggestedBigRewards})
	}
}
