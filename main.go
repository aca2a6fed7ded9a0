package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/galsolomon2002/gamified-todo-app/api"
	"github.com/galsolomon2002/gamified-todo-app/config"
	"github.com/galsolomon2002/gamified-todo-app/domain"
	"github.com/galsolomon2002/gamified-todo-app/events"
	"github.com/galsolomon2002/gamified-todo-app/ledger"
	"github.com/galsolomon2002/gamified-todo-app/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.New()
	if cfg.Debug {
		logger.SetLevel(log.DebugLevel)
	}
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&log.JSONFormatter{})
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	backend, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatalf("storage: %v", err)
	}
	defer closeBackend()

	var rc *redis.Client
	if cfg.RedisConnectionString != "" {
		opts, err := config.RedisOptions(cfg.RedisConnectionString)
		if err != nil {
			logger.Fatalf("redis: %v", err)
		}
		rc = redis.NewClient(opts)
		defer rc.Close()
	}
	cache := storage.NewCache(backend, rc, cfg.CacheTTL)

	broker := api.NewBroker()
	var sinks events.Fanout
	if rc != nil {
		sinks = append(sinks, events.NewRedisPublisher(rc, cfg.EventsChannel))
		// Every instance, this one included, feeds its streams from the channel.
		go events.Subscribe(ctx, logger.WithField("component", "subscriber"), rc, cfg.EventsChannel, func(ev domain.Event) {
			broker.Notify(ev)
		})
	} else {
		sinks = append(sinks, broker)
	}
	if cfg.EventsQueue != "" {
		qp, err := events.NewQueuePublisher(cfg.StorageConnectionString, cfg.EventsQueue)
		if err != nil {
			logger.Fatalf("events queue: %v", err)
		}
		sinks = append(sinks, qp)
	}
	dispatcher := events.NewDispatcher(sinks, events.DispatcherConfig{
		Workers: cfg.EventWorkers,
		Buffer:  cfg.EventBuffer,
	}, logger)

	registry := ledger.NewRegistry(func(userID string) ledger.Store {
		return storage.ForUser(cache, userID)
	}, ledger.Options{
		AutoClassify: cfg.AutoClassify,
		Scheduling:   cfg.Scheduling,
		Publisher:    dispatcher,
		Logger:       logger.WithField("component", "ledger"),
	})
	go registry.RunEvictor(ctx, cfg.LedgerIdleTTL, time.Minute)

	auth, err := newAuth(cfg)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	var deduper api.Deduper
	if rc != nil {
		deduper = api.NewRedisDeduper(rc, cfg.DeduperTTL)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
	}))
	api.Register(e, api.Deps{
		Ledgers: registry,
		Rewards: cache,
		Auth:    auth,
		Deduper: deduper,
		Broker:  broker,
		Logger:  logger,
	})

	go func() {
		logger.WithFields(log.Fields{"addr": cfg.ListenAddr, "backend": cfg.StoreBackend}).Info("listening")
		if err := e.Start(cfg.ListenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	dispatcher.Close()
	if err := tp.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("tracer shutdown failed")
	}
}

func openBackend(ctx context.Context, cfg config.Config) (storage.Backend, func(), error) {
	switch cfg.StoreBackend {
	case config.BackendTables:
		s, err := storage.NewTableStorage(cfg.StorageConnectionString, cfg.TasksTable, cfg.SettingsTable)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	case config.BackendPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		s := storage.NewPgStorage(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, pool.Close, nil
	case config.BackendMemory:
		return storage.NewMemoryStorage(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newAuth(cfg config.Config) (*api.Auth, error) {
	if cfg.LocalAuthMode == "hs256" {
		return api.NewLocalAuth([]byte(cfg.LocalSecret), cfg.Auth0Audience, ""), nil
	}
	jwks, err := keyfunc.Get(fmt.Sprintf("https://%s/.well-known/jwks.json", cfg.Auth0Domain), keyfunc.Options{
		RefreshInterval: time.Hour,
	})
	if err != nil {
		return nil, err
	}
	return api.NewAuth(jwks, cfg.Auth0Audience, "https://"+cfg.Auth0Domain+"/"), nil
}
