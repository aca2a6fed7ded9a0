// Package config reads the service configuration from the environment.
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store backends.
const (
	BackendTables   = "tables"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config is the whole runtime configuration.
type Config struct {
	StoreBackend string

	StorageConnectionString string
	TasksTable              string
	SettingsTable           string
	EventsQueue             string

	DatabaseURL string

	RedisConnectionString string
	CacheTTL              time.Duration
	DeduperTTL            time.Duration
	EventsChannel         string

	AutoClassify bool
	Scheduling   bool

	// LedgerIdleTTL drops a user's cached ledger after this long without
	// requests. Zero keeps ledgers for the life of the process.
	LedgerIdleTTL time.Duration

	Auth0Domain   string
	Auth0Audience string
	LocalAuthMode string
	LocalSecret   string

	EventWorkers int
	EventBuffer  int

	ListenAddr string
	Debug      bool
	LogFormat  string
}

// Load reads and validates the environment.
func Load() (Config, error) {
	cfg := Config{
		StoreBackend:  envOr("STORE_BACKEND", BackendTables),
		TasksTable:    envOr("TASKS_TABLE", "Tasks"),
		SettingsTable: envOr("SETTINGS_TABLE", "Settings"),
		EventsQueue:   os.Getenv("EVENTS_QUEUE"),

		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisConnectionString:   os.Getenv("REDIS_CONNECTION_STRING"),
		EventsChannel:           envOr("EVENTS_CHANNEL", "ledger-events"),

		Auth0Domain:   os.Getenv("AUTH0_DOMAIN"),
		Auth0Audience: os.Getenv("AUTH0_AUDIENCE"),
		LocalAuthMode: strings.ToLower(os.Getenv("LOCAL_AUTH_MODE")),
		LocalSecret:   os.Getenv("LOCAL_AUTH_SHARED_SECRET"),

		ListenAddr: ":8080",
		LogFormat:  strings.ToLower(envOr("LOG_FORMAT", "text")),
	}
	if v, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok && v != "" {
		cfg.ListenAddr = ":" + v
	} else if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}

	var err error
	if cfg.CacheTTL, err = envDuration("CACHE_TTL", 10*time.Minute, true); err != nil {
		return Config{}, err
	}
	if cfg.DeduperTTL, err = envDuration("DEDUPER_TTL", 24*time.Hour, false); err != nil {
		return Config{}, err
	}
	if cfg.LedgerIdleTTL, err = envDuration("LEDGER_IDLE_TTL", 30*time.Minute, true); err != nil {
		return Config{}, err
	}
	if cfg.AutoClassify, err = envBool("AUTO_CLASSIFY", true); err != nil {
		return Config{}, err
	}
	if cfg.Scheduling, err = envBool("SCHEDULING", false); err != nil {
		return Config{}, err
	}
	if cfg.Debug, err = envBool("DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.EventWorkers, err = envInt("EVENT_WORKERS", 4); err != nil {
		return Config{}, err
	}
	if cfg.EventBuffer, err = envInt("EVENT_BUFFER", 1024); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreBackend {
	case BackendTables:
		if c.StorageConnectionString == "" {
			return errors.New("missing STORAGE_CONNECTION_STRING")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("missing DATABASE_URL")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("invalid STORE_BACKEND %q: want tables, postgres or memory", c.StoreBackend)
	}
	if c.EventsQueue != "" && c.StorageConnectionString == "" {
		return errors.New("EVENTS_QUEUE requires STORAGE_CONNECTION_STRING")
	}
	switch c.LocalAuthMode {
	case "":
		if c.Auth0Domain == "" || c.Auth0Audience == "" {
			return errors.New("missing Auth0 config")
		}
	case "hs256":
		if c.LocalSecret == "" {
			return errors.New("missing LOCAL_AUTH_SHARED_SECRET")
		}
	default:
		return fmt.Errorf("invalid LOCAL_AUTH_MODE %q", c.LocalAuthMode)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid LOG_FORMAT %q", c.LogFormat)
	}
	return nil
}

// RedisOptions parses either a redis:// URL or an Azure style
// "host:port,password=...,ssl=true" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return n, nil
}

func envDuration(key string, def time.Duration, allowZero bool) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s: %v", key, d)
	}
	return d, nil
}
