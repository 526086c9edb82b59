// Package app wires the server components together and owns their
// lifecycle: store, relay, retention sweeper, and the HTTP listener.
package app

import (
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"

	"draftwire/pkg/auth"
	"draftwire/pkg/config"
	"draftwire/pkg/logger"
	"draftwire/pkg/relay"
	"draftwire/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff       config.EffectiveConfigResult
	version   string
	commit    string
	buildDate string

	st      store.RoomStore
	rl      *relay.Relay
	limiter *auth.LimiterPool
	srv     *http.Server
	ready   atomic.Bool
}

// New initializes resources that do not require a running context (history
// store, relay, limiter). Call Run to start the relay loop, the retention
// sweeper, and the HTTP server, and to block until shutdown.
func New(eff config.EffectiveConfigResult, version, commit, buildDate string) (*App, error) {
	_ = godotenv.Load(".env")

	if err := validateConfig(eff); err != nil {
		return nil, err
	}

	st, err := openStore(eff)
	if err != nil {
		return nil, err
	}

	cfg := eff.Config
	rl := relay.New(st, relay.Options{
		QueueCapacity:  cfg.Relay.QueueCapacity,
		BacklogLimit:   cfg.Relay.BacklogLimit,
		MaxPacketBytes: int(cfg.Relay.MaxPacketBytes.Int64()),
	})
	limiter := auth.NewLimiterPool(auth.LimitConfig{
		RPS:   cfg.Security.RateLimit.RPS,
		Burst: cfg.Security.RateLimit.Burst,
	})

	return &App{
		eff:       eff,
		version:   version,
		commit:    commit,
		buildDate: buildDate,
		st:        st,
		rl:        rl,
		limiter:   limiter,
	}, nil
}

// openStore picks the history backend from the effective config.
func openStore(eff config.EffectiveConfigResult) (store.RoomStore, error) {
	switch eff.Config.StorageBackend() {
	case "memory":
		logger.Info("store_backend", "backend", "memory")
		return store.NewMemoryStore(), nil
	case "pebble":
		if eff.DBPath == "" {
			return nil, fmt.Errorf("pebble backend requires a db path: set --db, DRAFTWIRE_DB_PATH, or storage.db_path")
		}
		st, err := store.OpenPebble(eff.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
		}
		logger.Info("store_backend", "backend", "pebble", "path", eff.DBPath)
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", eff.Config.Storage.Backend)
	}
}

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	switch b := eff.Config.StorageBackend(); b {
	case "memory", "pebble":
	default:
		return fmt.Errorf("storage.backend must be memory or pebble, got %q", b)
	}
	if eff.Config.Retention.Enabled {
		if c := strings.TrimSpace(eff.Config.Retention.Cron); c != "" && strings.Count(c, " ") < 4 {
			return fmt.Errorf("retention.cron %q is not a five-field cron expression", c)
		}
	}
	return nil
}
