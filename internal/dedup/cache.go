// Package dedup provides the time-windowed suppression cache used to avoid
// alerting on the same workload more than once per window.
//
// Marks are written with an expiry and are never deleted explicitly: once a
// mark expires the next warning for the same key is treated as new.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbias/crashwatch/internal/config"
)

// Cache is a key/expiry store shared by every pipeline run.
type Cache interface {
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Exists reports whether an unexpired mark exists for key.
	Exists(ctx context.Context, key string) (bool, error)

	// SetWithExpiry marks key for ttl, replacing any earlier mark.
	SetWithExpiry(ctx context.Context, key string, ttl time.Duration) error

	// Close releases the backend's resources.
	Close() error
}

// New opens the cache backend selected by cfg.DedupBackend.
func New(ctx context.Context, cfg *config.Config) (Cache, error) {
	slog.Info("opening dedup cache", "backend", cfg.DedupBackend)

	switch cfg.DedupBackend {
	case config.DedupBackendRedis:
		return NewRedis(&RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), nil

	case config.DedupBackendBadger:
		return NewBadger(BadgerConfig{
			Path:   cfg.BadgerPath,
			Logger: slog.Default().With("component", "badger"),
		})

	case config.DedupBackendSQLite:
		return NewSQLite(ctx, &SQLiteConfig{Path: cfg.SQLitePath})

	case config.DedupBackendPostgres:
		return NewPostgres(ctx, &PostgresConfig{ConnectionString: cfg.PostgresURL})

	default:
		return nil, fmt.Errorf("unsupported dedup backend: %s", cfg.DedupBackend)
	}
}
