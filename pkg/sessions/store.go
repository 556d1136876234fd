// Package sessions persists conversation snapshots between turns, with
// in-memory, SQLite and Redis backends.
package sessions

import (
	"context"
	"fmt"
	"time"

	"github.com/cobrance/lucia/pkg/negotiation"
)

// Store keeps one snapshot per session id. Get returns ok=false for
// unknown sessions; DeleteExpired reaps sessions idle longer than ttl.
type Store interface {
	Get(ctx context.Context, sessionID string) (negotiation.Snapshot, bool, error)
	Put(ctx context.Context, sessionID string, snap negotiation.Snapshot) error
	Delete(ctx context.Context, sessionID string) error
	DeleteExpired(ctx context.Context, ttl time.Duration) (int, error)
	Close() error
}

// Config mirrors config.SessionsConfig without importing it.
type Config struct {
	Backend    string
	SQLitePath string
	RedisAddr  string
}

// New builds the store selected by cfg.Backend.
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.SQLitePath)
	case "redis":
		return NewRedisStore(cfg.RedisAddr), nil
	}
	return nil, fmt.Errorf("unknown sessions backend %q", cfg.Backend)
}
