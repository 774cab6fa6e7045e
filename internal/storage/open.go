package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"autopost/internal/post"
	logx "autopost/pkg/logx"
)

// Store is the persistence API used by the orchestrator.
type Store interface {
	// Put inserts or replaces a post.
	Put(ctx context.Context, p *post.Post) error
	// Get returns ErrNotFound when id is unknown.
	Get(ctx context.Context, id string) (*post.Post, error)
	// List returns matching posts in dispatch order.
	List(ctx context.Context, f Filter) ([]*post.Post, error)
	// Due returns queued posts and scheduled posts due at now, in dispatch order.
	Due(ctx context.Context, now time.Time) ([]*post.Post, error)
	Delete(ctx context.Context, id string) error
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "memory", "mem":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql", "pg":
		return openPostgres(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
