package storage

import (
	"errors"
	"time"

	"autopost/internal/post"
)

var (
	ErrNotFound = errors.New("post not found")
	ErrClosed   = errors.New("storage closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "file": Path is the snapshot file; journal and audit live next to it
//   - "sqlite": Path is the database file
//   - "postgres": DSN is a lib/pq connection string
type Config struct {
	Driver       string
	Path         string
	DSN          string
	BusyTimeout  time.Duration // sqlite only; 0 means default
	MaxOpenConns int           // postgres only; 0 means default
}

// Filter narrows List results. Zero value matches every post.
type Filter struct {
	Statuses []post.Status
	Limit    int
}

func (f Filter) match(p *post.Post) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if p.Status == s {
			return true
		}
	}
	return false
}

// AuditEntry records one lifecycle command.
// Keep it compact and schema-stable.
type AuditEntry struct {
	At     time.Time `json:"at"`
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	PostID string    `json:"post_id,omitempty"`
	OK     bool      `json:"ok"`
	Error  string    `json:"error,omitempty"`
	TookMS int64     `json:"took_ms"`
}
