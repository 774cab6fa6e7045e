package post

import (
	"slices"
	"time"
)

type Status string

const (
	StatusDraft      Status = "draft"
	StatusQueued     Status = "queued"
	StatusScheduled  Status = "scheduled"
	StatusPublishing Status = "publishing"
	StatusPublished  Status = "published"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in lifecycle order.
var Statuses = []Status{
	StatusDraft, StatusQueued, StatusScheduled, StatusPublishing,
	StatusPublished, StatusFailed, StatusCancelled,
}

func (s Status) Valid() bool { return slices.Contains(Statuses, s) }

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool { return s == StatusPublished || s == StatusCancelled }

// ErrorInfo describes the most recent failed attempt.
type ErrorInfo struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// HistoryEntry is one append-only record of a status change.
type HistoryEntry struct {
	At     time.Time `json:"at"`
	Status Status    `json:"status"`
	Note   string    `json:"note,omitempty"`
}

// Post is the unit of work moved through the publish lifecycle.
type Post struct {
	ID          string     `json:"id"`
	Content     string     `json:"content"`
	Media       []string   `json:"media,omitempty"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`
	Status      Status     `json:"status"`
	Attempts    int        `json:"attempts"`
	// RetryFrom is the Attempts value at which the current automatic-retry
	// budget started. User retries move it forward; Attempts never decreases.
	RetryFrom    int            `json:"retry_from"`
	LastError    *ErrorInfo     `json:"last_error,omitempty"`
	PublishedRef string         `json:"published_ref,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	PublishedAt  *time.Time     `json:"published_at,omitempty"`
	History      []HistoryEntry `json:"history"`
}

// Clone returns a deep copy so callers never share slices or pointers with
// the store's canonical record.
func (p *Post) Clone() *Post {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Media = slices.Clone(p.Media)
	cp.History = slices.Clone(p.History)
	if p.ScheduledAt != nil {
		t := *p.ScheduledAt
		cp.ScheduledAt = &t
	}
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		cp.PublishedAt = &t
	}
	if p.LastError != nil {
		e := *p.LastError
		cp.LastError = &e
	}
	return &cp
}

// BudgetAttempts is the number of attempts counted against the current
// automatic-retry budget.
func (p *Post) BudgetAttempts() int {
	n := p.Attempts - p.RetryFrom
	if n < 0 {
		return 0
	}
	return n
}

// DueAt is the ordering key for dispatch: ScheduledAt when present,
// CreatedAt otherwise.
func (p *Post) DueAt() time.Time {
	if p.ScheduledAt != nil {
		return *p.ScheduledAt
	}
	return p.CreatedAt
}

// IsDue reports whether the post is waiting for dispatch at now.
func (p *Post) IsDue(now time.Time) bool {
	switch p.Status {
	case StatusQueued:
		return true
	case StatusScheduled:
		return p.ScheduledAt != nil && !p.ScheduledAt.After(now)
	default:
		return false
	}
}

// Less orders posts earliest-due-first, then by creation, then by id.
func Less(a, b *Post) bool {
	da, db := a.DueAt(), b.DueAt()
	if !da.Equal(db) {
		return da.Before(db)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// Compare adapts Less for slices.SortFunc.
func Compare(a, b *Post) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}

// Excerpt shortens content for logs and notifications.
func Excerpt(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
