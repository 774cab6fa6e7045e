package post

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[Status][]Status{
	StatusDraft:      {StatusQueued, StatusScheduled, StatusCancelled},
	StatusQueued:     {StatusPublishing, StatusCancelled},
	StatusScheduled:  {StatusPublishing, StatusCancelled},
	StatusPublishing: {StatusPublished, StatusFailed},
	StatusFailed:     {StatusQueued, StatusScheduled, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves p to status to, appends a history entry and keeps the
// ScheduledAt / PublishedAt invariants. when is required for StatusScheduled.
func (p *Post) Transition(to Status, at time.Time, note string, when *time.Time) error {
	if !CanTransition(p.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	if to == StatusScheduled {
		if when == nil {
			return fmt.Errorf("%w: scheduled requires a time", ErrInvalidTransition)
		}
		t := *when
		p.ScheduledAt = &t
	} else {
		p.ScheduledAt = nil
	}
	if to == StatusPublished {
		t := at
		p.PublishedAt = &t
	}
	p.Status = to
	p.UpdatedAt = at
	p.History = append(p.History, HistoryEntry{At: at, Status: to, Note: note})
	return nil
}
