package orchestrator

import (
	"context"
	"time"

	"autopost/internal/post"
	"autopost/internal/storage"
)

// Snapshot is a point-in-time view of the dispatcher.
type Snapshot struct {
	Paused        bool                `json:"paused"`
	AuthRequired  bool                `json:"auth_required"`
	Stopping      bool                `json:"stopping"`
	InFlight      string              `json:"in_flight,omitempty"`
	InFlightSince time.Time           `json:"in_flight_since,omitempty"`
	LastTick      time.Time           `json:"last_tick,omitempty"`
	Counts        map[post.Status]int `json:"counts"`
	NextDue       *time.Time          `json:"next_due,omitempty"`
	NextDueID     string              `json:"next_due_id,omitempty"`
	PacingUntil   *time.Time          `json:"pacing_until,omitempty"`
	PendingWrites int                 `json:"pending_writes,omitempty"`
}

// Status reports dispatcher state and post counts. It never waits for the
// dispatch slot.
func (s *Service) Status(ctx context.Context) (Snapshot, error) {
	now := s.now()
	s.mu.Lock()
	snap := Snapshot{
		Paused:        s.paused,
		AuthRequired:  s.authRequired,
		Stopping:      s.stopping,
		InFlight:      s.inFlight,
		InFlightSince: s.inFlightSince,
		LastTick:      s.lastTick,
		PendingWrites: len(s.unsaved),
	}
	s.mu.Unlock()

	if at := s.pacer.nextAt(now); at.After(now) {
		snap.PacingUntil = &at
	}

	all, err := s.store.List(ctx, storage.Filter{
		Statuses: []post.Status{post.StatusQueued, post.StatusScheduled},
	})
	if err != nil {
		return snap, err
	}
	if len(all) > 0 {
		due := all[0].DueAt()
		snap.NextDue = &due
		snap.NextDueID = all[0].ID
	}
	snap.Counts = make(map[post.Status]int, len(post.Statuses))
	for _, st := range post.Statuses {
		snap.Counts[st] = 0
	}
	every, err := s.store.List(ctx, storage.Filter{})
	if err != nil {
		return snap, err
	}
	for _, p := range every {
		snap.Counts[p.Status]++
	}
	return snap, nil
}
