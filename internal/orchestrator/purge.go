package orchestrator

import (
	"context"
	"errors"
	"time"

	"autopost/internal/post"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

// Purge deletes published and cancelled posts last updated before cutoff.
func (s *Service) Purge(ctx context.Context, before time.Time) (n int, err error) {
	started := time.Now()
	defer func() { s.audit(ctx, "purge", "", started, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	done, err := s.store.List(ctx, storage.Filter{Statuses: []post.Status{post.StatusPublished, post.StatusCancelled}})
	if err != nil {
		return 0, err
	}
	for _, p := range done {
		if !p.UpdatedAt.Before(before) {
			continue
		}
		if err := s.store.Delete(ctx, p.ID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return n, err
		}
		n++
	}
	if n > 0 {
		s.log.Info("purged finished posts", logx.Int("count", n), logx.Time("before", before))
	}
	return n, nil
}
