package orchestrator

import (
	"context"
	"fmt"

	"autopost/internal/post"
	"autopost/internal/publish"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

const interruptedMsg = "interrupted"

// Recover demotes posts left in publishing by a previous process to failed
// and hands them to the retry policy. The browser-side outcome of such an
// attempt is unknown, so it is never resumed. Start calls Recover before the
// first tick.
func (s *Service) Recover(ctx context.Context) error {
	all, err := s.store.List(ctx, storage.Filter{})
	if err != nil {
		return fmt.Errorf("recover: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	demoted := 0
	for _, p := range all {
		if p.CreatedAt.After(s.lastCreated) {
			s.lastCreated = p.CreatedAt
		}
		if p.Status != post.StatusPublishing || p.ID == s.inFlight {
			continue
		}
		s.failLocked(ctx, p, publish.KindTransientNetwork, interruptedMsg, now)
		demoted++
	}
	if demoted > 0 {
		s.log.Warn("demoted interrupted posts", logx.Int("count", demoted))
	}
	return nil
}
