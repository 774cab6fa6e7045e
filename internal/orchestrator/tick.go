package orchestrator

import (
	"context"
	"fmt"
	"time"

	"autopost/internal/post"
	"autopost/internal/publish"
	logx "autopost/pkg/logx"
)

// Tick runs one dispatch round: it claims at most one due post and, if it
// did, publishes it before returning. Overlapping calls return immediately.
func (s *Service) Tick(ctx context.Context) (dispatched bool, err error) {
	if !s.tickMu.TryLock() {
		return false, nil
	}
	defer s.tickMu.Unlock()

	s.mu.Lock()
	s.lastTick = s.now()
	err = s.flushUnsavedLocked(ctx)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	p, actx, err := s.claim(ctx)
	if err != nil || p == nil {
		return false, err
	}
	s.attempt(actx, p)
	return true, nil
}

// gateLocked reports why dispatch is withheld, or "" when it may proceed.
func (s *Service) gateLocked(now time.Time) string {
	switch {
	case s.stopping:
		return "stopping"
	case s.paused:
		return "paused"
	case s.inFlight != "":
		return "busy"
	case !s.pacer.ready(now):
		return "pacing"
	}
	return ""
}

// claim picks the earliest due post and moves it to publishing. The returned
// context bounds the attempt; Stop can cancel it as soon as claim returns.
func (s *Service) claim(ctx context.Context) (*post.Post, context.Context, error) {
	now := s.now()
	s.mu.Lock()
	gate := s.gateLocked(now)
	s.mu.Unlock()
	if gate != "" {
		if gate == "stopping" {
			return nil, nil, ErrStopped
		}
		return nil, nil, nil
	}

	due, err := s.store.Due(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("load due posts: %w", err)
	}
	if len(due) == 0 {
		return nil, nil, nil
	}
	if !s.checkSession(ctx) {
		return nil, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now = s.now()
	if gate := s.gateLocked(now); gate != "" {
		return nil, nil, nil
	}
	// Commands may have changed the queue while the session was checked.
	due, err = s.store.Due(ctx, now)
	if err != nil {
		return nil, nil, fmt.Errorf("load due posts: %w", err)
	}
	if len(due) == 0 {
		return nil, nil, nil
	}
	p := due[0]
	from := p.Status
	if err := p.Transition(post.StatusPublishing, now, fmt.Sprintf("attempt %d", p.Attempts+1), nil); err != nil {
		return nil, nil, err
	}
	p.Attempts++
	if err := s.store.Put(ctx, p); err != nil {
		return nil, nil, fmt.Errorf("claim %s: %w", p.ID, err)
	}
	s.inFlight = p.ID
	s.inFlightSince = now
	s.inFlightDone = make(chan struct{})
	// The attempt outlives a cancelled tick; only Stop or the timeout end it.
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config().PublishTimeout)
	s.attemptCancel = cancel
	s.pacer.dispatched(now)
	s.emitStatus(p, from, "")
	return p, actx, nil
}

// checkSession asks the port whether the session can publish and raises or
// clears the auth gate on change.
func (s *Service) checkSession(ctx context.Context) bool {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	healthy := s.port.IsSessionHealthy(cctx)
	cancel()
	s.setAuthRequired(!healthy, "session check")
	return healthy
}

func (s *Service) setAuthRequired(required bool, reason string) {
	s.mu.Lock()
	changed := s.authRequired != required
	s.authRequired = required
	s.mu.Unlock()
	if !changed {
		return
	}
	if required {
		s.log.Warn("authentication required; dispatch withheld", logx.String("reason", reason))
		s.emit(post.EventAuthRequired, reason)
		return
	}
	s.log.Info("session restored")
	s.emit(post.EventSessionOK, reason)
}

type attemptResult struct {
	ref publish.Ref
	err error
}

// attempt publishes a claimed post and records the outcome. The slot is
// released on every path.
func (s *Service) attempt(actx context.Context, p *post.Post) {
	s.mu.Lock()
	done, cancel := s.inFlightDone, s.attemptCancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.inFlight = ""
		s.inFlightSince = time.Time{}
		s.inFlightDone = nil
		s.attemptCancel = nil
		s.mu.Unlock()
		if done != nil {
			close(done)
		}
	}()

	start := time.Now()
	var res attemptResult
	if err := s.checkMedia(p); err != nil {
		res.err = publish.Fail(publish.KindValidation, err)
	} else {
		res = s.callPort(actx, p)
	}
	s.log.Debug("publish attempt finished",
		logx.String("post_id", p.ID),
		logx.Int("attempt", p.Attempts),
		logx.Duration("took", time.Since(start)),
		logx.Err(res.err),
	)
	s.finish(actx, p, res)
}

// callPort bounds the port call by ctx even if the adapter ignores it. A
// result that arrives after the deadline is dropped.
func (s *Service) callPort(ctx context.Context, p *post.Post) attemptResult {
	ch := make(chan attemptResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("publish port panicked", logx.String("post_id", p.ID), logx.Any("panic", r))
				ch <- attemptResult{err: publish.Failf(publish.KindTransientNetwork, "publisher panic: %v", r)}
			}
		}()
		ref, err := s.port.Publish(ctx, publish.Content{PostID: p.ID, Text: p.Content, Media: p.Media})
		ch <- attemptResult{ref: ref, err: err}
	}()
	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		return attemptResult{err: publish.Fail(publish.KindTransientNetwork, fmt.Errorf("publish: %w", ctx.Err()))}
	}
}

// finish records the attempt outcome. An outcome the store rejects is kept
// in memory and written by the next tick before anything else is dispatched.
func (s *Service) finish(ctx context.Context, p *post.Post, res attemptResult) {
	wctx := context.WithoutCancel(ctx)
	kind := ""
	if res.err != nil {
		kind = publish.Classify(res.err)
	}

	s.mu.Lock()
	now := s.now()
	if res.err == nil {
		s.publishedLocked(wctx, p, res.ref, now)
	} else {
		s.failLocked(wctx, p, kind, res.err.Error(), now)
	}
	s.mu.Unlock()

	if kind == publish.KindSessionExpired {
		s.setAuthRequired(true, "session expired during publish")
	}
}

func (s *Service) publishedLocked(ctx context.Context, p *post.Post, ref publish.Ref, now time.Time) {
	p.PublishedRef = string(ref)
	if err := p.Transition(post.StatusPublished, now, "published", nil); err != nil {
		s.log.Error("publish transition rejected", logx.String("post_id", p.ID), logx.Err(err))
		return
	}
	if err := s.store.Put(ctx, p); err != nil {
		s.unsaved = append(s.unsaved, p)
		s.log.Error("persist published post failed", logx.String("post_id", p.ID), logx.Err(err))
		return
	}
	s.log.Info("post published",
		logx.String("post_id", p.ID),
		logx.Int("attempts", p.Attempts),
		logx.String("ref", p.PublishedRef),
	)
	s.emitStatus(p, post.StatusPublishing, "published")
}

// failLocked moves a publishing post to failed and, when the retry policy
// allows, straight back to scheduled.
func (s *Service) failLocked(ctx context.Context, p *post.Post, kind, msg string, now time.Time) {
	p.LastError = &post.ErrorInfo{Kind: kind, Message: msg, At: now}
	if err := p.Transition(post.StatusFailed, now, kind+": "+msg, nil); err != nil {
		s.log.Error("failure transition rejected", logx.String("post_id", p.ID), logx.Err(err))
		return
	}
	d := s.config().Retry.Decide(p.BudgetAttempts(), kind)
	var next time.Time
	if d.Retry {
		next = now.Add(d.After)
		if err := p.Transition(post.StatusScheduled, now, "retry in "+d.After.String(), &next); err != nil {
			s.log.Error("retry transition rejected", logx.String("post_id", p.ID), logx.Err(err))
			return
		}
	}
	if err := s.store.Put(ctx, p); err != nil {
		s.unsaved = append(s.unsaved, p)
		s.log.Error("persist failed attempt failed", logx.String("post_id", p.ID), logx.Err(err))
		return
	}

	fields := []logx.Field{
		logx.String("post_id", p.ID),
		logx.String("kind", kind),
		logx.Int("attempts", p.Attempts),
		logx.String("err", msg),
	}
	failed := statusEvent(p, post.StatusPublishing, kind)
	failed.To = post.StatusFailed
	failed.Error = msg
	if d.Retry {
		s.log.Warn("publish failed; retry scheduled", append(fields, logx.Time("next", next))...)
		s.publishStatus(failed)
		s.emitStatus(p, post.StatusFailed, "retry in "+d.After.String())
		return
	}
	s.log.Warn("publish failed; giving up", fields...)
	failed.Final = true
	s.publishStatus(failed)
}

// flushUnsavedLocked retries outcome writes the store rejected earlier.
func (s *Service) flushUnsavedLocked(ctx context.Context) error {
	if len(s.unsaved) == 0 {
		return nil
	}
	kept := s.unsaved[:0]
	for _, p := range s.unsaved {
		if err := s.store.Put(ctx, p); err != nil {
			kept = append(kept, p)
			continue
		}
		s.log.Info("pending outcome persisted", logx.String("post_id", p.ID), logx.String("status", string(p.Status)))
		s.emitStatus(p, post.StatusPublishing, "persisted late")
	}
	s.unsaved = kept
	if len(kept) > 0 {
		return fmt.Errorf("store unavailable: %d outcomes pending", len(kept))
	}
	return nil
}
