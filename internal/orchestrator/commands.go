package orchestrator

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"autopost/internal/post"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

// Create stores a new draft.
func (s *Service) Create(ctx context.Context, content string, media []string) (p *post.Post, err error) {
	started := time.Now()
	defer func() {
		id := ""
		if p != nil {
			id = p.ID
		}
		s.audit(ctx, "create", id, started, err)
	}()

	media = cleanMedia(media)
	if err := post.ValidateContent(content, media, s.config().Media); err != nil {
		return nil, invalid(err)
	}
	id, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("new post id: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	created := now
	if !created.After(s.lastCreated) {
		created = s.lastCreated.Add(time.Nanosecond)
	}
	p = &post.Post{
		ID:        id,
		Content:   content,
		Media:     media,
		Status:    post.StatusDraft,
		CreatedAt: created,
		UpdatedAt: now,
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	s.lastCreated = created
	s.log.Info("post created", logx.String("post_id", id), logx.Int("media", len(media)))
	return p.Clone(), nil
}

// Edit replaces content and media of a draft or failed post.
func (s *Service) Edit(ctx context.Context, id, content string, media []string) (p *post.Post, err error) {
	started := time.Now()
	defer func() { s.audit(ctx, "edit", id, started, err) }()

	media = cleanMedia(media)
	if err := post.ValidateContent(content, media, s.config().Media); err != nil {
		return nil, invalid(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.Status != post.StatusDraft && p.Status != post.StatusFailed {
		return nil, s.stateErr(p, "edit")
	}
	now := s.now()
	p.Content = content
	p.Media = media
	p.UpdatedAt = now
	p.History = append(p.History, post.HistoryEntry{At: now, Status: p.Status, Note: "edited"})
	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Schedule moves a draft or failed post to scheduled at when.
func (s *Service) Schedule(ctx context.Context, id string, when time.Time) (p *post.Post, err error) {
	started := time.Now()
	defer func() { s.audit(ctx, "schedule", id, started, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, from, err := s.prepareLocked(ctx, id, "schedule")
	if err != nil {
		return nil, err
	}
	now := s.now()
	when = when.UTC()
	if when.Before(now) {
		return nil, invalid(fmt.Errorf("scheduled time %s is in the past", when.Format(time.RFC3339)))
	}
	if err := p.Transition(post.StatusScheduled, now, "scheduled by user", &when); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	s.emitStatus(p, from, "scheduled by user")
	return p.Clone(), nil
}

// PublishNow queues a draft or failed post for the next free dispatch slot.
func (s *Service) PublishNow(ctx context.Context, id string) (p *post.Post, err error) {
	started := time.Now()
	defer func() { s.audit(ctx, "publish_now", id, started, err) }()

	p, err = s.enqueue(ctx, id, "publish now", s.prepareLocked)
	if err != nil {
		return nil, err
	}
	s.Kick()
	return p, nil
}

// Retry re-queues a failed post with a fresh retry budget.
func (s *Service) Retry(ctx context.Context, id string) (p *post.Post, err error) {
	started := time.Now()
	defer func() { s.audit(ctx, "retry", id, started, err) }()

	p, err = s.enqueue(ctx, id, "retry", func(ctx context.Context, id, op string) (*post.Post, post.Status, error) {
		p, err := s.store.Get(ctx, id)
		if err != nil {
			return nil, "", err
		}
		if p.Status != post.StatusFailed {
			return nil, "", s.stateErr(p, op)
		}
		if err := s.checkMedia(p); err != nil {
			return nil, "", err
		}
		p.RetryFrom = p.Attempts
		return p, post.StatusFailed, nil
	})
	if err != nil {
		return nil, err
	}
	s.Kick()
	return p, nil
}

func (s *Service) enqueue(ctx context.Context, id, note string,
	prepare func(ctx context.Context, id, op string) (*post.Post, post.Status, error)) (*post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, from, err := prepare(ctx, id, strings.ReplaceAll(note, " ", "_"))
	if err != nil {
		return nil, err
	}
	if err := p.Transition(post.StatusQueued, s.now(), note, nil); err != nil {
		return nil, err
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	s.emitStatus(p, from, note)
	return p.Clone(), nil
}

// prepareLocked loads a draft or failed post for schedule/publish-now and
// resets the retry budget of a failed one.
func (s *Service) prepareLocked(ctx context.Context, id, op string) (*post.Post, post.Status, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	from := p.Status
	if from != post.StatusDraft && from != post.StatusFailed {
		return nil, "", s.stateErr(p, op)
	}
	if err := s.checkMedia(p); err != nil {
		return nil, "", err
	}
	if from == post.StatusFailed {
		p.RetryFrom = p.Attempts
	}
	return p, from, nil
}

func (s *Service) checkMedia(p *post.Post) error {
	rules := s.config().Media
	if err := post.ValidateContent(p.Content, p.Media, rules); err != nil {
		return invalid(err)
	}
	if err := post.ValidateMedia(p.Media, rules); err != nil {
		return invalid(err)
	}
	return nil
}

// Cancel stops a post from ever being published. Posts being published
// cannot be cancelled; wait for the attempt to resolve and cancel from there.
func (s *Service) Cancel(ctx context.Context, id string) (p *post.Post, err error) {
	started := time.Now()
	defer func() { s.audit(ctx, "cancel", id, started, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err = s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	from := p.Status
	if from == post.StatusPublishing || id == s.inFlight {
		return nil, fmt.Errorf("%w: %s", ErrBusy, id)
	}
	if err := p.Transition(post.StatusCancelled, s.now(), "cancelled by user", nil); err != nil {
		return nil, s.stateErr(p, "cancel")
	}
	if err := s.store.Put(ctx, p); err != nil {
		return nil, err
	}
	s.emitStatus(p, from, "cancelled by user")
	return p.Clone(), nil
}

func (s *Service) stateErr(p *post.Post, op string) error {
	if p.Status == post.StatusPublishing {
		return fmt.Errorf("%w: %s", ErrBusy, p.ID)
	}
	return badState(p.ID, p.Status, op)
}

// Get reads a post without touching the dispatch slot.
func (s *Service) Get(ctx context.Context, id string) (*post.Post, error) {
	return s.store.Get(ctx, id)
}

// List reads posts in dispatch order without touching the dispatch slot.
func (s *Service) List(ctx context.Context, f storage.Filter) ([]*post.Post, error) {
	return s.store.List(ctx, f)
}

// Pause withholds new dispatches. An attempt already running completes.
func (s *Service) Pause(ctx context.Context) {
	started := time.Now()
	s.mu.Lock()
	changed := !s.paused
	s.paused = true
	s.mu.Unlock()
	if changed {
		s.emit(post.EventPaused, nil)
		s.log.Info("dispatch paused")
	}
	s.audit(ctx, "pause", "", started, nil)
}

func (s *Service) Resume(ctx context.Context) {
	started := time.Now()
	s.mu.Lock()
	changed := s.paused
	s.paused = false
	s.mu.Unlock()
	if changed {
		s.emit(post.EventResumed, nil)
		s.log.Info("dispatch resumed")
		s.Kick()
	}
	s.audit(ctx, "resume", "", started, nil)
}

func cleanMedia(media []string) []string {
	out := make([]string, 0, len(media))
	for _, m := range media {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return slices.Clip(out)
}
