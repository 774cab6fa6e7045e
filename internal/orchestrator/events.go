package orchestrator

import (
	"context"
	"time"

	"autopost/internal/eventbus"
	"autopost/internal/post"
	"autopost/internal/storage"
	logx "autopost/pkg/logx"
)

type actorKey struct{}

// WithActor tags commands issued with ctx for the audit log.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok && v != "" {
		return v
	}
	return "api"
}

const excerptLen = 80

// emitStatus publishes a post.status event. Call after the change is durable.
func (s *Service) emitStatus(p *post.Post, from post.Status, note string) {
	s.publishStatus(statusEvent(p, from, note))
}

func statusEvent(p *post.Post, from post.Status, note string) post.Event {
	ev := post.Event{
		PostID:   p.ID,
		From:     from,
		To:       p.Status,
		Attempts: p.Attempts,
		Note:     note,
		Excerpt:  post.Excerpt(p.Content, excerptLen),
		Ref:      p.PublishedRef,
	}
	if p.Status == post.StatusFailed && p.LastError != nil {
		ev.Error = p.LastError.Message
	}
	if p.ScheduledAt != nil {
		ev.Next = *p.ScheduledAt
	}
	return ev
}

func (s *Service) publishStatus(ev post.Event) {
	s.bus.Publish(eventbus.Event{Type: post.EventStatus, Time: s.now(), Data: ev})
	s.log.Debug("post status",
		logx.String("post_id", ev.PostID),
		logx.String("from", string(ev.From)),
		logx.String("to", string(ev.To)),
		logx.Int("attempts", ev.Attempts),
	)
}

func (s *Service) emit(typ string, data any) {
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}

// audit records a command outcome. Audit failures never fail the command.
func (s *Service) audit(ctx context.Context, action, postID string, started time.Time, err error) {
	e := storage.AuditEntry{
		At:     s.now(),
		Actor:  actorFrom(ctx),
		Action: action,
		PostID: postID,
		OK:     err == nil,
		TookMS: time.Since(started).Milliseconds(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	if aerr := s.store.AppendAudit(context.WithoutCancel(ctx), e); aerr != nil {
		s.log.Warn("audit append failed", logx.String("action", action), logx.Err(aerr))
	}
}
