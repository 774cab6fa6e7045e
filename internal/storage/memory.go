package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"autopost/internal/post"
)

// memStore keeps posts in a map. The file driver embeds it as its index.
type memStore struct {
	mu    sync.RWMutex
	posts map[string]*post.Post
	audit []AuditEntry
}

func NewMemory() Store { return newMemStore() }

func newMemStore() *memStore {
	return &memStore{posts: map[string]*post.Post{}}
}

func (s *memStore) Put(ctx context.Context, p *post.Post) error {
	_ = ctx
	s.mu.Lock()
	s.posts[p.ID] = p.Clone()
	s.mu.Unlock()
	return nil
}

func (s *memStore) Get(ctx context.Context, id string) (*post.Post, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memStore) List(ctx context.Context, f Filter) ([]*post.Post, error) {
	_ = ctx
	s.mu.RLock()
	out := make([]*post.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if f.match(p) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, post.Compare)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) Due(ctx context.Context, now time.Time) ([]*post.Post, error) {
	_ = ctx
	s.mu.RLock()
	var out []*post.Post
	for _, p := range s.posts {
		if p.IsDue(now) {
			out = append(out, p.Clone())
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, post.Compare)
	return out, nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[id]; !ok {
		return ErrNotFound
	}
	delete(s.posts, id)
	return nil
}

const memAuditCap = 1000

func (s *memStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	s.audit = append(s.audit, e)
	if len(s.audit) > memAuditCap {
		s.audit = s.audit[len(s.audit)-memAuditCap:]
	}
	s.mu.Unlock()
	return nil
}

func (s *memStore) Close() error { return nil }
