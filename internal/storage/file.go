package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"autopost/internal/post"
	logx "autopost/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.posts.snapshot.json (periodic snapshot)
//   - <prefix>.posts.journal.jsonl (append-only journal, fsynced per write)
//   - <prefix>.audit.jsonl         (append-only JSON Lines)
//
// The journal is compacted into the snapshot on open and every
// compactEvery writes.
type fileStore struct {
	*memStore
	log logx.Logger

	mu sync.Mutex

	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File

	writes int
}

const compactEvery = 500

type journalRecord struct {
	Op   string     `json:"op"` // put | del
	ID   string     `json:"id"`
	Post *post.Post `json:"post,omitempty"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".posts.snapshot.json"
	journalPath := prefix + ".posts.journal.jsonl"

	mem := newMemStore()
	if err := loadSnapshot(snapPath, mem.posts); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	if err := replayJournal(journalPath, mem.posts, log); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	s := &fileStore{
		memStore:     mem,
		log:          log,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
	}
	s.mu.Lock()
	err = s.compactLocked()
	s.mu.Unlock()
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.auditFile != nil {
		err1 = s.auditFile.Close()
		s.auditFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) Put(ctx context.Context, p *post.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: "put", ID: p.ID, Post: p}); err != nil {
		return err
	}
	return s.memStore.Put(ctx, p)
}

func (s *fileStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.memStore.Get(ctx, id); err != nil {
		return err
	}
	if err := s.appendLocked(journalRecord{Op: "del", ID: id}); err != nil {
		return err
	}
	return s.memStore.Delete(ctx, id)
}

func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	if err := s.journalFile.Sync(); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		// Best-effort; the journal stays authoritative until the rename.
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) compactLocked() error {
	s.memStore.mu.RLock()
	posts := make([]*post.Post, 0, len(s.memStore.posts))
	for _, p := range s.memStore.posts {
		posts = append(posts, p)
	}
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		s.memStore.mu.RUnlock()
		return err
	}
	err = json.NewEncoder(f).Encode(posts)
	s.memStore.mu.RUnlock()
	if err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	// Truncate journal.
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]*post.Post) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var posts []*post.Post
	if err := json.NewDecoder(f).Decode(&posts); err != nil {
		return err
	}
	for _, p := range posts {
		if p != nil && p.ID != "" {
			out[p.ID] = p
		}
	}
	return nil
}

func replayJournal(path string, out map[string]*post.Post, log logx.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	line := 0
	for s.Scan() {
		line++
		var r journalRecord
		if err := json.Unmarshal(s.Bytes(), &r); err != nil {
			// A torn final write after a crash; earlier records still apply.
			log.Warn("skipping unreadable journal record", logx.Int("line", line), logx.Err(err))
			continue
		}
		switch r.Op {
		case "put":
			if r.Post != nil && r.Post.ID != "" {
				out[r.Post.ID] = r.Post
			}
		case "del":
			delete(out, r.ID)
		}
	}
	return s.Err()
}
