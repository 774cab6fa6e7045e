package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"autopost/internal/post"
	logx "autopost/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqlStore is shared by the sqlite and postgres drivers. Queries are written
// with '?' placeholders and rebound for dialects that number them.
type sqlStore struct {
	db       *sql.DB
	log      logx.Logger
	dialect  string
	numbered bool
}

const postColumns = `id, content, media, status, scheduled_at, due_at, attempts, retry_from,
	last_error, published_ref, created_at, updated_at, published_at, history`

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + s.dialect + ".sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate %s: %w", s.dialect, err)
	}
	return nil
}

// rebind turns '?' placeholders into $1..$n.
func (s *sqlStore) rebind(q string) string {
	if !s.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) Put(ctx context.Context, p *post.Post) error {
	media, err := json.Marshal(nonNil(p.Media))
	if err != nil {
		return err
	}
	history, err := json.Marshal(p.History)
	if err != nil {
		return err
	}
	var lastErr any
	if p.LastError != nil {
		b, err := json.Marshal(p.LastError)
		if err != nil {
			return err
		}
		lastErr = string(b)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(`INSERT INTO posts(`+postColumns+`)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			content=excluded.content, media=excluded.media, status=excluded.status,
			scheduled_at=excluded.scheduled_at, due_at=excluded.due_at,
			attempts=excluded.attempts, retry_from=excluded.retry_from,
			last_error=excluded.last_error, published_ref=excluded.published_ref,
			created_at=excluded.created_at, updated_at=excluded.updated_at,
			published_at=excluded.published_at, history=excluded.history`),
		p.ID, p.Content, string(media), string(p.Status), nullTime(p.ScheduledAt), p.DueAt().UnixNano(),
		p.Attempts, p.RetryFrom, lastErr, nullStr(p.PublishedRef),
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(), nullTime(p.PublishedAt), string(history),
	)
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (*post.Post, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+postColumns+` FROM posts WHERE id = ?`), id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *sqlStore) List(ctx context.Context, f Filter) ([]*post.Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts`
	var args []any
	if len(f.Statuses) > 0 {
		q += ` WHERE status IN (` + strings.TrimSuffix(strings.Repeat("?,", len(f.Statuses)), ",") + `)`
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}
	q += ` ORDER BY due_at, created_at, id`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return s.query(ctx, q, args...)
}

func (s *sqlStore) Due(ctx context.Context, now time.Time) ([]*post.Post, error) {
	return s.query(ctx, `SELECT `+postColumns+` FROM posts
		WHERE status = ? OR (status = ? AND due_at <= ?)
		ORDER BY due_at, created_at, id`,
		string(post.StatusQueued), string(post.StatusScheduled), now.UnixNano(),
	)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) ([]*post.Post, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*post.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM posts WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO audit(at, actor, action, post_id, ok, err, took_ms) VALUES(?,?,?,?,?,?,?)`),
		e.At.UnixNano(), e.Actor, e.Action, nullStr(e.PostID), ok, nullStr(e.Error), e.TookMS,
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (*post.Post, error) {
	var (
		p                           post.Post
		media, status, history      string
		scheduledAt, publishedAt    sql.NullInt64
		dueAt, createdAt, updatedAt int64
		lastErr, ref                sql.NullString
	)
	if err := r.Scan(&p.ID, &p.Content, &media, &status, &scheduledAt, &dueAt, &p.Attempts, &p.RetryFrom,
		&lastErr, &ref, &createdAt, &updatedAt, &publishedAt, &history); err != nil {
		return nil, err
	}
	p.Status = post.Status(status)
	if err := json.Unmarshal([]byte(media), &p.Media); err != nil {
		return nil, fmt.Errorf("post %s media: %w", p.ID, err)
	}
	if len(p.Media) == 0 {
		p.Media = nil
	}
	if err := json.Unmarshal([]byte(history), &p.History); err != nil {
		return nil, fmt.Errorf("post %s history: %w", p.ID, err)
	}
	for i := range p.History {
		p.History[i].At = p.History[i].At.UTC()
	}
	if lastErr.Valid && lastErr.String != "" {
		var e post.ErrorInfo
		if err := json.Unmarshal([]byte(lastErr.String), &e); err != nil {
			return nil, fmt.Errorf("post %s last_error: %w", p.ID, err)
		}
		e.At = e.At.UTC()
		p.LastError = &e
	}
	p.PublishedRef = ref.String
	p.ScheduledAt = fromNull(scheduledAt)
	p.PublishedAt = fromNull(publishedAt)
	p.CreatedAt = fromNanos(createdAt)
	p.UpdatedAt = fromNanos(updatedAt)
	return &p, nil
}

// Every time read back from SQL is UTC, including those kept in JSON columns.
func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func fromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromNanos(v.Int64)
	return &t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
