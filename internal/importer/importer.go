// Package importer bulk-loads posts from CSV files as drafts, optionally
// scheduling each one.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"autopost/internal/eventbus"
	"autopost/internal/post"
	logx "autopost/pkg/logx"
)

var ErrNoTextColumn = errors.New("required column 'text' not found")

// Commands is the subset of the orchestrator the importer drives.
type Commands interface {
	Create(ctx context.Context, content string, media []string) (*post.Post, error)
	Schedule(ctx context.Context, id string, when time.Time) (*post.Post, error)
}

// Row is one usable CSV record.
type Row struct {
	Line        int
	Text        string
	Media       []string
	ScheduledAt *time.Time
}

type Options struct {
	// Spread assigns consecutive slots to rows without scheduled_at.
	// Zero leaves them as drafts.
	Spread time.Duration
	// Start is the first slot; zero means now + Spread.
	Start time.Time
	// BaseDir resolves relative media paths.
	BaseDir string
}

type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

type Result struct {
	Created   int        `json:"created"`
	Scheduled int        `json:"scheduled"`
	Skipped   int        `json:"skipped"`
	Failed    []RowError `json:"failed,omitempty"`
}

type Importer struct {
	cmds Commands
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time
}

func New(cmds Commands, bus eventbus.Bus, log logx.Logger) *Importer {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Importer{cmds: cmds, bus: bus, log: log.With(logx.String("comp", "importer")), now: time.Now}
}

// ImportFile imports path; relative media paths are taken relative to the
// file's directory unless opt.BaseDir is set.
func (im *Importer) ImportFile(ctx context.Context, path string, opt Options) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()
	if opt.BaseDir == "" {
		opt.BaseDir = filepath.Dir(path)
	}
	im.log.Info("importing posts", logx.String("path", path), logx.Duration("spread", opt.Spread))
	return im.Import(ctx, f, opt)
}

func (im *Importer) Import(ctx context.Context, r io.Reader, opt Options) (Result, error) {
	rows, skipped, err := Parse(r)
	if err != nil {
		return Result{}, err
	}
	res := Result{Skipped: skipped}

	now := im.now()
	slot := opt.Start
	if slot.IsZero() {
		slot = now.Add(opt.Spread)
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		media := resolve(opt.BaseDir, row.Media)
		p, err := im.cmds.Create(ctx, row.Text, media)
		if err != nil {
			res.Failed = append(res.Failed, RowError{Line: row.Line, Err: err.Error()})
			im.log.Warn("import row rejected", logx.Int("line", row.Line), logx.Err(err))
			continue
		}
		res.Created++

		var when time.Time
		switch {
		case row.ScheduledAt != nil:
			when = *row.ScheduledAt
		case opt.Spread > 0:
			when = slot
			slot = slot.Add(opt.Spread)
		default:
			continue
		}
		if _, err := im.cmds.Schedule(ctx, p.ID, when); err != nil {
			res.Failed = append(res.Failed, RowError{Line: row.Line, Err: fmt.Sprintf("created %s as draft: %v", p.ID, err)})
			im.log.Warn("import schedule rejected", logx.Int("line", row.Line), logx.String("post_id", p.ID), logx.Err(err))
			continue
		}
		res.Scheduled++
	}

	im.log.Info("import finished",
		logx.Int("created", res.Created),
		logx.Int("scheduled", res.Scheduled),
		logx.Int("skipped", res.Skipped),
		logx.Int("failed", len(res.Failed)),
	)
	if im.bus != nil {
		im.bus.Publish(eventbus.Event{Type: post.EventPostsImported, Time: im.now(), Data: res})
	}
	return res, nil
}

func resolve(base string, media []string) []string {
	if base == "" || len(media) == 0 {
		return media
	}
	out := make([]string, len(media))
	for i, m := range media {
		if filepath.IsAbs(m) {
			out[i] = m
		} else {
			out[i] = filepath.Join(base, m)
		}
	}
	return out
}

// Parse reads a header row and returns the usable records. Column names
// are case-insensitive: text (required), media or image, scheduled_at.
// Records with neither text nor media are skipped and counted.
func Parse(r io.Reader) (rows []Row, skipped int, err error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, ErrNoTextColumn
		}
		return nil, 0, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := col[name]; !dup {
			col[name] = i
		}
	}
	textCol, ok := col["text"]
	if !ok {
		return nil, 0, ErrNoTextColumn
	}
	mediaCol, hasMedia := col["media"]
	if !hasMedia {
		mediaCol, hasMedia = col["image"]
	}
	whenCol, hasWhen := col["scheduled_at"]

	field := func(rec []string, i int) string {
		if i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, err
		}
		line, _ := cr.FieldPos(0)
		row := Row{Line: line, Text: field(rec, textCol)}
		if hasMedia {
			row.Media = splitMedia(field(rec, mediaCol))
		}
		if row.Text == "" && len(row.Media) == 0 {
			skipped++
			continue
		}
		if hasWhen {
			if v := field(rec, whenCol); v != "" {
				t, err := ParseTime(v)
				if err != nil {
					return nil, 0, fmt.Errorf("line %d: scheduled_at: %w", line, err)
				}
				row.ScheduledAt = &t
			}
		}
		rows = append(rows, row)
	}
	return rows, skipped, nil
}

func splitMedia(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
}

// ParseTime accepts RFC 3339 or a local "YYYY-MM-DD HH:MM[:SS]" timestamp.
func ParseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	for _, layout := range timeLayouts[1:] {
		if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", v)
}
