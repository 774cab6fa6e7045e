package router

import (
	"fmt"
	"strings"
	"time"

	"autopost/internal/orchestrator"
	"autopost/internal/post"
	"autopost/pkg/tgui"
)

var statusIcon = map[post.Status]string{
	post.StatusDraft:      "📝",
	post.StatusScheduled:  "🗓",
	post.StatusQueued:     "⏳",
	post.StatusPublishing: "📤",
	post.StatusPublished:  "✅",
	post.StatusFailed:     "❌",
	post.StatusCancelled:  "🚫",
}

func fmtTime(t time.Time) string { return t.Format("2006-01-02 15:04 MST") }

func postRef(p *post.Post) string { return tgui.Code(p.ID).String() }

func formatPost(p *post.Post) string {
	lines := []tgui.H{
		tgui.JoinH(" ", tgui.H(statusIcon[p.Status]), tgui.B(string(p.Status)), tgui.Code(p.ID)),
	}
	if p.Content != "" {
		lines = append(lines, tgui.Quote(post.Excerpt(p.Content, 600)))
	}
	for _, m := range p.Media {
		lines = append(lines, "📎 "+tgui.Code(m))
	}
	lines = append(lines, tgui.H(fmt.Sprintf("attempts: %d", p.Attempts)))
	if p.ScheduledAt != nil {
		lines = append(lines, tgui.Esc("due: "+fmtTime(*p.ScheduledAt)))
	}
	if p.PublishedAt != nil {
		lines = append(lines, tgui.Esc("published: "+fmtTime(*p.PublishedAt)))
	}
	if p.PublishedRef != "" {
		lines = append(lines, tgui.Esc("ref: "+p.PublishedRef))
	}
	if p.LastError != nil {
		lines = append(lines, "last error: "+tgui.I(p.LastError.Kind)+" "+tgui.Esc(p.LastError.Message))
	}
	return tgui.JoinH("\n", lines...).String()
}

func formatList(posts []*post.Post) string {
	if len(posts) == 0 {
		return "no posts"
	}
	lines := make([]tgui.H, 0, len(posts))
	for _, p := range posts {
		line := tgui.JoinH(" ", tgui.H(statusIcon[p.Status]), tgui.Code(p.ID), tgui.Esc(post.Excerpt(p.Content, 48)))
		if p.ScheduledAt != nil {
			line += tgui.Esc(" · " + fmtTime(*p.ScheduledAt))
		}
		lines = append(lines, line)
	}
	return tgui.JoinH("\n", lines...).String()
}

func formatStatus(s orchestrator.Snapshot, now time.Time) string {
	state := "running"
	switch {
	case s.Stopping:
		state = "stopping"
	case s.Paused:
		state = "paused"
	case s.AuthRequired:
		state = "waiting for login"
	}
	lines := []tgui.H{tgui.B("Dispatcher") + tgui.Esc(": "+state)}
	if s.InFlight != "" {
		lines = append(lines, "publishing "+tgui.Code(s.InFlight)+tgui.Esc(" for "+now.Sub(s.InFlightSince).Round(time.Second).String()))
	}
	if s.NextDue != nil {
		lines = append(lines, "next: "+tgui.Code(s.NextDueID)+tgui.Esc(" at "+fmtTime(*s.NextDue)))
	}
	if s.PacingUntil != nil {
		lines = append(lines, tgui.Esc("paced until "+fmtTime(*s.PacingUntil)))
	}
	if s.PendingWrites > 0 {
		lines = append(lines, tgui.H(fmt.Sprintf("⚠️ %d outcomes waiting for storage", s.PendingWrites)))
	}
	var counts []string
	for _, st := range post.Statuses {
		if n := s.Counts[st]; n > 0 {
			counts = append(counts, fmt.Sprintf("%s %d", st, n))
		}
	}
	if len(counts) > 0 {
		lines = append(lines, tgui.Esc(strings.Join(counts, " · ")))
	}
	return tgui.JoinH("\n", lines...).String()
}
