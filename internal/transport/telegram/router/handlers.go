package router

import (
	"context"
	"errors"
	"strings"

	"autopost/internal/orchestrator"
	"autopost/internal/post"
	kit "autopost/internal/transport"
	"autopost/pkg/tgui"
)

func (r *Router) registerBuiltins() {
	for _, c := range []Command{
		{Name: "post", Usage: "/post <text> [--media a.png,b.jpg]", Description: "create and publish now", Handle: r.cmdPost},
		{Name: "draft", Usage: "/draft <text> [--media a.png]", Description: "create a draft", Handle: r.cmdDraft},
		{Name: "edit", Usage: "/edit <id> <text> [--media a.png]", Description: "replace a draft's content", Handle: r.cmdEdit},
		{Name: "schedule", Usage: "/schedule <id> <RFC3339|+duration>", Description: "schedule a draft", Handle: r.cmdSchedule},
		{Name: "now", Usage: "/now <id>", Description: "publish a draft or failed post now", Handle: r.idCommand(r.svc.PublishNow, "queued")},
		{Name: "cancel", Usage: "/cancel <id>", Description: "cancel a post", Handle: r.idCommand(r.svc.Cancel, "cancelled")},
		{Name: "retry", Usage: "/retry <id>", Description: "retry a failed post", Handle: r.idCommand(r.svc.Retry, "queued for retry")},
		{Name: "get", Usage: "/get <id>", Description: "show a post", Handle: r.cmdGet},
		{Name: "list", Aliases: []string{"ls"}, Usage: "/list [status...] [--limit n]", Description: "list posts, n per page", Handle: r.cmdList},
		{Name: "status", Usage: "/status", Description: "dispatcher status", Handle: r.cmdStatus},
		{Name: "pause", Usage: "/pause", Description: "withhold new dispatches", Handle: r.cmdPause},
		{Name: "resume", Usage: "/resume", Description: "resume dispatching", Handle: r.cmdResume},
		{Name: "help", Aliases: []string{"start"}, Usage: "/help", Description: "show commands", Handle: r.cmdHelp},
	} {
		r.Register(c)
	}

	r.OnCallback("post", "retry", r.buttonCommand(r.svc.Retry, "queued for retry"))
	r.OnCallback("post", "now", r.buttonCommand(r.svc.PublishNow, "queued"))
	r.OnCallback("post", "cancel", r.buttonCommand(r.svc.Cancel, "cancelled"))
	r.OnCallback("list", "page", r.cbListPage)
}

// PostButtons are the inline actions offered for a post in status st.
func PostButtons(id string, st post.Status) [][]kit.Button {
	var row []kit.Button
	switch st {
	case post.StatusDraft:
		row = appendButton(row, "Publish now", "post", "now", id)
	case post.StatusFailed:
		row = appendButton(row, "Retry", "post", "retry", id)
	}
	if !st.Terminal() && st != post.StatusPublishing {
		row = appendButton(row, "Cancel", "post", "cancel", id)
	}
	if len(row) == 0 {
		return nil
	}
	return [][]kit.Button{row}
}

// appendButton skips buttons whose callback data would not fit.
func appendButton(row []kit.Button, text, scope, action, payload string) []kit.Button {
	data, err := tgui.Data(scope, action, payload)
	if err != nil {
		return row
	}
	return append(row, kit.Button{Text: text, Data: data})
}

// fail replies with a readable error and returns err for the log middleware.
func fail(ctx context.Context, req *Request, err error) error {
	_ = req.Reply(ctx, "⚠️ "+tgui.Esc(describeErr(err)).String())
	return err
}

func describeErr(err error) string {
	switch {
	case errors.Is(err, orchestrator.ErrNotFound):
		return "post not found"
	case errors.Is(err, orchestrator.ErrBusy):
		return "post is being published right now"
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	default:
		return err.Error()
	}
}

func usage(ctx context.Context, req *Request, u string) error {
	_ = req.Reply(ctx, "usage: "+tgui.Code(u).String())
	return nil
}

func (r *Router) create(ctx context.Context, req *Request, u string) (*post.Post, error) {
	text, media := splitPostText(req.Text)
	if text == "" && len(media) == 0 {
		return nil, usage(ctx, req, u)
	}
	p, err := r.svc.Create(ctx, text, media)
	if err != nil {
		return nil, fail(ctx, req, err)
	}
	return p, nil
}

func (r *Router) cmdPost(ctx context.Context, req *Request) error {
	p, err := r.create(ctx, req, "/post <text> [--media a.png]")
	if p == nil {
		return err
	}
	if p, err = r.svc.PublishNow(ctx, p.ID); err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "📤 queued "+postRef(p))
}

func (r *Router) cmdDraft(ctx context.Context, req *Request) error {
	p, err := r.create(ctx, req, "/draft <text> [--media a.png]")
	if p == nil {
		return err
	}
	return req.Reply(ctx, "📝 draft "+postRef(p), PostButtons(p.ID, p.Status)...)
}

func (r *Router) cmdEdit(ctx context.Context, req *Request) error {
	id, body, _ := strings.Cut(req.Text, " ")
	text, media := splitPostText(body)
	if id == "" || (text == "" && len(media) == 0) {
		return usage(ctx, req, "/edit <id> <text> [--media a.png]")
	}
	p, err := r.svc.Edit(ctx, id, text, media)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "✏️ edited "+postRef(p))
}

func (r *Router) cmdSchedule(ctx context.Context, req *Request) error {
	if len(req.Args) < 2 {
		return usage(ctx, req, "/schedule <id> <RFC3339|+duration>")
	}
	when, err := parseWhen(strings.Join(req.Args[1:], " "), r.now())
	if err != nil {
		return fail(ctx, req, err)
	}
	p, err := r.svc.Schedule(ctx, req.Args[0], when)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, "🗓 scheduled "+postRef(p)+" for "+tgui.Code(fmtTime(when)).String(), PostButtons(p.ID, p.Status)...)
}

type idFunc func(ctx context.Context, id string) (*post.Post, error)

func (r *Router) idCommand(fn idFunc, done string) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		if len(req.Args) != 1 {
			return usage(ctx, req, "/"+req.Command+" <id>")
		}
		p, err := fn(ctx, req.Args[0])
		if err != nil {
			return fail(ctx, req, err)
		}
		return req.Reply(ctx, "✅ "+done+" "+postRef(p))
	}
}

func (r *Router) buttonCommand(fn idFunc, done string) CallbackFunc {
	return func(ctx context.Context, req *Request, id string) (string, error) {
		if id == "" {
			return "missing post id", nil
		}
		if _, err := fn(ctx, id); err != nil {
			return describeErr(err), err
		}
		return done, nil
	}
}

func (r *Router) cmdGet(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return usage(ctx, req, "/get <id>")
	}
	p, err := r.svc.Get(ctx, req.Args[0])
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, formatPost(p), PostButtons(p.ID, p.Status)...)
}

func (r *Router) cmdStatus(ctx context.Context, req *Request) error {
	snap, err := r.svc.Status(ctx)
	if err != nil {
		return fail(ctx, req, err)
	}
	return req.Reply(ctx, formatStatus(snap, r.now()))
}

func (r *Router) cmdPause(ctx context.Context, req *Request) error {
	r.svc.Pause(ctx)
	return req.Reply(ctx, "⏸ dispatch paused")
}

func (r *Router) cmdResume(ctx context.Context, req *Request) error {
	r.svc.Resume(ctx)
	return req.Reply(ctx, "▶️ dispatch resumed")
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	r.mu.RLock()
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	for _, c := range r.ordered {
		b.WriteString(tgui.JoinH(" ", tgui.Code(c.Usage), tgui.Esc(c.Description)).String() + "\n")
	}
	r.mu.RUnlock()
	return req.Reply(ctx, b.String())
}
