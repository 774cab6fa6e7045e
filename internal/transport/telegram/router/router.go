// Package router maps owner chat commands and inline button presses to
// orchestrator commands.
package router

import (
	"context"
	"runtime/debug"
	"slices"
	"strconv"
	"sync"
	"time"

	"autopost/internal/orchestrator"
	"autopost/internal/post"
	"autopost/internal/runtime/supervisor"
	"autopost/internal/storage"
	kit "autopost/internal/transport"
	logx "autopost/pkg/logx"
	"autopost/pkg/tgui"
)

// Orchestrator is the command surface the router drives.
type Orchestrator interface {
	Create(ctx context.Context, content string, media []string) (*post.Post, error)
	Edit(ctx context.Context, id, content string, media []string) (*post.Post, error)
	Schedule(ctx context.Context, id string, when time.Time) (*post.Post, error)
	PublishNow(ctx context.Context, id string) (*post.Post, error)
	Cancel(ctx context.Context, id string) (*post.Post, error)
	Retry(ctx context.Context, id string) (*post.Post, error)
	Get(ctx context.Context, id string) (*post.Post, error)
	List(ctx context.Context, f storage.Filter) ([]*post.Post, error)
	Status(ctx context.Context) (orchestrator.Snapshot, error)
	Pause(ctx context.Context)
	Resume(ctx context.Context)
}

type Command struct {
	Name        string
	Aliases     []string
	Usage       string
	Description string
	Timeout     time.Duration
	Handle      HandlerFunc
}

// CallbackFunc handles a button press; payload is the part after "scope:action:".
type CallbackFunc func(ctx context.Context, req *Request, payload string) (answer string, err error)

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Text is everything after the command word, verbatim.
	Text    string
	Args    []string
	Flags   map[string]string
	ReqID   string
	Logger  logx.Logger
	Adapter kit.Adapter
}

// Reply sends an HTML message to the chat the request came from.
func (r *Request) Reply(ctx context.Context, text string, buttons ...[]kit.Button) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true, Buttons: buttons})
	return err
}

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	svc     Orchestrator
	now     func() time.Time

	mu        sync.RWMutex
	owners    []int64
	cmds      map[string]*Command
	ordered   []*Command
	callbacks map[string]CallbackFunc

	jobs  chan func()
	runMu sync.Mutex
	sup   *supervisor.Supervisor
}

func New(svc Orchestrator, adapter kit.Adapter, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Router{
		log:       log.With(logx.String("comp", "telegram.router")),
		adapter:   adapter,
		svc:       svc,
		now:       time.Now,
		owners:    slices.Clone(owners),
		cmds:      map[string]*Command{},
		callbacks: map[string]CallbackFunc{},
		jobs:      make(chan func(), 64),
	}
	r.registerBuiltins()
	return r
}

// SetOwners replaces the allowed user ids. Safe during hot reload.
func (r *Router) SetOwners(owners []int64) {
	r.mu.Lock()
	r.owners = slices.Clone(owners)
	r.mu.Unlock()
}

func (r *Router) isOwner(id int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Contains(r.owners, id)
}

func (r *Router) Register(c Command) {
	if c.Name == "" || c.Handle == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cc := c
	r.cmds[c.Name] = &cc
	for _, a := range c.Aliases {
		r.cmds[a] = &cc
	}
	r.ordered = append(r.ordered, &cc)
}

// OnCallback registers a handler for button data "scope:action[:payload]".
func (r *Router) OnCallback(scope, action string, fn CallbackFunc) {
	r.mu.Lock()
	r.callbacks[scope+":"+action] = fn
	r.mu.Unlock()
}

// Commands lists registered commands for the platform menu.
func (r *Router) Commands() []kit.BotCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]kit.BotCommand, 0, len(r.ordered))
	for _, c := range r.ordered {
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

// Run dispatches updates to a small worker pool until ctx is done or
// updates is closed.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	const workers = 2
	sup := supervisor.New(ctx, r.log)
	r.runMu.Lock()
	r.sup = sup
	r.runMu.Unlock()

	if up, ok := r.adapter.(kit.CommandMenuUpdater); ok {
		sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 10*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, r.Commands()); err != nil {
				r.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	for i := range workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-r.jobs:
					r.runJob(job)
				}
			}
		}, supervisor.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}
	r.log.Info("command dispatcher started", logx.Int("workers", workers))

	defer func() {
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Stop(wctx)
		cancel()
		r.runMu.Lock()
		r.sup = nil
		r.runMu.Unlock()
		r.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			job := r.prepare(ctx, up)
			if job == nil {
				continue
			}
			select {
			case r.jobs <- job:
			default:
				r.reject(ctx, up, "busy, try again")
			}
		}
	}
}

func (r *Router) runJob(job func()) {
	defer func() {
		if v := recover(); v != nil {
			r.log.Error("panic in command job", logx.Any("panic", v), logx.String("stack", string(debug.Stack())))
		}
	}()
	job()
}

func (r *Router) reject(ctx context.Context, up kit.Update, text string) {
	switch {
	case up.Message != nil:
		_, _ = r.adapter.SendText(ctx, kit.ChatTarget{ChatID: up.Message.ChatID, ThreadID: up.Message.ThreadID}, text, nil)
	case up.Callback != nil:
		_ = r.adapter.AnswerCallback(ctx, up.Callback.ID, text)
	}
}

// prepare turns an update into a runnable job, or nil when there is nothing
// to do. Replies for unauthorized or unknown input are sent directly.
func (r *Router) prepare(ctx context.Context, up kit.Update) func() {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			return r.prepareMessage(ctx, up)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			return r.prepareCallback(ctx, up)
		}
	}
	return nil
}

func (r *Router) prepareMessage(ctx context.Context, up kit.Update) func() {
	msg := up.Message
	word, rest, ok := splitCommand(msg.Text)
	if !ok {
		return nil
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}
	if !r.isOwner(msg.FromID) {
		r.log.Warn("command from non-owner ignored", logx.Int64("from_id", msg.FromID), logx.String("cmd", word))
		_, _ = r.adapter.SendText(ctx, chat, "unauthorized", nil)
		return nil
	}
	r.mu.RLock()
	cmd := r.cmds[word]
	r.mu.RUnlock()
	if cmd == nil {
		_, _ = r.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		return nil
	}

	pos, flags := parseArgs(tokenize(rest))
	req := r.newRequest(up, chat, msg.FromID, cmd.Name)
	req.Text = rest
	req.Args = pos
	req.Flags = flags

	h := Chain(cmd.Handle, MWRecover(r.log), MWLog(r.log), MWActor(), MWTimeout(cmd.Timeout))
	return func() { _ = h(ctx, req) }
}

func (r *Router) prepareCallback(ctx context.Context, up kit.Update) func() {
	cb := up.Callback
	scope, action, payload, ok := tgui.ParseData(cb.Data)
	if !ok {
		return nil
	}
	key := scope + ":" + action
	r.mu.RLock()
	fn := r.callbacks[key]
	r.mu.RUnlock()
	if fn == nil {
		return nil
	}
	if !r.isOwner(cb.FromID) {
		_ = r.adapter.AnswerCallback(ctx, cb.ID, "forbidden")
		return nil
	}

	req := r.newRequest(up, kit.ChatTarget{ChatID: cb.ChatID, ThreadID: cb.ThreadID}, cb.FromID, "cb:"+key)
	var answer string
	h := func(ctx context.Context, req *Request) error {
		var err error
		answer, err = fn(ctx, req, payload)
		return err
	}
	final := Chain(h, MWRecover(r.log), MWLog(r.log), MWActor(), MWTimeout(30*time.Second))
	return func() {
		if err := final(ctx, req); err != nil && answer == "" {
			answer = describeErr(err)
		}
		_ = r.adapter.AnswerCallback(ctx, cb.ID, answer)
	}
}

func (r *Router) newRequest(up kit.Update, chat kit.ChatTarget, from int64, cmd string) *Request {
	rid := newReqID()
	return &Request{
		Update:  up,
		Chat:    chat,
		FromID:  from,
		Command: cmd,
		ReqID:   rid,
		Adapter: r.adapter,
		Logger: r.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", chat.ChatID),
			logx.Int64("from_id", from),
			logx.String("cmd", cmd),
		),
	}
}
