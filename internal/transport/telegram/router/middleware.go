package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"time"

	"autopost/internal/orchestrator"
	logx "autopost/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs outermost.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	if d <= 0 {
		d = 30 * time.Second
	}
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWActor tags orchestrator commands with the chat user for the audit log.
func MWActor() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			return next(orchestrator.WithActor(ctx, "telegram:"+strconv.FormatInt(req.FromID, 10)), req)
		}
	}
}

func MWRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					l := log
					if !req.Logger.IsZero() {
						l = req.Logger
					}
					l.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			l := log
			if !req.Logger.IsZero() {
				l = req.Logger
			}
			start := time.Now()
			err := next(ctx, req)
			took := logx.Duration("took", time.Since(start))
			if err != nil {
				l.Warn("command failed", took, logx.Err(err))
				return err
			}
			l.Info("command ok", took)
			return nil
		}
	}
}
