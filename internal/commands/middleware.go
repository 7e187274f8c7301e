package commands

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "scriptwatch/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware decorates a handler.
type Middleware func(next HandlerFunc) HandlerFunc

// Wrap applies mws so that the first one is outermost.
func Wrap(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Deadline bounds a handler's context. d <= 0 leaves it unbounded.
func Deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// Recover turns a handler panic into an error.
func Recover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.Error("command panicked", logx.String("cmd", req.Command), logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}()
			return next(ctx, req)
		}
	}
}

// Logged logs each invocation with its outcome and duration.
func Logged(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			l := log.With(logx.String("cmd", req.Command), logx.Int64("from_id", req.FromID),
				logx.Int64("chat_id", req.Chat.ChatID), logx.Duration("took", time.Since(began)))
			if err != nil {
				l.Warn("command failed", logx.Err(err))
				return err
			}
			l.Debug("command handled")
			return nil
		}
	}
}

// ReportErrors tells the operator when a command fails instead of leaving
// the chat silent.
func ReportErrors() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil || req.Reply == nil {
				return err
			}
			msg := fmt.Sprintf("/%s failed: %v", req.Command, err)
			if errors.Is(err, context.DeadlineExceeded) {
				msg = fmt.Sprintf("/%s timed out", req.Command)
			}
			// the handler ctx may be the expired one
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = req.Reply(rctx, msg)
			return err
		}
	}
}
