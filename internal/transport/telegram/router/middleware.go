package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"econbot/internal/eventbus"
	"econbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] is the outermost layer.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// replyCtx outlives the handler context so a timeout can still be reported.
func replyCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

// MWPublish emits a command.processed event once the handler returns.
func MWPublish(bus eventbus.Bus) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			ev := Processed{Command: req.Command, ChatID: req.Chat.ChatID, FromID: req.FromID, Took: time.Since(start)}
			if err != nil {
				ev.Error = err.Error()
			}
			bus.Publish(eventbus.Event{Type: eventbus.TypeCommandProcessed, Time: time.Now(), Data: ev})
			return err
		}
	}
}

// MWRecover turns a handler panic into an error and tells the chat.
func MWRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				logger := log
				if !req.Logger.IsZero() {
					logger = req.Logger
				}
				logger.Error("command panicked", logx.Any("panic", r), logx.Stack(debug.Stack()))
				err = fmt.Errorf("panic: %v", r)
				rctx, cancel := replyCtx()
				defer cancel()
				_ = req.Reply(rctx, "internal error, the owner has been notified in the logs")
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every command; quick successes only at debug.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			fields := []logx.Field{
				logx.Int("args", len(req.Args)),
				logx.Bool("owner", req.IsOwner),
				logx.Duration("dur", time.Since(start)),
			}
			switch {
			case err != nil:
				logger.Warn("command failed", append(fields, logx.Err(err))...)
			case time.Since(start) >= time.Second:
				logger.Info("command done", fields...)
			default:
				logger.Debug("command done", fields...)
			}
			return err
		}
	}
}

// MWTimeout bounds the handler by d and answers when it runs out.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			err := next(cctx, req)
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				rctx, rcancel := replyCtx()
				defer rcancel()
				_ = req.Reply(rctx, "/"+req.Command+" timed out after "+d.String())
			}
			return err
		}
	}
}
