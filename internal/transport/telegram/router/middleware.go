package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "scoutbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

// slowRequest is the duration from which a successful request logs at INFO.
const slowRequest = 750 * time.Millisecond

// Recover turns a handler panic into an error and logs the stack.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// Timeout bounds the handler context by d. d <= 0 leaves it unbounded.
func Timeout(d time.Duration) Middleware {
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

// AccessLog records each request's outcome and duration on the request
// logger. Failures log at WARN, slow successes at INFO, the rest at DEBUG.
func AccessLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			switch {
			case err != nil:
				req.Logger.Warn("request failed", logx.Duration("dur", took), logx.Int("args", len(req.Args)), logx.Err(err))
			case took >= slowRequest:
				req.Logger.Info("request slow", logx.Duration("dur", took), logx.Int("args", len(req.Args)))
			default:
				req.Logger.Debug("request ok", logx.Duration("dur", took))
			}
			return err
		}
	}
}
