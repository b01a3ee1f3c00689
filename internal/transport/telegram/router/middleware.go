package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "dripbot/pkg/logx"
)

// HandlerFunc handles one routed message.
type HandlerFunc func(ctx context.Context, req *Request) error

type middleware func(HandlerFunc) HandlerFunc

// slowRequest promotes successful request logs from debug to info.
const slowRequest = 750 * time.Millisecond

// wrap applies mws around h; the first one sees the call first.
func wrap(h HandlerFunc, mws ...middleware) HandlerFunc {
	for i := range mws {
		h = mws[len(mws)-1-i](h)
	}
	return h
}

func withDeadline(d time.Duration) middleware {
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

func withRecover(log logx.Logger) middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				p := recover()
				if p == nil {
					return
				}
				req.logger(log).Error("handler panicked", logx.Any("panic", p), logx.Stack(string(debug.Stack())))
				err = fmt.Errorf("handler panic: %v", p)
			}()
			return next(ctx, req)
		}
	}
}

func withTiming(log logx.Logger) middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := logx.Duration("dur", time.Since(began))
			l := req.logger(log)
			switch {
			case err != nil:
				l.Warn("request failed", took, logx.Err(err))
			case time.Since(began) >= slowRequest:
				l.Info("request ok", took)
			default:
				l.Debug("request ok", took)
			}
			return err
		}
	}
}
