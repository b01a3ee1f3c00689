// Package delivery sends one message to one recipient with bounded retries.
// It classifies but never persists; callers decide what an outcome means for
// the recipient.
package delivery

import (
	"context"
	"errors"
	"time"

	"dripbot/internal/clock"
	"dripbot/internal/domain"
	logx "dripbot/pkg/logx"
)

var (
	ErrRetriesExhausted = errors.New("delivery retries exhausted")
	ErrBlocked          = errors.New("recipient unreachable")
	ErrInvalidContent   = errors.New("message rejected")
)

// Transport performs a single send attempt and classifies its result.
type Transport interface {
	Send(ctx context.Context, chatID int64, text string) domain.Outcome
}

type Config struct {
	// MaxAttempts bounds the number of transport calls per Deliver.
	MaxAttempts int
	// TransientDelay is the fixed wait after a transient failure.
	TransientDelay time.Duration
	// RateLimitPad is added to the server-provided retry-after.
	RateLimitPad time.Duration
}

func DefaultConfig() Config {
	return Config{MaxAttempts: 3, TransientDelay: 2 * time.Second, RateLimitPad: time.Second}
}

// Result is the final verdict for one Deliver call. Outcome is the last
// observed attempt result.
type Result struct {
	Outcome  domain.Outcome
	Attempts int
	// Permanent is set when the recipient should not be retried this cycle:
	// Blocked, InvalidContent or retries exhausted. A cancelled call is never
	// permanent.
	Permanent bool
	Err       error
}

func (r Result) OK() bool { return r.Outcome.Kind == domain.Success && r.Err == nil }

// Deactivate reports whether the recipient must be marked inactive.
func (r Result) Deactivate() bool {
	return errors.Is(r.Err, ErrBlocked) || errors.Is(r.Err, ErrRetriesExhausted)
}

type Executor struct {
	tr    Transport
	clock clock.Clock
	cfg   Config
	log   logx.Logger
}

func NewExecutor(tr Transport, clk clock.Clock, cfg Config, log logx.Logger) *Executor {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.TransientDelay <= 0 {
		cfg.TransientDelay = def.TransientDelay
	}
	if cfg.RateLimitPad < 0 {
		cfg.RateLimitPad = 0
	}
	if clk == nil {
		clk = clock.Real()
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{tr: tr, clock: clk, cfg: cfg, log: log.With(logx.String("comp", "delivery"))}
}

// Deliver runs the retry state machine:
//
//	Success          -> done
//	RateLimited(d)   -> wait d+pad, retry
//	TransientFailure -> wait TransientDelay, retry
//	Blocked          -> permanent
//	InvalidContent   -> permanent
//
// and gives up with ErrRetriesExhausted after MaxAttempts.
func (e *Executor) Deliver(ctx context.Context, chatID int64, text string) Result {
	var last domain.Outcome
	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		last = e.tr.Send(ctx, chatID, text)

		var wait time.Duration
		switch last.Kind {
		case domain.Success:
			return Result{Outcome: last, Attempts: attempt}
		case domain.Blocked:
			e.log.Info("recipient unreachable", logx.Int64("chat_id", chatID), logx.Err(last.Err))
			return Result{Outcome: last, Attempts: attempt, Permanent: true, Err: ErrBlocked}
		case domain.InvalidContent:
			e.log.Warn("message rejected", logx.Int64("chat_id", chatID), logx.Err(last.Err))
			return Result{Outcome: last, Attempts: attempt, Permanent: true, Err: ErrInvalidContent}
		case domain.RateLimited:
			wait = last.RetryAfter + e.cfg.RateLimitPad
		default:
			wait = e.cfg.TransientDelay
		}

		if attempt == e.cfg.MaxAttempts {
			break
		}
		e.log.Debug("delivery retry",
			logx.Int64("chat_id", chatID),
			logx.Int("attempt", attempt),
			logx.String("outcome", last.String()),
			logx.Duration("wait", wait),
			logx.Err(last.Err),
		)
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return Result{Outcome: last, Attempts: attempt, Err: err}
		}
	}

	e.log.Warn("delivery retries exhausted",
		logx.Int64("chat_id", chatID),
		logx.Int("attempts", e.cfg.MaxAttempts),
		logx.String("outcome", last.String()),
		logx.Err(last.Err),
	)
	return Result{Outcome: last, Attempts: e.cfg.MaxAttempts, Permanent: true, Err: ErrRetriesExhausted}
}
