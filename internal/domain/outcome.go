package domain

import (
	"fmt"
	"time"
)

// OutcomeKind enumerates what a single delivery attempt can yield.
type OutcomeKind int

const (
	Success OutcomeKind = iota
	// RateLimited carries the server-requested back-off in Outcome.RetryAfter.
	RateLimited
	// Blocked means the recipient can no longer be reached (blocked the bot,
	// was removed from the group, chat deleted or migrated).
	Blocked
	// InvalidContent means the request itself was rejected. Retrying the same
	// payload will not help, but the recipient is not at fault.
	InvalidContent
	// TransientFailure covers network errors, timeouts and server errors.
	TransientFailure
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate_limited"
	case Blocked:
		return "blocked"
	case InvalidContent:
		return "invalid_content"
	case TransientFailure:
		return "transient_failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the classified result of one transport call. Only RateLimited
// uses RetryAfter. Err keeps the underlying transport error for logging.
type Outcome struct {
	Kind       OutcomeKind
	RetryAfter time.Duration
	Err        error
}

func Delivered() Outcome { return Outcome{Kind: Success} }

func Throttled(retryAfter time.Duration, err error) Outcome {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Outcome{Kind: RateLimited, RetryAfter: retryAfter, Err: err}
}

func Unreachable(err error) Outcome { return Outcome{Kind: Blocked, Err: err} }

func Rejected(err error) Outcome { return Outcome{Kind: InvalidContent, Err: err} }

func Transient(err error) Outcome { return Outcome{Kind: TransientFailure, Err: err} }

func (o Outcome) OK() bool { return o.Kind == Success }

func (o Outcome) String() string {
	if o.Kind == RateLimited {
		return fmt.Sprintf("%s(%s)", o.Kind, o.RetryAfter)
	}
	return o.Kind.String()
}
