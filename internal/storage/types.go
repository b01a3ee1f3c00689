// Package storage persists recipients. Every operation is a single SQL
// statement, so concurrent callers never observe a half-applied update.
package storage

import (
	"context"
	"errors"
	"time"

	"dripbot/internal/domain"
)

var ErrNotFound = errors.New("recipient not found")

// Config configures the SQLite database.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means 5s
}

// RecipientStore is the per-class view used by commands and schedulers.
type RecipientStore interface {
	Class() domain.Class

	// Upsert creates the recipient or reactivates it and refreshes its
	// metadata. Schedule fields are left untouched.
	Upsert(ctx context.Context, id int64, meta domain.Metadata) error
	SetActive(ctx context.Context, id int64, active bool) error
	Get(ctx context.Context, id int64) (*domain.Recipient, error)

	// Due returns active recipients whose next due time is unset or not
	// after now: unset first, then ascending due time.
	Due(ctx context.Context, now time.Time, limit int) ([]domain.Recipient, error)

	// MarkSent records a successful delivery at sentAt together with the new
	// due time and cursor.
	MarkSent(ctx context.Context, id int64, sentAt, nextDue time.Time, cursor int) error
}

// Counts summarizes one class.
type Counts struct {
	Total  int
	Active int
	// Due counts active recipients due at the time of the query.
	Due int
}

type Store interface {
	Recipients(class domain.Class) RecipientStore
	Count(ctx context.Context, class domain.Class) (Counts, error)
	Ping(ctx context.Context) error
	Close() error
}
