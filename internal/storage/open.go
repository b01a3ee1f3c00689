package storage

import (
	"strings"
	"time"

	logx "dripbot/pkg/logx"
)

// Option tweaks Open.
type Option func(*sqliteStore)

// WithClock overrides the time source used for created/last-sent stamps.
func WithClock(now func() time.Time) Option {
	return func(s *sqliteStore) {
		if now != nil {
			s.now = now
		}
	}
}

// Open opens (and migrates) the SQLite database at cfg.Path.
func Open(cfg Config, log logx.Logger, opts ...Option) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Path = strings.TrimSpace(cfg.Path)
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	return openSQLite(cfg, log, opts...)
}
