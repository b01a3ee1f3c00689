// Package domain holds the drip-delivery model shared by storage, scheduling
// and transport code.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// Class separates the two recipient populations. Each class has its own
// table, scheduler loop and rate window.
type Class int

const (
	Individual Class = iota
	Group
)

func (c Class) String() string {
	switch c {
	case Individual:
		return "individual"
	case Group:
		return "group"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass accepts the names produced by String (plus a few aliases used in
// config files).
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "individual", "individuals", "user", "users":
		return Individual, nil
	case "group", "groups":
		return Group, nil
	default:
		return 0, fmt.Errorf("unknown recipient class %q", s)
	}
}

// Classes lists every class in scheduling order.
func Classes() []Class { return []Class{Individual, Group} }

// Metadata is display data refreshed on every subscription command. It never
// influences scheduling.
type Metadata struct {
	Username  string
	FirstName string
	LastName  string
	Title     string
}

// Recipient is one subscribed chat.
type Recipient struct {
	ID     int64
	Class  Class
	Active bool

	// LastSentAt and NextDueAt are nil until the first successful delivery.
	LastSentAt *time.Time
	NextDueAt  *time.Time

	// Cursor indexes the message sequence; it always lies in [0, N).
	Cursor    int
	CreatedAt time.Time

	Metadata
}

// DisplayName picks the most readable label for logs and status output.
func (r Recipient) DisplayName() string {
	if t := strings.TrimSpace(r.Title); t != "" {
		return t
	}
	if u := strings.TrimSpace(r.Username); u != "" {
		return "@" + u
	}
	name := strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
	if name != "" {
		return name
	}
	return fmt.Sprintf("%d", r.ID)
}

// IsDue reports whether the scheduler may pick the recipient at now.
func (r Recipient) IsDue(now time.Time) bool {
	if !r.Active {
		return false
	}
	return r.NextDueAt == nil || !r.NextDueAt.After(now)
}
