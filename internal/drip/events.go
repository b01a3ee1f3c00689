package drip

import "dripbot/internal/domain"

// Event types published on the bus.
const (
	EventSent        = "drip.sent"
	EventDeactivated = "drip.deactivated"
	EventSkipped     = "drip.skipped"
	EventCycle       = "drip.cycle"
	EventThrottled   = "drip.throttled"
)

// Event is the payload of every drip.* bus event. Fields that do not apply
// to an event type stay zero.
type Event struct {
	Class       domain.Class
	CycleID     string
	RecipientID int64
	Outcome     domain.OutcomeKind
	Attempts    int
	// Batch is the due-query size (drip.cycle only).
	Batch int
	// Failed marks a cycle that hit an unexpected error (drip.cycle only).
	Failed bool
}
