package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// DefaultMessage is used when no usable sequence file exists.
const DefaultMessage = "Hello! This is a scheduled message. Reply /stop to unsubscribe."

// Messages is the immutable drip sequence.
type Messages struct {
	bodies []string
}

// NewMessages copies bodies. An empty input yields the single default body.
func NewMessages(bodies []string) Messages {
	if len(bodies) == 0 {
		return Messages{bodies: []string{DefaultMessage}}
	}
	return Messages{bodies: append([]string(nil), bodies...)}
}

// LoadMessages reads a JSON array of strings. It always returns a usable
// sequence; err is non-nil when the default body had to be used, so callers
// can log it.
func LoadMessages(path string) (Messages, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return NewMessages(nil), errors.New("messages path is empty")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return NewMessages(nil), fmt.Errorf("read messages %s: %w", path, err)
	}
	var bodies []string
	if err := json.Unmarshal(b, &bodies); err != nil {
		return NewMessages(nil), fmt.Errorf("decode messages %s: %w", path, err)
	}
	if len(bodies) == 0 {
		return NewMessages(nil), fmt.Errorf("messages %s: empty sequence", path)
	}
	return NewMessages(bodies), nil
}

func (m Messages) Len() int {
	if len(m.bodies) == 0 {
		return 1
	}
	return len(m.bodies)
}

// At returns the body for cursor, wrapping modulo Len.
func (m Messages) At(cursor int) string {
	if len(m.bodies) == 0 {
		return DefaultMessage
	}
	return m.bodies[m.norm(cursor)]
}

// Next returns the cursor that follows a successful delivery at cursor.
func (m Messages) Next(cursor int) int {
	return m.norm(m.norm(cursor) + 1)
}

func (m Messages) norm(cursor int) int {
	n := m.Len()
	c := cursor % n
	if c < 0 {
		c += n
	}
	return c
}
