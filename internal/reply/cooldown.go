package reply

import (
	"sync"
	"time"
)

// cooldowns remembers when each chat last got a reply. Entries expire after
// ttl, and the map never holds more than maxEntries chats: when full, expired
// entries are dropped first, then the oldest.
type cooldowns struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	last       map[int64]time.Time
}

func newCooldowns(ttl time.Duration, maxEntries int) *cooldowns {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &cooldowns{ttl: ttl, maxEntries: maxEntries, last: map[int64]time.Time{}}
}

// active reports whether chatID replied less than ttl ago.
func (c *cooldowns) active(chatID int64, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.last[chatID]
	if !ok {
		return false
	}
	if now.Sub(t) >= c.ttl {
		delete(c.last, chatID)
		return false
	}
	return true
}

func (c *cooldowns) mark(chatID int64, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.last[chatID]; !ok && len(c.last) >= c.maxEntries {
		c.evict(now)
	}
	c.last[chatID] = now
}

func (c *cooldowns) evict(now time.Time) {
	for id, t := range c.last {
		if now.Sub(t) >= c.ttl {
			delete(c.last, id)
		}
	}
	for len(c.last) >= c.maxEntries {
		var (
			oldestID int64
			oldest   time.Time
			first    = true
		)
		for id, t := range c.last {
			if first || t.Before(oldest) {
				oldestID, oldest, first = id, t, false
			}
		}
		delete(c.last, oldestID)
	}
}

func (c *cooldowns) setTTL(ttl time.Duration, maxEntries int) {
	c.mu.Lock()
	c.ttl = ttl
	if maxEntries > 0 {
		c.maxEntries = maxEntries
	}
	c.mu.Unlock()
}

func (c *cooldowns) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.last)
}
