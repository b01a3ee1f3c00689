package reply

import (
	"context"
	"html"
	"math/rand"
	"strings"
	"sync"
	"time"
)

// Phrases picks a random canned phrase. "{name}" is replaced with the
// sender's name (or the chat title in groups when no name is known).
type Phrases struct {
	mu      sync.Mutex
	phrases []string
	rng     *rand.Rand
}

func NewPhrases(phrases []string, rng *rand.Rand) *Phrases {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	p := &Phrases{rng: rng}
	p.Set(phrases)
	return p
}

// Set replaces the phrase list; blank entries are ignored.
func (p *Phrases) Set(phrases []string) {
	clean := make([]string, 0, len(phrases))
	for _, s := range phrases {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	p.mu.Lock()
	p.phrases = clean
	p.mu.Unlock()
}

func (p *Phrases) Generate(_ context.Context, _ string, rc Context) (string, error) {
	p.mu.Lock()
	if len(p.phrases) == 0 {
		p.mu.Unlock()
		return "", nil
	}
	s := p.phrases[p.rng.Intn(len(p.phrases))]
	p.mu.Unlock()

	name := strings.TrimSpace(rc.UserName)
	if name == "" {
		name = strings.TrimSpace(rc.ChatTitle)
	}
	if name == "" {
		name = "friend"
	}
	// Replies go out with HTML parse mode.
	return strings.ReplaceAll(s, "{name}", html.EscapeString(name)), nil
}
