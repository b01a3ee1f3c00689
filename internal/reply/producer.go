// Package reply decides whether an inbound message deserves a conversational
// answer and produces it.
package reply

import (
	"context"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	logx "dripbot/pkg/logx"
)

// Policy gates replies. Zero lengths and durations fall back to
// DefaultPolicy; a zero Chance silences groups.
type Policy struct {
	Enabled bool
	// Chance is the probability of answering an eligible group message.
	Chance    float64
	MinLength int
	// Cooldown is the minimum gap between two replies in one group.
	Cooldown   time.Duration
	MaxEntries int
	// MaxLength caps replies, in runes.
	MaxLength int
	// Fallback answers private messages when the generator has nothing.
	Fallback string
}

func DefaultPolicy() Policy {
	return Policy{
		Enabled:    true,
		Chance:     0.3,
		MinLength:  10,
		Cooldown:   300 * time.Second,
		MaxEntries: 10000,
		MaxLength:  200,
		Fallback:   "Sorry, I didn't quite get that. Try /help to see what I can do.",
	}
}

func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.Chance < 0 {
		p.Chance = 0
	}
	if p.Chance > 1 {
		p.Chance = 1
	}
	if p.MinLength <= 0 {
		p.MinLength = def.MinLength
	}
	if p.Cooldown <= 0 {
		p.Cooldown = def.Cooldown
	}
	if p.MaxEntries <= 0 {
		p.MaxEntries = def.MaxEntries
	}
	if p.MaxLength <= 0 {
		p.MaxLength = def.MaxLength
	}
	if strings.TrimSpace(p.Fallback) == "" {
		p.Fallback = def.Fallback
	}
	return p
}

// Context describes where a message came from.
type Context struct {
	ChatID    int64
	Private   bool
	ChatTitle string
	UserName  string
}

// Generator produces a candidate reply; an empty string means nothing to say.
type Generator interface {
	Generate(ctx context.Context, text string, rc Context) (string, error)
}

type Producer struct {
	gen  Generator
	log  logx.Logger
	now  func() time.Time
	cool *cooldowns

	mu     sync.Mutex
	policy Policy
	rng    *rand.Rand
}

type Option func(*Producer)

func WithClock(now func() time.Time) Option {
	return func(p *Producer) { p.now = now }
}

func WithRand(r *rand.Rand) Option {
	return func(p *Producer) { p.rng = r }
}

func New(policy Policy, gen Generator, log logx.Logger, opts ...Option) *Producer {
	policy = policy.withDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Producer{
		gen:    gen,
		log:    log.With(logx.String("comp", "reply")),
		now:    time.Now,
		cool:   newCooldowns(policy.Cooldown, policy.MaxEntries),
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		if o != nil {
			o(p)
		}
	}
	return p
}

// Apply swaps the policy. Existing cooldowns keep their timestamps.
func (p *Producer) Apply(policy Policy) {
	policy = policy.withDefaults()
	p.mu.Lock()
	p.policy = policy
	p.mu.Unlock()
	p.cool.setTTL(policy.Cooldown, policy.MaxEntries)
}

func (p *Producer) Policy() Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.policy
}

// MaybeReply returns the reply to send, if any. It does not start the
// cooldown; call MarkReplied once the reply was delivered.
func (p *Producer) MaybeReply(ctx context.Context, text string, rc Context) (string, bool) {
	pol := p.Policy()
	text = strings.TrimSpace(text)
	if !pol.Enabled || text == "" || strings.HasPrefix(text, "/") {
		return "", false
	}

	if !rc.Private {
		if utf8.RuneCountInString(text) < pol.MinLength {
			return "", false
		}
		if p.cool.active(rc.ChatID, p.now()) {
			return "", false
		}
		if !p.roll(pol.Chance) {
			return "", false
		}
	}

	out, err := p.gen.Generate(ctx, text, rc)
	if err != nil {
		p.log.Warn("reply generation failed", logx.Int64("chat_id", rc.ChatID), logx.Err(err))
		out = ""
	}
	out = strings.TrimSpace(out)
	if out == "" {
		if rc.Private {
			return pol.Fallback, true
		}
		return "", false
	}
	return capRunes(out, pol.MaxLength), true
}

// MarkReplied starts the cooldown for a group chat.
func (p *Producer) MarkReplied(chatID int64) {
	p.cool.mark(chatID, p.now())
}

func (p *Producer) roll(chance float64) bool {
	if chance <= 0 {
		return false
	}
	if chance >= 1 {
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64() < chance
}

// capRunes truncates s to n runes, ending with "..." when cut.
func capRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	rs := []rune(s)
	if n <= 3 {
		return string(rs[:n])
	}
	return string(rs[:n-3]) + "..."
}
