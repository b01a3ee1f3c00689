package reply

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "dripbot/pkg/logx"
)

type staticGen struct {
	out string
	err error
}

func (g staticGen) Generate(context.Context, string, Context) (string, error) { return g.out, g.err }

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Add(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func alwaysPolicy() Policy {
	p := DefaultPolicy()
	p.Chance = 1
	return p
}

func TestGroupGating(t *testing.T) {
	t.Parallel()

	clk := &manualClock{now: time.Unix(1_700_000_000, 0)}
	p := New(alwaysPolicy(), staticGen{out: "nice one"}, logx.Nop(), WithClock(clk.Now))
	ctx := context.Background()
	group := Context{ChatID: -1}

	_, ok := p.MaybeReply(ctx, "short", group)
	assert.False(t, ok, "below min length")

	_, ok = p.MaybeReply(ctx, "/start please do it", group)
	assert.False(t, ok, "commands are ignored")

	got, ok := p.MaybeReply(ctx, "this is long enough", group)
	require.True(t, ok)
	assert.Equal(t, "nice one", got)

	p.MarkReplied(-1)
	_, ok = p.MaybeReply(ctx, "this is long enough", group)
	assert.False(t, ok, "cooldown active")

	_, ok = p.MaybeReply(ctx, "this is long enough", Context{ChatID: -2})
	assert.True(t, ok, "cooldown is per chat")

	clk.Add(300 * time.Second)
	_, ok = p.MaybeReply(ctx, "this is long enough", group)
	assert.True(t, ok, "cooldown expired")
}

func TestGroupChance(t *testing.T) {
	t.Parallel()

	pol := DefaultPolicy()
	pol.Chance = 0.3
	p := New(pol, staticGen{out: "x"}, logx.Nop(), WithRand(rand.New(rand.NewSource(42))))

	hits := 0
	for i := 0; i < 2000; i++ {
		if _, ok := p.MaybeReply(context.Background(), "long enough message", Context{ChatID: int64(-i)}); ok {
			hits++
		}
	}
	assert.InDelta(t, 600, hits, 120)

	pol.Chance = 0
	p.Apply(pol)
	_, ok := p.MaybeReply(context.Background(), "long enough message", Context{ChatID: -99999})
	assert.False(t, ok)
}

func TestPrivateAlwaysAnswers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	priv := Context{ChatID: 5, Private: true}

	p := New(alwaysPolicy(), staticGen{}, logx.Nop())
	got, ok := p.MaybeReply(ctx, "hi", priv)
	require.True(t, ok)
	assert.Equal(t, DefaultPolicy().Fallback, got)

	p = New(alwaysPolicy(), staticGen{err: errors.New("boom")}, logx.Nop())
	got, ok = p.MaybeReply(ctx, "hi", priv)
	require.True(t, ok)
	assert.Equal(t, DefaultPolicy().Fallback, got)

	p = New(alwaysPolicy(), staticGen{out: "hello"}, logx.Nop())
	got, ok = p.MaybeReply(ctx, "hi", priv)
	require.True(t, ok)
	assert.Equal(t, "hello", got)
}

func TestDisabledPolicy(t *testing.T) {
	t.Parallel()

	pol := alwaysPolicy()
	pol.Enabled = false
	p := New(pol, staticGen{out: "x"}, logx.Nop())
	_, ok := p.MaybeReply(context.Background(), "hello there friend", Context{ChatID: 1, Private: true})
	assert.False(t, ok)
}

func TestReplyIsCapped(t *testing.T) {
	t.Parallel()

	p := New(alwaysPolicy(), staticGen{out: strings.Repeat("ж", 500)}, logx.Nop())
	got, ok := p.MaybeReply(context.Background(), "hello", Context{Private: true})
	require.True(t, ok)
	assert.Equal(t, 200, utf8.RuneCountInString(got))
	assert.True(t, strings.HasSuffix(got, "..."))
}

func TestCooldownCacheIsBounded(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	c := newCooldowns(time.Minute, 3)
	for i := int64(1); i <= 3; i++ {
		c.mark(i, now.Add(time.Duration(i)*time.Second))
	}
	c.mark(4, now.Add(4*time.Second))
	assert.Equal(t, 3, c.len())
	assert.False(t, c.active(1, now.Add(5*time.Second)), "oldest evicted")
	assert.True(t, c.active(4, now.Add(5*time.Second)))

	// Expired entries go first.
	c.mark(5, now.Add(2*time.Minute))
	assert.Equal(t, 1, c.len())
}

func TestPhrasesSubstituteName(t *testing.T) {
	t.Parallel()

	g := NewPhrases([]string{" ", "hey {name}!"}, rand.New(rand.NewSource(1)))
	got, err := g.Generate(context.Background(), "x", Context{UserName: "Ann"})
	require.NoError(t, err)
	assert.Equal(t, "hey Ann!", got)

	got, err = g.Generate(context.Background(), "x", Context{ChatTitle: "Team"})
	require.NoError(t, err)
	assert.Equal(t, "hey Team!", got)

	g.Set(nil)
	got, err = g.Generate(context.Background(), "x", Context{})
	require.NoError(t, err)
	assert.Empty(t, got)
}
