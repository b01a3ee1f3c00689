package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dripbot/internal/clock"
	"dripbot/internal/domain"
	logx "dripbot/pkg/logx"
)

// scripted returns outcomes in order and repeats the last one.
type scripted struct {
	mu    sync.Mutex
	outs  []domain.Outcome
	calls int
}

func (s *scripted) Send(_ context.Context, _ int64, _ string) domain.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.outs)-1)
	s.calls++
	return s.outs[i]
}

func newExec(tr Transport) (*Executor, *clock.Fake) {
	clk := clock.NewFake(time.Unix(1_700_000_000, 0))
	return NewExecutor(tr, clk, DefaultConfig(), logx.Nop()), clk
}

func TestRateLimitedTwiceThenSuccess(t *testing.T) {
	t.Parallel()

	tr := &scripted{outs: []domain.Outcome{
		domain.Throttled(5*time.Second, nil),
		domain.Throttled(5*time.Second, nil),
		domain.Delivered(),
	}}
	ex, clk := newExec(tr)

	res := ex.Deliver(context.Background(), 1, "hi")
	require.True(t, res.OK())
	assert.Equal(t, 3, res.Attempts)
	assert.False(t, res.Permanent)
	assert.GreaterOrEqual(t, clk.TotalSlept(), 12*time.Second)
	assert.Equal(t, []time.Duration{6 * time.Second, 6 * time.Second}, clk.Slept())
}

func TestTransientFailureBackoff(t *testing.T) {
	t.Parallel()

	tr := &scripted{outs: []domain.Outcome{domain.Transient(errors.New("timeout")), domain.Delivered()}}
	ex, clk := newExec(tr)

	res := ex.Deliver(context.Background(), 1, "hi")
	require.True(t, res.OK())
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Slept())
}

func TestRetriesExhausted(t *testing.T) {
	t.Parallel()

	tr := &scripted{outs: []domain.Outcome{domain.Transient(errors.New("down"))}}
	ex, clk := newExec(tr)

	res := ex.Deliver(context.Background(), 1, "hi")
	assert.False(t, res.OK())
	assert.True(t, res.Permanent)
	assert.True(t, res.Deactivate())
	assert.ErrorIs(t, res.Err, ErrRetriesExhausted)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, tr.calls)
	// No wait after the final attempt.
	assert.Len(t, clk.Slept(), 2)
}

func TestPermanentOutcomesStopImmediately(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		out        domain.Outcome
		err        error
		deactivate bool
	}{
		{"blocked", domain.Unreachable(errors.New("403")), ErrBlocked, true},
		{"invalid", domain.Rejected(errors.New("400")), ErrInvalidContent, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tr := &scripted{outs: []domain.Outcome{tc.out}}
			ex, clk := newExec(tr)

			res := ex.Deliver(context.Background(), 1, "hi")
			assert.True(t, res.Permanent)
			assert.ErrorIs(t, res.Err, tc.err)
			assert.Equal(t, tc.deactivate, res.Deactivate())
			assert.Equal(t, 1, res.Attempts)
			assert.Empty(t, clk.Slept())
		})
	}
}

func TestCancelDuringRetryIsNotPermanent(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	tr := &scripted{outs: []domain.Outcome{domain.Throttled(time.Minute, nil)}}
	clk := clock.NewFake(time.Unix(0, 0))
	// Cancel as soon as the executor asks to wait; the fake then refuses the
	// next sleep.
	ex := NewExecutor(&cancelOnSend{inner: tr, cancel: cancel}, clk, DefaultConfig(), logx.Nop())

	res := ex.Deliver(ctx, 1, "hi")
	assert.False(t, res.OK())
	assert.False(t, res.Permanent)
	assert.False(t, res.Deactivate())
	assert.ErrorIs(t, res.Err, context.Canceled)
}

type cancelOnSend struct {
	inner  Transport
	cancel context.CancelFunc
}

func (c *cancelOnSend) Send(ctx context.Context, id int64, text string) domain.Outcome {
	out := c.inner.Send(ctx, id, text)
	c.cancel()
	return out
}
