package drip

import (
	"context"
	"sync"
	"time"

	"dripbot/internal/clock"
)

// Governor caps admissions at limit per fixed window. Once the ceiling is
// hit, Admit waits for the window to end and opens a new one.
type Governor struct {
	clock clock.Clock

	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	sent        int
}

func NewGovernor(limit int, window time.Duration, clk clock.Clock) *Governor {
	if clk == nil {
		clk = clock.Real()
	}
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Governor{clock: clk, limit: limit, window: window, windowStart: clk.Now()}
}

// Admit returns once one more send fits the current window. The returned
// bool reports whether the caller had to wait.
func (g *Governor) Admit(ctx context.Context) (waited bool, err error) {
	g.mu.Lock()
	if g.sent < g.limit {
		g.sent++
		g.mu.Unlock()
		return false, nil
	}
	wait := g.windowStart.Add(g.window).Sub(g.clock.Now())
	g.mu.Unlock()

	if wait > 0 {
		if err := g.clock.Sleep(ctx, wait); err != nil {
			return true, err
		}
	}

	g.mu.Lock()
	g.windowStart = g.clock.Now()
	g.sent = 1
	g.mu.Unlock()
	return wait > 0, nil
}

// Refresh starts a new window if the current one has fully elapsed.
func (g *Governor) Refresh(now time.Time) {
	g.mu.Lock()
	if now.Sub(g.windowStart) >= g.window {
		g.windowStart = now
		g.sent = 0
	}
	g.mu.Unlock()
}

// SetLimit changes the ceiling; the current window keeps its count.
func (g *Governor) SetLimit(limit int) {
	if limit <= 0 {
		return
	}
	g.mu.Lock()
	g.limit = limit
	g.mu.Unlock()
}

type GovernorState struct {
	Limit       int
	Window      time.Duration
	WindowStart time.Time
	Sent        int
}

func (g *Governor) State() GovernorState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GovernorState{Limit: g.limit, Window: g.window, WindowStart: g.windowStart, Sent: g.sent}
}
