package systemd

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	states []string
}

func (r *recorder) notify(_ bool, state string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	return true, nil
}

func (r *recorder) count(state string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s == state {
			n++
		}
	}
	return n
}

func newTestNotifier(rec *recorder, every time.Duration) *Notifier {
	return &Notifier{
		notify:   rec.notify,
		watchdog: func(bool) (time.Duration, error) { return every, nil },
	}
}

func TestLifecycleStates(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := newTestNotifier(rec, 0)

	_, err := n.Ready()
	require.NoError(t, err)
	_, err = n.Status("2 schedulers running")
	require.NoError(t, err)
	_, err = n.Stopping()
	require.NoError(t, err)

	assert.Equal(t, []string{daemon.SdNotifyReady, "STATUS=2 schedulers running", daemon.SdNotifyStopping}, rec.states)
}

func TestWatchdogDisabledReturnsAtOnce(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	require.NoError(t, newTestNotifier(rec, 0).Watchdog(context.Background(), nil))
	assert.Empty(t, rec.states)
}

func TestWatchdogPingsWhileHealthy(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := newTestNotifier(rec, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Watchdog(ctx, func(context.Context) error { return nil }) }()

	require.Eventually(t, func() bool { return rec.count(daemon.SdNotifyWatchdog) >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestWatchdogSkipsWhenUnhealthy(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	n := newTestNotifier(rec, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, n.Watchdog(ctx, func(context.Context) error { return errors.New("db down") }))
	assert.Zero(t, rec.count(daemon.SdNotifyWatchdog))
}
