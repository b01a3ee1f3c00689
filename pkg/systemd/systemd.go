// Package systemd reports process state to the service manager of a
// Type=notify unit. Outside systemd every call is a no-op.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// Notifier wraps sd_notify. The zero value is not usable; call New.
type Notifier struct {
	notify   func(unsetEnv bool, state string) (bool, error)
	watchdog func(unsetEnv bool) (time.Duration, error)
}

func New() *Notifier {
	return &Notifier{notify: daemon.SdNotify, watchdog: daemon.SdWatchdogEnabled}
}

// Ready reports a finished startup. sent is false when NOTIFY_SOCKET is unset.
func (n *Notifier) Ready() (sent bool, err error) {
	return n.notify(false, daemon.SdNotifyReady)
}

func (n *Notifier) Stopping() (bool, error) {
	return n.notify(false, daemon.SdNotifyStopping)
}

// Status sets the free-form line shown by systemctl status.
func (n *Notifier) Status(msg string) (bool, error) {
	return n.notify(false, "STATUS="+msg)
}

// Watchdog pings the service manager at half of WatchdogSec until ctx is
// done. It returns immediately when the unit has no watchdog. A ping is
// skipped while healthy reports an error, so a wedged process gets restarted.
func (n *Notifier) Watchdog(ctx context.Context, healthy func(context.Context) error) error {
	every, err := n.watchdog(false)
	if err != nil || every <= 0 {
		return err
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil {
				hctx, cancel := context.WithTimeout(ctx, every/2)
				err := healthy(hctx)
				cancel()
				if err != nil {
					continue
				}
			}
			_, _ = n.notify(false, daemon.SdNotifyWatchdog)
		}
	}
}
