// Package systemd speaks the sd_notify protocol for Type=notify units.
//
// Every call is a no-op when NOTIFY_SOCKET is unset, so the binary behaves the
// same under a terminal, a container or systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
)

// notify is swapped in tests.
var notify = daemon.SdNotify

func send(state string) (bool, error) { return notify(false, state) }

// Ready reports READY=1. sent is false when no notify socket is configured.
func Ready() (sent bool, err error) { return send(daemon.SdNotifyReady) }

// Stopping reports STOPPING=1.
func Stopping() (bool, error) { return send(daemon.SdNotifyStopping) }

// Reloading reports RELOADING=1; follow with Ready once the reload applied.
func Reloading() (bool, error) { return send(daemon.SdNotifyReloading) }

// Status sets the free-form status line shown by systemctl status.
func Status(msg string) (bool, error) { return send("STATUS=" + msg) }

// WatchdogInterval returns the ping period, half of WATCHDOG_USEC, or zero
// when the watchdog is disabled for this process.
func WatchdogInterval() time.Duration {
	d, err := daemon.SdWatchdogEnabled(false)
	if err != nil || d <= 0 {
		return 0
	}
	return d / 2
}

// Watchdog pings WATCHDOG=1 every interval while healthy returns nil. A nil
// healthy always pings. It returns when ctx is done.
func Watchdog(ctx context.Context, interval time.Duration, healthy func(context.Context) error) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if healthy != nil {
				hctx, cancel := context.WithTimeout(ctx, interval/2)
				err := healthy(hctx)
				cancel()
				if err != nil {
					continue
				}
			}
			_, _ = send(daemon.SdNotifyWatchdog)
		}
	}
}
