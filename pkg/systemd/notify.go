// Package systemd reports service state to systemd (sd_notify).
//
// Every call is a no-op when the process was not started by systemd with
// Type=notify (NOTIFY_SOCKET unset) or when notifications are disabled.
package systemd

import (
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "scriptwatch/pkg/logx"
)

type Notifier struct {
	enabled  atomic.Bool
	log      logx.Logger
	watchdog time.Duration
	lastBeat atomic.Int64
}

func New(enabled bool, log logx.Logger) *Notifier {
	n := &Notifier{log: log}
	n.enabled.Store(enabled)
	if d, err := daemon.SdWatchdogEnabled(false); err == nil && d > 0 {
		n.watchdog = d
	}
	return n
}

func (n *Notifier) SetEnabled(v bool) { n.enabled.Store(v) }

// WatchdogInterval is WATCHDOG_USEC, 0 if the watchdog is off.
func (n *Notifier) WatchdogInterval() time.Duration { return n.watchdog }

func (n *Notifier) Ready() { n.send(daemon.SdNotifyReady) }

func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

func (n *Notifier) Status(s string) { n.send("STATUS=" + s) }

// Heartbeat pings the watchdog at most twice per watchdog interval.
func (n *Notifier) Heartbeat() {
	if n.watchdog <= 0 {
		return
	}
	now := time.Now().UnixNano()
	if last := n.lastBeat.Load(); last != 0 && time.Duration(now-last) < n.watchdog/2 {
		return
	}
	n.lastBeat.Store(now)
	n.send(daemon.SdNotifyWatchdog)
}

func (n *Notifier) send(state string) {
	if n == nil || !n.enabled.Load() {
		return
	}
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Debug("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Trace("sd_notify", logx.String("state", state))
	}
}
