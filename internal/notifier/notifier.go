// Package notifier is pizauth's C7: it turns a NotifyRequest into either
// a desktop notification or a structured log line, per spec.md §4.5 and
// §9's "capability with two variants (desktop, log-only), chosen at
// construction" design note.
package notifier

import (
	"github.com/TheCreeper/go-notify"
	"github.com/godbus/dbus/v5"
	"go.uber.org/zap"
)

// appName matches the app_name field the teacher's own dbus Notify call
// used (go-cervino.go), kept here as the equivalent constant for pizauth.
const appName = "pizauth"

// Backend is the capability spec.md §9 asks for: "emit(account, url)".
// Failures are best-effort (spec.md §4.5): a Backend never returns an
// error the caller must act on beyond logging it.
type Backend interface {
	Notify(account, authURL string)
}

// Desktop emits via github.com/TheCreeper/go-notify, which (like the
// teacher's own hand-rolled dbus notifier in notifier_teacher.go) talks
// to org.freedesktop.Notifications. Using the library instead of the
// teacher's raw dbus calls removes the need to hand-maintain the
// Notify/CloseNotification method signatures and ActionInvoked signal
// plumbing the teacher wrote by hand.
type Desktop struct {
	log *zap.SugaredLogger
}

// NewDesktop builds a Desktop backend. Connecting to the session bus is
// deferred to the first Notify call: go-notify dials lazily per call,
// so there is nothing to hold open or fail at construction time.
func NewDesktop(log *zap.SugaredLogger) *Desktop {
	return &Desktop{log: log}
}

func (d *Desktop) Notify(account, authURL string) {
	n := notify.Notification{
		AppName: appName,
		Summary: "pizauth: authorization required",
		Body:    "Account " + account + " needs authorization:\n" + authURL,
		Timeout: notify.ExpiresNever, // stay until dismissed; the user must act on authURL
	}
	if _, err := n.Show(); err != nil {
		if d.log != nil {
			d.log.Warnw("desktop notification failed, account still needs authorization", "account", account, "error", err)
		}
	}
}

// Log is the fallback backend used when no desktop notification channel
// is available (spec.md §4.5: "else writes a structured log line at
// WARN").
type Log struct {
	log *zap.SugaredLogger
}

// NewLog builds a Log backend.
func NewLog(log *zap.SugaredLogger) *Log {
	return &Log{log: log}
}

func (l *Log) Notify(account, authURL string) {
	l.log.Warnw("authorization required", "account", account, "authorization_url", authURL)
}

// Select probes the session bus the same way notifier_teacher.go's
// NewNotifier did (dbus.SessionBus) to decide which Backend variant spec.md
// §9 calls for: a Desktop backend when a notification channel is actually
// reachable, a Log fallback otherwise (headless server, no session bus).
func Select(log *zap.SugaredLogger) Backend {
	conn, err := dbus.SessionBus()
	if err != nil {
		if log != nil {
			log.Infow("no session bus available, falling back to log notifications", "error", err)
		}
		return NewLog(log)
	}
	conn.Close()
	return NewDesktop(log)
}
