// Package logind reads the session lock state from systemd-logind.
package logind

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
)

const (
	dest             = "org.freedesktop.login1"
	sessionInterface = "org.freedesktop.login1.Session"
	autoSessionPath  = dbus.ObjectPath("/org/freedesktop/login1/session/auto")
)

// Property reads one property of a bus object.
type Property interface {
	GetProperty(p string) (dbus.Variant, error)
}

// Lock reports whether the caller's login session is unlocked.
// It implements probe.LockState.
type Lock struct {
	conn     *dbus.Conn
	ownsConn bool
	obj      Property
}

// Connect opens the system bus and targets the caller's session.
func Connect() (*Lock, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to system bus")
	}
	return &Lock{conn: conn, ownsConn: true, obj: conn.Object(dest, autoSessionPath)}, nil
}

// New creates a lock reader on an arbitrary object, typically for tests.
func New(obj Property) *Lock {
	return &Lock{obj: obj}
}

// Unlocked returns false while the session's LockedHint is set.
func (l *Lock) Unlocked(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	v, err := l.obj.GetProperty(sessionInterface + ".LockedHint")
	if err != nil {
		return false, errors.Wrap(err, "failed to read LockedHint")
	}
	locked, ok := v.Value().(bool)
	if !ok {
		return false, errors.Newf("unexpected LockedHint type %T", v.Value())
	}
	return !locked, nil
}

// Close closes the bus connection when the lock opened it.
func (l *Lock) Close() error {
	if l.ownsConn && l.conn != nil {
		return errors.Wrap(l.conn.Close(), "failed to close system bus")
	}
	return nil
}
