// Package desktop posts freedesktop notifications over D-Bus and reports
// the actions the user invokes on them.
package desktop

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/overlay"
)

const (
	dest      = "org.freedesktop.Notifications"
	path      = dbus.ObjectPath("/org/freedesktop/Notifications")
	iface     = "org.freedesktop.Notifications"
	entryName = "musicisland"
)

// ActionHandler is called with the notification ID and the action key.
type ActionHandler func(id uint32, key string)

// Notifier implements overlay.Notifier on the session bus.
type Notifier struct {
	conn     *dbus.Conn
	ownsConn bool
	obj      dbus.BusObject

	mu       sync.Mutex
	own      map[uint32]struct{} // Notifications posted by this notifier
	handlers []ActionHandler

	signals chan *dbus.Signal
	done    chan struct{}
	once    sync.Once
}

// Connect opens the session bus and creates a notifier on it.
func Connect() (*Notifier, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to session bus")
	}
	n, err := New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	n.ownsConn = true
	return n, nil
}

// New creates a notifier on an existing connection.
func New(conn *dbus.Conn) (*Notifier, error) {
	for _, member := range []string{"ActionInvoked", "NotificationClosed"} {
		if err := conn.AddMatchSignal(
			dbus.WithMatchInterface(iface),
			dbus.WithMatchMember(member),
			dbus.WithMatchObjectPath(path),
		); err != nil {
			return nil, errors.Wrap(err, "failed to add signal match")
		}
	}
	n := newNotifier(conn.Object(dest, path))
	n.conn = conn
	conn.Signal(n.signals)
	go n.dispatch()
	return n, nil
}

func newNotifier(obj dbus.BusObject) *Notifier {
	return &Notifier{
		obj:     obj,
		own:     make(map[uint32]struct{}),
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}
}

// Notify posts or replaces a notification.
func (n *Notifier) Notify(ctx context.Context, notif overlay.Notification) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency":       dbus.MakeVariant(notif.Urgency),
		"desktop-entry": dbus.MakeVariant(entryName),
		"resident":      dbus.MakeVariant(true),
	}
	actions := notif.Actions
	if actions == nil {
		actions = []string{}
	}

	var id uint32
	err := n.obj.CallWithContext(ctx, iface+".Notify", 0,
		notif.AppName,
		notif.ReplacesID,
		notif.Icon,
		notif.Summary,
		notif.Body,
		actions,
		hints,
		notif.Timeout,
	).Store(&id)
	if err != nil {
		return 0, errors.Wrap(err, "failed to post notification")
	}

	n.mu.Lock()
	n.own[id] = struct{}{}
	n.mu.Unlock()
	return id, nil
}

// CloseNotification removes a notification.
func (n *Notifier) CloseNotification(ctx context.Context, id uint32) error {
	n.mu.Lock()
	delete(n.own, id)
	n.mu.Unlock()
	if err := n.obj.CallWithContext(ctx, iface+".CloseNotification", 0, id).Err; err != nil {
		return errors.Wrapf(err, "failed to close notification %d", id)
	}
	return nil
}

// OnAction registers a handler for actions invoked on our notifications.
func (n *Notifier) OnAction(fn ActionHandler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
}

// Close stops dispatching signals.
func (n *Notifier) Close() error {
	var err error
	n.once.Do(func() {
		close(n.done)
		if n.conn == nil {
			return
		}
		n.conn.RemoveSignal(n.signals)
		if n.ownsConn {
			err = errors.Wrap(n.conn.Close(), "failed to close session bus")
		}
	})
	return err
}

func (n *Notifier) dispatch() {
	for {
		select {
		case <-n.done:
			return
		case sig, ok := <-n.signals:
			if !ok {
				return
			}
			n.handle(sig)
		}
	}
}

func (n *Notifier) handle(sig *dbus.Signal) {
	switch sig.Name {
	case iface + ".ActionInvoked":
		if len(sig.Body) != 2 {
			return
		}
		id, ok1 := sig.Body[0].(uint32)
		key, ok2 := sig.Body[1].(string)
		if !ok1 || !ok2 {
			return
		}
		n.mu.Lock()
		_, mine := n.own[id]
		handlers := append([]ActionHandler(nil), n.handlers...)
		n.mu.Unlock()
		if !mine {
			return
		}
		zlog.Debug().Msgf("desktop: action invoked: id=%d key=%s", id, key)
		for _, fn := range handlers {
			fn(id, key)
		}

	case iface + ".NotificationClosed":
		if len(sig.Body) < 1 {
			return
		}
		if id, ok := sig.Body[0].(uint32); ok {
			n.mu.Lock()
			delete(n.own, id)
			n.mu.Unlock()
		}
	}
}
