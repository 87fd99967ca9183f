package mpris

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/media"
)

// Manager lists MPRIS players and reports changes to the set.
// It implements media.SessionManager.
type Manager struct {
	conn     *dbus.Conn
	ownsConn bool
	clock    clockwork.Clock

	mu       sync.Mutex
	sessions map[string]*session // Keyed by well-known bus name
	watchers map[string]func()
	closed   bool

	signals chan *dbus.Signal
	done    chan struct{}
}

// Connect opens the session bus and creates a manager on it.
func Connect(clock clockwork.Clock) (*Manager, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to session bus")
	}
	m, err := New(conn, clock)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	m.ownsConn = true
	return m, nil
}

// New creates a manager on an existing connection and starts dispatching
// player signals.
func New(conn *dbus.Conn, clock clockwork.Clock) (*Manager, error) {
	matches := [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(busInterface),
			dbus.WithMatchMember("NameOwnerChanged"),
			dbus.WithMatchArg0Namespace(RootInterface),
		},
		{
			dbus.WithMatchInterface(propertiesInterface),
			dbus.WithMatchMember("PropertiesChanged"),
			dbus.WithMatchObjectPath(ObjectPath),
		},
		{
			dbus.WithMatchInterface(PlayerInterface),
			dbus.WithMatchMember("Seeked"),
			dbus.WithMatchObjectPath(ObjectPath),
		},
	}
	for _, opts := range matches {
		if err := conn.AddMatchSignal(opts...); err != nil {
			return nil, errors.Wrap(err, "failed to add signal match")
		}
	}

	m := newManager(conn, clock)
	conn.Signal(m.signals)
	go m.dispatch()
	return m, nil
}

func newManager(conn *dbus.Conn, clock clockwork.Clock) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Manager{
		conn:     conn,
		clock:    clock,
		sessions: make(map[string]*session),
		watchers: make(map[string]func()),
		signals:  make(chan *dbus.Signal, 64),
		done:     make(chan struct{}),
	}
}

// ActiveSessions returns a session for every MPRIS player on the bus,
// ordered by bus name.
func (m *Manager) ActiveSessions(ctx context.Context) ([]media.Session, error) {
	var names []string
	if err := m.conn.BusObject().CallWithContext(ctx, busInterface+".ListNames", 0).Store(&names); err != nil {
		return nil, errors.Wrap(err, "failed to list bus names")
	}
	sort.Strings(names)

	sessions := make([]media.Session, 0, len(names))
	for _, name := range names {
		player, ok := PlayerName(name)
		if !ok {
			continue
		}
		s, err := m.session(ctx, name, player)
		if err != nil {
			zlog.Debug().Err(err).Msgf("mpris: skipping player: name=%s", name)
			continue
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

// session returns the cached session for name, loading a new one when the
// owner changed.
func (m *Manager) session(ctx context.Context, name, player string) (*session, error) {
	var owner string
	if err := m.conn.BusObject().CallWithContext(ctx, busInterface+".GetNameOwner", 0, name).Store(&owner); err != nil {
		return nil, errors.Wrapf(err, "failed to get owner of %s", name)
	}

	m.mu.Lock()
	if s, ok := m.sessions[name]; ok && s.owner == owner {
		m.mu.Unlock()
		return s, nil
	}
	m.mu.Unlock()

	s := newSession(m, name, player, owner, m.conn.Object(owner, ObjectPath))
	if err := s.load(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[name]; ok && existing.owner == owner {
		return existing, nil
	}
	m.sessions[name] = s
	zlog.Debug().Msgf("mpris: session loaded: name=%s owner=%s phase=%s", name, owner, s.Phase())
	return s, nil
}

// WatchSessions calls onChange whenever a player appears, disappears or
// changes owner. The watch ends with ctx or Unsubscribe.
func (m *Manager) WatchSessions(ctx context.Context, onChange func()) (media.Subscription, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.New("mpris manager closed")
	}
	id := uuid.New().String()
	m.watchers[id] = onChange
	m.mu.Unlock()

	sub := newSubscription(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	})
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Unsubscribe()
		case <-m.done:
		}
	}()
	return sub, nil
}

// Close stops dispatching signals. The connection is closed when the
// manager opened it.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.watchers = make(map[string]func())
	m.mu.Unlock()

	close(m.done)
	if m.conn == nil {
		return nil
	}
	m.conn.RemoveSignal(m.signals)
	if m.ownsConn {
		return errors.Wrap(m.conn.Close(), "failed to close session bus")
	}
	return nil
}

func (m *Manager) dispatch() {
	for {
		select {
		case <-m.done:
			return
		case sig, ok := <-m.signals:
			if !ok {
				return
			}
			m.handle(sig)
		}
	}
}

// handle routes one bus signal.
func (m *Manager) handle(sig *dbus.Signal) {
	switch sig.Name {
	case busInterface + ".NameOwnerChanged":
		name, _, newOwner, ok := parseNameOwnerChanged(sig.Body)
		if !ok {
			return
		}
		if _, ok := PlayerName(name); !ok {
			return
		}
		m.mu.Lock()
		if s, ok := m.sessions[name]; ok && s.owner != newOwner {
			delete(m.sessions, name)
		}
		watchers := make([]func(), 0, len(m.watchers))
		for _, fn := range m.watchers {
			watchers = append(watchers, fn)
		}
		m.mu.Unlock()

		zlog.Debug().Msgf("mpris: player owner changed: name=%s owner=%q", name, newOwner)
		for _, fn := range watchers {
			fn()
		}

	case propertiesInterface + ".PropertiesChanged":
		iface, changed, ok := parsePropertiesChanged(sig.Body)
		if !ok || iface != PlayerInterface {
			return
		}
		if s := m.sessionByOwner(sig.Sender); s != nil {
			s.onProperties(changed)
		}

	case PlayerInterface + ".Seeked":
		if len(sig.Body) != 1 {
			return
		}
		if s := m.sessionByOwner(sig.Sender); s != nil {
			s.onSeeked(durationValue(sig.Body[0]))
		}
	}
}

func (m *Manager) sessionByOwner(owner string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.owner == owner {
			return s
		}
	}
	return nil
}

func parseNameOwnerChanged(body []any) (name, oldOwner, newOwner string, ok bool) {
	if len(body) != 3 {
		return "", "", "", false
	}
	name, ok1 := body[0].(string)
	oldOwner, ok2 := body[1].(string)
	newOwner, ok3 := body[2].(string)
	return name, oldOwner, newOwner, ok1 && ok2 && ok3
}

func parsePropertiesChanged(body []any) (iface string, changed map[string]dbus.Variant, ok bool) {
	if len(body) < 2 {
		return "", nil, false
	}
	iface, ok1 := body[0].(string)
	changed, ok2 := body[1].(map[string]dbus.Variant)
	return iface, changed, ok1 && ok2
}

// subscription runs its release function once.
type subscription struct {
	once    sync.Once
	release func()
}

func newSubscription(release func()) *subscription {
	return &subscription{release: release}
}

// Unsubscribe never blocks on the bus.
func (s *subscription) Unsubscribe() error {
	s.once.Do(s.release)
	return nil
}
