package mpris

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"

	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/domain/playback"
)

// session is one running player instance, identified by its unique bus
// name. It implements media.Session.
type session struct {
	manager *Manager
	name    string // Well-known name, org.mpris.MediaPlayer2.<player>
	player  string
	owner   string // Unique name, changes when the player restarts
	obj     dbus.BusObject

	mu    sync.Mutex
	state playerState
	subs  map[string]media.Callbacks
}

func newSession(m *Manager, name, player, owner string, obj dbus.BusObject) *session {
	return &session{
		manager: m,
		name:    name,
		player:  player,
		owner:   owner,
		obj:     obj,
		state:   playerState{phase: playback.PhaseNone, position: playback.Position{Rate: 1}},
		subs:    make(map[string]media.Callbacks),
	}
}

// load reads every Player property.
func (s *session) load(ctx context.Context) error {
	var props map[string]dbus.Variant
	if err := s.obj.CallWithContext(ctx, propertiesInterface+".GetAll", 0, PlayerInterface).Store(&props); err != nil {
		return errors.Wrapf(err, "failed to read player properties of %s", s.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.apply(props, s.manager.clock.Now())
	return nil
}

func (s *session) ID() string     { return s.owner }
func (s *session) Player() string { return s.player }

func (s *session) Phase() playback.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.phase
}

func (s *session) Track() playback.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.track
}

func (s *session) Position() playback.Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.position
}

// Subscribe registers callbacks for property changes. Callbacks run on the
// signal dispatch goroutine.
func (s *session) Subscribe(cb media.Callbacks) (media.Subscription, error) {
	id := uuid.New().String()
	s.mu.Lock()
	s.subs[id] = cb
	s.mu.Unlock()
	return newSubscription(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}), nil
}

func (s *session) onProperties(changed map[string]dbus.Variant) {
	now := s.manager.clock.Now()
	s.mu.Lock()
	c := s.state.apply(changed, now)
	state := s.state
	subs := s.callbacksLocked()
	s.mu.Unlock()
	notify(subs, state, c)
}

func (s *session) onSeeked(elapsed time.Duration) {
	now := s.manager.clock.Now()
	s.mu.Lock()
	s.state.seek(elapsed, now)
	state := s.state
	subs := s.callbacksLocked()
	s.mu.Unlock()
	notify(subs, state, changes{position: true})
}

func (s *session) callbacksLocked() []media.Callbacks {
	subs := make([]media.Callbacks, 0, len(s.subs))
	for _, cb := range s.subs {
		subs = append(subs, cb)
	}
	return subs
}

// notify delivers track and position before the phase so a phase observer
// sees the current metadata.
func notify(subs []media.Callbacks, state playerState, c changes) {
	for _, cb := range subs {
		if c.track && cb.OnTrack != nil {
			cb.OnTrack(state.track)
		}
		if c.position && cb.OnPosition != nil {
			cb.OnPosition(state.position)
		}
		if c.phase && cb.OnPhase != nil {
			cb.OnPhase(state.phase)
		}
	}
}

func (s *session) Play(ctx context.Context) error     { return s.call(ctx, PlayerInterface+".Play") }
func (s *session) Pause(ctx context.Context) error    { return s.call(ctx, PlayerInterface+".Pause") }
func (s *session) Next(ctx context.Context) error     { return s.call(ctx, PlayerInterface+".Next") }
func (s *session) Previous(ctx context.Context) error { return s.call(ctx, PlayerInterface+".Previous") }
func (s *session) Raise(ctx context.Context) error    { return s.call(ctx, RootInterface+".Raise") }

func (s *session) call(ctx context.Context, method string) error {
	if s.obj == nil {
		return errors.Newf("player %s has no bus object", s.name)
	}
	if err := s.obj.CallWithContext(ctx, method, 0).Err; err != nil {
		return errors.Wrapf(err, "failed to call %s on %s", method, s.name)
	}
	return nil
}
