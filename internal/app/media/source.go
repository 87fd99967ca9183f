package media

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/domain/playback"
)

// DefaultCommandTimeout bounds a single transport command.
const DefaultCommandTimeout = 2 * time.Second

// ErrClosed is returned when the source has been closed.
var ErrClosed = errors.New("media source closed")

// Config holds source configuration.
type Config struct {
	Target         string // Player name to track
	CommandTimeout time.Duration
}

// Source tracks at most one session of the target player.
type Source struct {
	mu sync.Mutex

	manager SessionManager
	sink    Sink
	config  Config

	current Session
	sub     Subscription
	gen     uint64 // Bumped on every handle swap

	snapshot    Snapshot
	subscribers map[int]chan Snapshot
	nextSubID   int

	watch  Subscription
	closed bool

	// Transport commands in flight
	commands sync.WaitGroup
}

// NewSource creates a source. Call Start to begin tracking.
func NewSource(manager SessionManager, sink Sink, config Config) *Source {
	if config.CommandTimeout <= 0 {
		config.CommandTimeout = DefaultCommandTimeout
	}
	return &Source{
		manager:     manager,
		sink:        sink,
		config:      config,
		snapshot:    Snapshot{Phase: playback.PhaseNone},
		subscribers: make(map[int]chan Snapshot),
	}
}

// Start watches the session set and picks up the current target session.
func (s *Source) Start(ctx context.Context) error {
	watch, err := s.manager.WatchSessions(ctx, func() { s.Refresh(ctx) })
	if err != nil {
		return errors.Wrap(err, "failed to watch sessions")
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = watch.Unsubscribe()
		return ErrClosed
	}
	s.watch = watch
	s.mu.Unlock()

	s.Refresh(ctx)
	return nil
}

// Refresh re-evaluates the session set. It is the session-set change handler.
func (s *Source) Refresh(ctx context.Context) {
	sessions, err := s.manager.ActiveSessions(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("media: failed to list sessions")
		return
	}
	candidate := FindTarget(sessions, s.config.Target)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	switch {
	case candidate == nil && s.current == nil:
		return

	case candidate == nil:
		zlog.Info().Msgf("media: session lost: id=%s", s.current.ID())
		s.detachLocked()
		s.snapshot = Snapshot{Phase: playback.PhaseNone}
		s.publishLocked()
		if s.sink != nil {
			s.sink.OnSessionLost()
		}
		return

	case s.current != nil && candidate.ID() == s.current.ID():
		return
	}

	if s.current != nil {
		zlog.Info().Msgf("media: session replaced: %s -> %s", s.current.ID(), candidate.ID())
	} else {
		zlog.Info().Msgf("media: session attached: id=%s player=%s", candidate.ID(), candidate.Player())
	}
	s.attachLocked(candidate)

	s.snapshot = Snapshot{
		Phase:    candidate.Phase().Normalize(),
		Track:    candidate.Track(),
		Position: candidate.Position(),
		Active:   true,
		Player:   candidate.Player(),
	}
	s.publishLocked()
	if s.sink != nil {
		s.sink.OnPlaybackChanged(s.snapshot.Phase)
	}
}

// attachLocked swaps the tracked handle. The old callback is removed before
// the new one is registered.
func (s *Source) attachLocked(session Session) {
	s.detachLocked()

	s.gen++
	gen := s.gen
	s.current = session

	sub, err := session.Subscribe(Callbacks{
		OnPhase:    func(p playback.Phase) { s.onPhase(gen, p) },
		OnTrack:    func(t playback.Track) { s.onTrack(gen, t) },
		OnPosition: func(p playback.Position) { s.onPosition(gen, p) },
	})
	if err != nil {
		zlog.Warn().Err(err).Msgf("media: failed to subscribe session: id=%s", session.ID())
		return
	}
	s.sub = sub
}

func (s *Source) detachLocked() {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			zlog.Debug().Err(err).Msg("media: unsubscribe failed")
		}
	}
	s.sub = nil
	s.current = nil
	s.gen++
}

func (s *Source) onPhase(gen uint64, phase playback.Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return
	}
	phase = phase.Normalize()
	s.snapshot.Phase = phase
	if s.current != nil {
		// Position sampling restarts on every state change.
		s.snapshot.Position = s.current.Position()
	}
	s.publishLocked()
	if s.sink != nil {
		s.sink.OnPlaybackChanged(phase)
	}
}

func (s *Source) onTrack(gen uint64, track playback.Track) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return
	}
	s.snapshot.Track = track
	s.publishLocked()
}

func (s *Source) onPosition(gen uint64, pos playback.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || gen != s.gen {
		return
	}
	s.snapshot.Position = pos
	s.publishLocked()
}

// Snapshot returns the current state.
func (s *Source) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Phase returns the current playback phase.
func (s *Source) Phase() playback.Phase {
	return s.Snapshot().Phase
}

// Subscribe returns a latest-wins stream of snapshots. The current snapshot
// is delivered first. The returned function cancels the subscription.
func (s *Source) Subscribe() (<-chan Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan Snapshot, 1)
	ch <- s.snapshot
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = ch

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[id]; ok {
			delete(s.subscribers, id)
			close(sub)
		}
	}
}

func (s *Source) publishLocked() {
	for _, ch := range s.subscribers {
		select {
		case ch <- s.snapshot:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s.snapshot
		}
	}
}

// Play resumes playback.
func (s *Source) Play() { s.command("play", Session.Play) }

// Pause pauses playback.
func (s *Source) Pause() { s.command("pause", Session.Pause) }

// Next skips to the next track.
func (s *Source) Next() { s.command("next", Session.Next) }

// Previous goes back to the previous track.
func (s *Source) Previous() { s.command("previous", Session.Previous) }

// Raise brings the player window to the front.
func (s *Source) Raise() { s.command("raise", Session.Raise) }

// Toggle pauses while playing or buffering, otherwise plays.
func (s *Source) Toggle() {
	switch s.Phase() {
	case playback.PhasePlaying, playback.PhaseBuffering:
		s.Pause()
	default:
		s.Play()
	}
}

// command runs a transport action on the tracked session without blocking
// the caller. Without a session it does nothing; errors are logged only.
func (s *Source) command(name string, fn func(Session, context.Context) error) {
	s.mu.Lock()
	session := s.current
	closed := s.closed
	if session != nil && !closed {
		s.commands.Add(1)
	}
	s.mu.Unlock()

	if session == nil || closed {
		zlog.Debug().Msgf("media: %s ignored, no session", name)
		return
	}

	go func() {
		defer s.commands.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.config.CommandTimeout)
		defer cancel()
		if err := fn(session, ctx); err != nil {
			zlog.Warn().Err(err).Msgf("media: %s failed: id=%s", name, session.ID())
			return
		}
		zlog.Debug().Msgf("media: %s sent: id=%s", name, session.ID())
	}()
}

// Close unsubscribes the tracked session and stops watching the session set.
// Unsubscribe failures are logged and ignored.
func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.detachLocked()
	watch := s.watch
	s.watch = nil
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
	s.mu.Unlock()

	if watch != nil {
		if err := watch.Unsubscribe(); err != nil {
			zlog.Debug().Err(err).Msg("media: stop watching sessions failed")
		}
	}
	s.commands.Wait()
	return nil
}
