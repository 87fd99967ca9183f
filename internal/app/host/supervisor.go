package host

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/domain/playback"
)

// DefaultRescanInterval is how often the supervisor looks for an active session.
const DefaultRescanInterval = 5 * time.Second

// Factory creates a fresh host for a new target session.
type Factory func() *Host

// SupervisorConfig holds supervisor configuration.
type SupervisorConfig struct {
	Target         string
	RescanInterval time.Duration
	Clock          clockwork.Clock
}

// Supervisor keeps at most one host running, starting one when the target
// player's session appears or resumes playback.
type Supervisor struct {
	mu sync.Mutex

	sessions media.SessionManager
	factory  Factory
	config   SupervisorConfig

	current  *Host
	lastID   string // Identity of the last session seen
	started  int
	onChange []func(*Host)

	// Phase watch on the last session seen
	watchedID string
	phaseSub  media.Subscription
	resumed   chan struct{}
}

// NewSupervisor creates a supervisor. Call Run to begin watching.
func NewSupervisor(sessions media.SessionManager, factory Factory, config SupervisorConfig) *Supervisor {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.RescanInterval <= 0 {
		config.RescanInterval = DefaultRescanInterval
	}
	return &Supervisor{
		sessions: sessions,
		factory:  factory,
		config:   config,
		resumed:  make(chan struct{}, 1),
	}
}

// OnHostStarted registers a callback invoked after each host starts.
func (s *Supervisor) OnHostStarted(fn func(*Host)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = append(s.onChange, fn)
}

// Run watches the session set until ctx is cancelled, then stops the
// current host.
func (s *Supervisor) Run(ctx context.Context) error {
	watch, err := s.sessions.WatchSessions(ctx, func() { s.Scan(ctx, false) })
	if err != nil {
		return errors.Wrap(err, "failed to watch sessions")
	}
	defer func() {
		if err := watch.Unsubscribe(); err != nil {
			zlog.Debug().Err(err).Msg("supervisor: stop watching sessions failed")
		}
		s.mu.Lock()
		s.unwatchPhaseLocked()
		s.mu.Unlock()
	}()

	ticker := s.config.Clock.NewTicker(s.config.RescanInterval)
	defer ticker.Stop()

	zlog.Info().Msgf("supervisor: watching: target=%s rescan=%s", s.config.Target, s.config.RescanInterval)
	s.Scan(ctx, true)

	for {
		select {
		case <-ctx.Done():
			if h := s.Current(); h != nil {
				h.Stop(ReasonShutdown)
			}
			zlog.Info().Msg("supervisor: stopped")
			return nil
		case <-ticker.Chan():
			s.Scan(ctx, true)
		case <-s.resumed:
			s.Scan(ctx, true)
		}
	}
}

// Scan starts a host if none runs and the target session is new, or, on a
// rescan, is actively playing.
func (s *Supervisor) Scan(ctx context.Context, rescan bool) {
	if ctx.Err() != nil {
		return
	}
	sessions, err := s.sessions.ActiveSessions(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("supervisor: failed to list sessions")
		return
	}
	candidate := media.FindTarget(sessions, s.config.Target)

	s.mu.Lock()
	if candidate == nil {
		s.lastID = ""
		s.unwatchPhaseLocked()
		s.mu.Unlock()
		return
	}
	newIdentity := candidate.ID() != s.lastID
	s.lastID = candidate.ID()
	s.watchPhaseLocked(candidate)

	if s.current != nil && s.current.Phase().IsRunning() {
		s.mu.Unlock()
		return
	}
	if !newIdentity && !(rescan && candidate.Phase().IsActive()) {
		s.mu.Unlock()
		return
	}

	h := s.factory()
	if err := h.Start(ctx); err != nil {
		s.mu.Unlock()
		zlog.Error().Err(err).Msgf("supervisor: host failed to start: session=%s", candidate.ID())
		return
	}
	s.current = h
	s.started++
	callbacks := append([]func(*Host){}, s.onChange...)
	s.mu.Unlock()

	zlog.Info().Msgf("supervisor: host started: host=%s session=%s new=%t", h.ID(), candidate.ID(), newIdentity)
	for _, fn := range callbacks {
		fn(h)
	}
}

// watchPhaseLocked follows the candidate's playback phase so that a resume
// after the host settled is picked up without waiting for a rescan.
// Phase callbacks are delivered to Run.
func (s *Supervisor) watchPhaseLocked(candidate media.Session) {
	if s.watchedID == candidate.ID() {
		return
	}
	s.unwatchPhaseLocked()

	sub, err := candidate.Subscribe(media.Callbacks{
		OnPhase: func(p playback.Phase) {
			if !p.Normalize().IsActive() {
				return
			}
			select {
			case s.resumed <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		zlog.Warn().Err(err).Msgf("supervisor: failed to watch session phase: session=%s", candidate.ID())
		return
	}
	s.watchedID = candidate.ID()
	s.phaseSub = sub
}

func (s *Supervisor) unwatchPhaseLocked() {
	if s.phaseSub != nil {
		if err := s.phaseSub.Unsubscribe(); err != nil {
			zlog.Debug().Err(err).Msg("supervisor: stop watching session phase failed")
		}
	}
	s.phaseSub = nil
	s.watchedID = ""
}

// Current returns the most recent host, running or not, or nil.
func (s *Supervisor) Current() *Host {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Started returns how many hosts have been started.
func (s *Supervisor) Started() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// HostStatus returns the status of the most recent host. ok is false when
// no host has been started.
func (s *Supervisor) HostStatus() (status Status, ok bool) {
	h := s.Current()
	if h == nil {
		return Status{}, false
	}
	return h.Status(), true
}
