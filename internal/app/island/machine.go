package island

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/domain/playback"
)

const (
	DefaultPauseAutoHide = 45 * time.Second // Hide after this long in pause
	DefaultStopDebounce  = time.Second      // Ignore stop/none this soon after a pause
)

// Presenter receives the effects of visibility transitions.
// Calls arrive in transition order on a single goroutine owned by the
// machine, never while the machine is locked. Implementations may block.
type Presenter interface {
	Show()
	Hide()
	SetLayout(Layout)
}

// Config holds machine configuration. Zero durations take the defaults.
type Config struct {
	PauseAutoHide    time.Duration // Auto-hide delay while paused
	StopDebounce     time.Duration // Window after a pause in which stop/none is noise, negative disables
	SessionLostGrace time.Duration // Delay before a lost session counts as none, 0 disables
	Clock            clockwork.Clock
}

// Status is a read-only snapshot of the machine.
type Status struct {
	Visibility    Visibility
	Environment   Environment
	LastPhase     playback.Phase
	PauseDeadline time.Time // Zero when no auto-hide is pending
	SessionLost   bool      // Grace timer pending
}

// timerSlot is a single cancellable timer identified by a token.
type timerSlot struct {
	token    uint64
	timer    clockwork.Timer
	deadline time.Time
}

// Machine decides whether the overlay is hidden, shown as a pill or expanded.
type Machine struct {
	mu sync.Mutex

	presenter Presenter
	effects   *effectQueue
	clock     clockwork.Clock
	config    Config

	state       Visibility
	env         Environment
	lastPhase   playback.Phase
	lastPauseAt time.Time
	sessionLost bool

	// Timers
	seq   uint64
	pause timerSlot
	grace timerSlot

	// Observers
	subscribers map[int]chan Visibility
	nextSubID   int

	closed bool
}

// NewMachine creates a machine in the Hidden state with the default environment.
func NewMachine(presenter Presenter, config Config) *Machine {
	if config.PauseAutoHide <= 0 {
		config.PauseAutoHide = DefaultPauseAutoHide
	}
	switch {
	case config.StopDebounce == 0:
		config.StopDebounce = DefaultStopDebounce
	case config.StopDebounce < 0:
		config.StopDebounce = 0
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Machine{
		presenter:   presenter,
		effects:     newEffectQueue(),
		clock:       config.Clock,
		config:      config,
		state:       Hidden,
		env:         DefaultEnvironment(),
		lastPhase:   playback.PhaseNone,
		subscribers: make(map[int]chan Visibility),
	}
}

// State returns the current visibility.
func (m *Machine) State() Visibility {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Environment returns the current environment snapshot.
func (m *Machine) Environment() Environment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.env
}

// LastPhase returns the last playback phase that was applied.
func (m *Machine) LastPhase() playback.Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPhase
}

// Status returns a snapshot of the machine.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Visibility:    m.state,
		Environment:   m.env,
		LastPhase:     m.lastPhase,
		PauseDeadline: m.pause.deadline,
		SessionLost:   m.sessionLost,
	}
}

// UpdateEnvironment applies a partial environment change.
// An update that leaves the environment unchanged has no effect.
func (m *Machine) UpdateEnvironment(update EnvironmentUpdate) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	next := update.Apply(m.env)
	if next == m.env {
		return
	}
	m.env = next
	zlog.Debug().Msgf("island: environment changed: enabled=%t unlocked=%t target_foreground=%t",
		next.Enabled, next.Unlocked, next.TargetForeground)

	if !next.Allowed() {
		m.cancelTimerLocked(&m.pause)
		m.transitionLocked(Hidden, "environment_forbidden")
		return
	}

	// Re-evaluate with the last known phase instead of waiting for a new event.
	switch m.lastPhase {
	case playback.PhasePlaying, playback.PhaseBuffering:
		m.cancelTimerLocked(&m.pause)
		m.showLocked("environment_allowed")
	case playback.PhasePaused:
		m.showLocked("environment_allowed")
		m.restartPauseTimerLocked()
	}
}

// OnPlaybackChanged applies a playback phase reported by the media source.
func (m *Machine) OnPlaybackChanged(phase playback.Phase) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.cancelTimerLocked(&m.grace)
	m.sessionLost = false
	m.applyPhaseLocked(phase.Normalize(), "playback")
}

// OnSessionLost reports that the target session disappeared. With a grace
// period configured the loss is only applied if no playback event arrives
// before it elapses.
func (m *Machine) OnSessionLost() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	if m.config.SessionLostGrace <= 0 {
		m.applyPhaseLocked(playback.PhaseNone, "session_lost")
		return
	}
	if m.sessionLost {
		return
	}
	m.sessionLost = true
	m.startTimerLocked(&m.grace, m.config.SessionLostGrace, m.onGraceTimer)
	zlog.Debug().Msgf("island: session lost, grace timer started: grace=%v", m.config.SessionLostGrace)
}

// RequestExpand expands a shown pill. Ignored unless the pill is shown.
func (m *Machine) RequestExpand() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.state != Pill {
		zlog.Debug().Msgf("island: expand ignored: state=%s", m.state)
		return
	}
	m.transitionLocked(Expanded, "user_expand")
}

// RequestCollapse collapses the expanded view back to the pill.
// The auto-hide countdown is left untouched.
func (m *Machine) RequestCollapse() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	if m.state != Expanded {
		zlog.Debug().Msgf("island: collapse ignored: state=%s", m.state)
		return
	}
	m.transitionLocked(Pill, "user_collapse")
}

// RequestClose dismisses the overlay. The next playback or environment
// event may show it again.
func (m *Machine) RequestClose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.state == Hidden {
		return
	}
	m.cancelTimerLocked(&m.pause)
	m.transitionLocked(Hidden, "user_close")
}

// Subscribe returns a stream of visibility values. The current value is
// delivered first; a slow reader only sees the latest value.
// The returned function cancels the subscription.
func (m *Machine) Subscribe() (<-chan Visibility, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Visibility, 1)
	if m.closed {
		ch <- m.state
		close(ch)
		return ch, func() {}
	}

	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = ch
	ch <- m.state

	return ch, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			delete(m.subscribers, id)
			close(sub)
		}
	}
}

// Close cancels pending timers, ends all subscriptions and waits for the
// queued presenter effects to run. The machine ignores every input afterwards.
// It must not be called from a presenter.
func (m *Machine) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		m.cancelTimerLocked(&m.pause)
		m.cancelTimerLocked(&m.grace)
		for id, ch := range m.subscribers {
			delete(m.subscribers, id)
			close(ch)
		}
	}
	m.mu.Unlock()

	m.effects.close()
}

// Flush waits until the presenter has received every effect of the
// transitions made so far.
func (m *Machine) Flush() {
	m.effects.flush()
}

// applyPhaseLocked records and dispatches a phase.
// Must be called with lock held.
func (m *Machine) applyPhaseLocked(phase playback.Phase, reason string) {
	switch phase {
	case playback.PhasePlaying, playback.PhaseBuffering:
		m.recordPhaseLocked(phase)
		m.lastPauseAt = time.Time{}
		m.cancelTimerLocked(&m.pause)
		if m.env.Allowed() {
			m.showLocked(reason)
		} else {
			m.transitionLocked(Hidden, reason+"_not_allowed")
		}

	case playback.PhasePaused:
		m.recordPhaseLocked(phase)
		m.lastPauseAt = m.clock.Now()
		if m.env.Allowed() {
			m.showLocked(reason)
			m.restartPauseTimerLocked()
		} else {
			m.cancelTimerLocked(&m.pause)
			m.transitionLocked(Hidden, reason+"_not_allowed")
		}

	default:
		// Stop/none right after a pause, with no playback in between, is
		// notification churn; drop it whole so the running pause timer still
		// sees the paused phase.
		if !m.lastPauseAt.IsZero() && m.clock.Since(m.lastPauseAt) <= m.config.StopDebounce {
			zlog.Debug().Msgf("island: debounce %s after pause, ignoring", phase)
			return
		}
		m.recordPhaseLocked(phase)
		m.cancelTimerLocked(&m.pause)
		m.transitionLocked(Hidden, reason+"_"+phase.String())
	}
}

func (m *Machine) recordPhaseLocked(phase playback.Phase) {
	if phase != m.lastPhase {
		zlog.Debug().Msgf("island: playback changed: %s -> %s", m.lastPhase, phase)
	}
	m.lastPhase = phase
}

// showLocked makes the overlay visible. An expanded overlay stays expanded.
func (m *Machine) showLocked(reason string) {
	if m.state.IsShown() {
		return
	}
	m.transitionLocked(Pill, reason)
}

// transitionLocked moves to the given state and emits its effect.
// Must be called with lock held.
func (m *Machine) transitionLocked(to Visibility, reason string) {
	from := m.state
	if from == to {
		return
	}

	switch {
	case to == Hidden:
		m.effect(func() { m.presenter.Hide() })
	case from == Hidden:
		m.effect(func() { m.presenter.Show() })
		if to == Expanded {
			m.effect(func() { m.presenter.SetLayout(LayoutExpanded) })
		}
	case to == Expanded:
		m.effect(func() { m.presenter.SetLayout(LayoutExpanded) })
	default:
		m.effect(func() { m.presenter.SetLayout(LayoutPill) })
	}

	m.state = to
	zlog.Info().Msgf("island: transition: %s -> %s reason=%s", from, to, reason)
	m.publishLocked(to)
}

// effect queues a presenter call behind the effects of earlier transitions.
func (m *Machine) effect(fn func()) {
	if m.presenter == nil {
		return
	}
	m.effects.push(fn)
}

func (m *Machine) publishLocked(v Visibility) {
	for _, ch := range m.subscribers {
		select {
		case ch <- v:
		default:
			// Drop the stale value so the reader sees the latest one.
			select {
			case <-ch:
			default:
			}
			ch <- v
		}
	}
}

func (m *Machine) restartPauseTimerLocked() {
	m.startTimerLocked(&m.pause, m.config.PauseAutoHide, m.onPauseTimer)
}

// startTimerLocked replaces the timer in slot with a new one.
func (m *Machine) startTimerLocked(slot *timerSlot, d time.Duration, fire func(token uint64)) {
	m.cancelTimerLocked(slot)
	m.seq++
	token := m.seq
	slot.token = token
	slot.deadline = m.clock.Now().Add(d)
	slot.timer = m.clock.AfterFunc(d, func() { fire(token) })
}

func (m *Machine) cancelTimerLocked(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
	}
	*slot = timerSlot{}
}

func (m *Machine) onPauseTimer(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.pause.token != token {
		zlog.Debug().Msg("island: stale pause timer ignored")
		return
	}
	m.pause = timerSlot{}

	if m.lastPhase != playback.PhasePaused {
		return
	}
	m.transitionLocked(Hidden, "pause_timeout")
}

func (m *Machine) onGraceTimer(token uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.grace.token != token {
		zlog.Debug().Msg("island: stale grace timer ignored")
		return
	}
	m.grace = timerSlot{}
	m.sessionLost = false
	m.applyPhaseLocked(playback.PhaseNone, "session_lost")
}
