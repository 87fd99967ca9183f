// Package probe polls the lock state and the foreground application and
// reports changes as island environment updates.
package probe

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/island"
)

const (
	DefaultInterval         = 700 * time.Millisecond
	DefaultForegroundWindow = 30 * time.Second
	DefaultStaleFallback    = 20 * time.Second

	MinInterval = 100 * time.Millisecond
	MaxInterval = 5 * time.Second
)

// ErrNoUsageAccess is returned by UsageEvents when the event history cannot be read.
var ErrNoUsageAccess = errors.New("usage access not available")

// LockState reports whether the user session is unlocked.
type LockState interface {
	Unlocked(ctx context.Context) (bool, error)
}

// EventType classifies a usage event.
type EventType int

const (
	EventOther      EventType = iota // Anything that says nothing about focus
	EventForeground                  // App moved to the foreground
	EventBackground                  // App moved to the background
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventForeground:
		return "foreground"
	case EventBackground:
		return "background"
	default:
		return "other"
	}
}

// UsageEvent is a single application focus event.
type UsageEvent struct {
	App  string
	Type EventType
	Time time.Time
}

// UsageEvents gives access to recent focus events.
type UsageEvents interface {
	QueryEvents(ctx context.Context, start, end time.Time) ([]UsageEvent, error)
}

// Sink receives environment updates.
type Sink interface {
	UpdateEnvironment(update island.EnvironmentUpdate)
}

// Config holds probe configuration.
type Config struct {
	TargetApp        string
	Interval         time.Duration
	ForegroundWindow time.Duration
	StaleFallback    time.Duration
	Clock            clockwork.Clock
}

// Probe computes the unlocked and target-foreground signals.
// Poll and Run must not be called concurrently.
type Probe struct {
	lock   LockState
	usage  UsageEvents
	sink   Sink
	config Config
	clock  clockwork.Clock

	detector *foregroundDetector

	reported     bool // Any report made yet
	lastUnlocked bool
	lastInFg     bool
}

// New creates a new probe. A nil usage source means "never foreground".
func New(lock LockState, usage UsageEvents, sink Sink, config Config) *Probe {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Interval < MinInterval {
		config.Interval = MinInterval
	}
	if config.Interval > MaxInterval {
		config.Interval = MaxInterval
	}
	if config.ForegroundWindow <= 0 {
		config.ForegroundWindow = DefaultForegroundWindow
	}
	if config.StaleFallback <= 0 {
		config.StaleFallback = DefaultStaleFallback
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	return &Probe{
		lock:     lock,
		usage:    usage,
		sink:     sink,
		config:   config,
		clock:    config.Clock,
		detector: newForegroundDetector(config.ForegroundWindow, config.StaleFallback),
		// Matches the island default so the first poll only reports real news.
		lastUnlocked: true,
	}
}

// Poll samples both signals once and forwards the fields that changed since
// the previous report. The first poll reports both fields.
func (p *Probe) Poll(ctx context.Context) island.EnvironmentUpdate {
	unlocked := p.pollUnlocked(ctx)
	inFg := p.pollForeground(ctx)

	var update island.EnvironmentUpdate
	if !p.reported || unlocked != p.lastUnlocked {
		update.Unlocked = &unlocked
	}
	if !p.reported || inFg != p.lastInFg {
		update.TargetForeground = &inFg
	}
	p.reported = true
	p.lastUnlocked = unlocked
	p.lastInFg = inFg

	if update.IsEmpty() {
		return update
	}
	zlog.Info().Msgf("probe: poll change: unlocked=%t target_foreground=%t", unlocked, inFg)
	if p.sink != nil {
		p.sink.UpdateEnvironment(update)
	}
	return update
}

// Run polls until the context is done.
func (p *Probe) Run(ctx context.Context) error {
	zlog.Debug().Msgf("probe: started: target=%s interval=%v", p.config.TargetApp, p.config.Interval)
	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			zlog.Debug().Msg("probe: stopped")
			return nil
		case <-ticker.Chan():
			p.Poll(ctx)
		}
	}
}

func (p *Probe) pollUnlocked(ctx context.Context) bool {
	if p.lock == nil {
		return true
	}
	unlocked, err := p.lock.Unlocked(ctx)
	if err != nil {
		zlog.Warn().Err(err).Msg("probe: lock state query failed, keeping last value")
		return p.lastUnlocked
	}
	return unlocked
}

func (p *Probe) pollForeground(ctx context.Context) bool {
	if p.usage == nil || p.config.TargetApp == "" {
		return false
	}
	now := p.clock.Now()
	events, err := p.usage.QueryEvents(ctx, now.Add(-p.config.ForegroundWindow), now)
	if err != nil {
		if errors.Is(err, ErrNoUsageAccess) {
			return false
		}
		zlog.Warn().Err(err).Msg("probe: usage query failed, keeping last value")
		return p.lastInFg
	}
	return p.detector.InForeground(p.config.TargetApp, events, now)
}
