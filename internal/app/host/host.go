package host

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/app/probe"
	"github.com/osa030/musicisland/internal/app/settings"
	"github.com/osa030/musicisland/internal/domain/frame"
)

// DefaultHeartbeat is how often a running host refreshes its heartbeat.
const DefaultHeartbeat = 10 * time.Second

// ErrNotStarting is returned when Start is called twice.
var ErrNotStarting = errors.New("host already started")

// SettingsSource provides the persisted user settings.
type SettingsSource interface {
	Current() settings.Settings
	Subscribe() (<-chan settings.Settings, func())
}

// Presenter shows the island and renders its content.
type Presenter interface {
	island.Presenter
	SetContent(frame.Content)
}

// Deps are the collaborators a host wires together.
type Deps struct {
	Sessions    media.SessionManager
	Lock        probe.LockState
	Usage       probe.UsageEvents
	Settings    SettingsSource
	Presenter   Presenter
	ArtLoader   ArtLoader
	ArtResolver ArtResolver // Optional, fetches remote album art
}

// Config holds host configuration.
type Config struct {
	Island    island.Config
	Probe     probe.Config
	Media     media.Config
	Heartbeat time.Duration
	Clock     clockwork.Clock
}

// Status is a read-only snapshot of a host.
type Status struct {
	ID            string
	Phase         Phase
	StartedAt     time.Time
	LastHeartbeat time.Time
	StopReason    StopReason
	Island        island.Status
	Media         media.Snapshot
}

// Host runs the island for one target session and stops once the island
// has settled hidden with no playback left.
type Host struct {
	mu sync.Mutex

	id     string
	deps   Deps
	config Config
	clock  clockwork.Clock

	phase         Phase
	startedAt     time.Time
	lastHeartbeat time.Time
	stopReason    StopReason

	machine *island.Machine
	source  *media.Source
	probe   *probe.Probe

	cancel   context.CancelFunc
	workers  sync.WaitGroup
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a host in the Starting phase.
func New(deps Deps, config Config) *Host {
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Heartbeat <= 0 {
		config.Heartbeat = DefaultHeartbeat
	}
	config.Island.Clock = config.Clock
	config.Probe.Clock = config.Clock
	return &Host{
		id:     uuid.New().String(),
		deps:   deps,
		config: config,
		clock:  config.Clock,
		phase:  PhaseStarting,
		done:   make(chan struct{}),
	}
}

// Start wires the components and begins forwarding events to the machine.
// A failed start leaves the host stopped.
func (h *Host) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.phase != PhaseStarting || h.machine != nil {
		h.mu.Unlock()
		return ErrNotStarting
	}

	current := settings.Default()
	if h.deps.Settings != nil {
		current = h.deps.Settings.Current()
	}

	machine := island.NewMachine(h.deps.Presenter, h.config.Island)
	machine.UpdateEnvironment(island.WithEnabled(current.Enabled))
	source := media.NewSource(h.deps.Sessions, machine, h.config.Media)
	pr := probe.New(h.deps.Lock, h.deps.Usage, machine, h.config.Probe)

	runCtx, cancel := context.WithCancel(ctx)
	h.machine = machine
	h.source = source
	h.probe = pr
	h.cancel = cancel
	h.startedAt = h.clock.Now()
	h.lastHeartbeat = h.startedAt
	h.mu.Unlock()

	zlog.Info().Msgf("host: starting: id=%s target=%s", h.id, h.config.Media.Target)

	// Subscribe before Start so the first snapshot is not missed.
	snapshots, cancelSnapshots := source.Subscribe()
	var settingsCh <-chan settings.Settings
	cancelSettings := func() {}
	if h.deps.Settings != nil {
		settingsCh, cancelSettings = h.deps.Settings.Subscribe()
	}
	visibility, cancelVisibility := machine.Subscribe()

	if err := source.Start(runCtx); err != nil {
		cancelSnapshots()
		cancelSettings()
		cancelVisibility()
		h.Stop(ReasonStartFailed)
		return errors.Wrap(err, "failed to start media source")
	}

	h.workers.Add(3)
	go func() {
		defer h.workers.Done()
		if err := pr.Run(runCtx); err != nil {
			zlog.Warn().Err(err).Msgf("host: probe ended: id=%s", h.id)
		}
	}()
	go func() {
		defer h.workers.Done()
		defer cancelSnapshots()
		defer cancelSettings()
		h.contentLoop(runCtx, current, snapshots, settingsCh)
	}()
	go func() {
		defer h.workers.Done()
		defer cancelVisibility()
		h.watchLoop(runCtx, source, visibility)
	}()

	h.mu.Lock()
	if h.phase == PhaseStarting {
		h.phase = PhaseActive
	}
	h.mu.Unlock()
	zlog.Info().Msgf("host: active: id=%s", h.id)
	return nil
}

// contentLoop renders the tracked session with the user's settings.
func (h *Host) contentLoop(ctx context.Context, current settings.Settings, snapshots <-chan media.Snapshot, settingsCh <-chan settings.Settings) {
	cache := newPaletteCache(h.deps.ArtLoader, h.deps.ArtResolver)
	var snap media.Snapshot
	render := func() {
		if h.deps.Presenter == nil {
			return
		}
		colors, artPath := cache.colorsFor(ctx, snap.Track.ArtURL, snap.Track.ArtPath())
		h.deps.Presenter.SetContent(buildContent(snap, current, colors, artPath))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-snapshots:
			if !ok {
				return
			}
			snap = s
			render()
		case s, ok := <-settingsCh:
			if !ok {
				settingsCh = nil
				continue
			}
			if s.Enabled != current.Enabled {
				h.machine.UpdateEnvironment(island.WithEnabled(s.Enabled))
			}
			current = s
			render()
		}
	}
}

// watchLoop keeps the heartbeat fresh and stops the host once it settles.
// The stop rule reads the source's raw phase, not the machine's debounced one.
func (h *Host) watchLoop(ctx context.Context, source *media.Source, visibility <-chan island.Visibility) {
	ticker := h.clock.NewTicker(h.config.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-visibility:
			if !ok {
				return
			}
			if phase := source.Phase(); v == island.Hidden && !phase.IsActive() {
				zlog.Info().Msgf("host: island settled hidden: id=%s phase=%s", h.id, phase)
				go h.Stop(ReasonSettledHidden)
				return
			}
			h.beat()
		case <-ticker.Chan():
			h.beat()
		}
	}
}

func (h *Host) beat() {
	h.mu.Lock()
	h.lastHeartbeat = h.clock.Now()
	h.mu.Unlock()
}

// Stop tears the host down. Safe to call more than once and from any goroutine.
func (h *Host) Stop(reason StopReason) {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.phase = PhaseStopping
		h.stopReason = reason
		machine, source, cancel := h.machine, h.source, h.cancel
		h.mu.Unlock()

		zlog.Info().Msgf("host: stopping: id=%s reason=%s", h.id, reason)

		if machine != nil {
			teardownStep("cancel island timers", func() error {
				machine.Close()
				return nil
			})
		}
		if source != nil {
			teardownStep("unsubscribe session", source.Close)
		}
		teardownStep("stop poll loop", func() error {
			if cancel != nil {
				cancel()
			}
			h.workers.Wait()
			return nil
		})
		if h.deps.Presenter != nil {
			teardownStep("hide overlay", func() error {
				h.deps.Presenter.Hide()
				return nil
			})
		}

		h.mu.Lock()
		h.phase = PhaseStopped
		h.mu.Unlock()
		close(h.done)
		zlog.Info().Msgf("host: stopped: id=%s", h.id)
	})
}

// teardownStep runs fn, logging errors and panics instead of propagating them.
func teardownStep(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("host: teardown step panicked: step=%s panic=%v", name, r)
		}
	}()
	if err := fn(); err != nil {
		zlog.Warn().Err(err).Msgf("host: teardown step failed: step=%s", name)
	}
}

// Done is closed once the host has stopped.
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// ID returns the host instance ID.
func (h *Host) ID() string {
	return h.id
}

// Phase returns the lifecycle phase.
func (h *Host) Phase() Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// LastHeartbeat returns when the host last reported itself alive.
func (h *Host) LastHeartbeat() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastHeartbeat
}

// Machine returns the island machine, or nil before Start.
func (h *Host) Machine() *island.Machine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.machine
}

// Source returns the media source, or nil before Start.
func (h *Host) Source() *media.Source {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.source
}

// Status returns a snapshot of the host and its components.
func (h *Host) Status() Status {
	h.mu.Lock()
	st := Status{
		ID:            h.id,
		Phase:         h.phase,
		StartedAt:     h.startedAt,
		LastHeartbeat: h.lastHeartbeat,
		StopReason:    h.stopReason,
	}
	machine, source := h.machine, h.source
	h.mu.Unlock()

	if machine != nil {
		st.Island = machine.Status()
	}
	if source != nil {
		st.Media = source.Snapshot()
	}
	return st
}
