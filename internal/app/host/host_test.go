package host

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/app/palette"
	"github.com/osa030/musicisland/internal/app/settings"
	"github.com/osa030/musicisland/internal/domain/frame"
	"github.com/osa030/musicisland/internal/domain/playback"
)

const waitFor = time.Second

type fakeSubscription struct {
	onUnsubscribe func()
}

func (f *fakeSubscription) Unsubscribe() error {
	if f.onUnsubscribe != nil {
		f.onUnsubscribe()
	}
	return nil
}

type fakeSession struct {
	mu         sync.Mutex
	id         string
	phase      playback.Phase
	track      playback.Track
	cbs        map[int]media.Callbacks
	nextCB     int
	subscribed bool
}

func (f *fakeSession) ID() string     { return f.id }
func (f *fakeSession) Player() string { return "spotify" }

func (f *fakeSession) Phase() playback.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeSession) Track() playback.Track       { return f.track }
func (f *fakeSession) Position() playback.Position { return playback.Position{} }

func (f *fakeSession) Subscribe(cb media.Callbacks) (media.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cbs == nil {
		f.cbs = make(map[int]media.Callbacks)
	}
	id := f.nextCB
	f.nextCB++
	f.cbs[id] = cb
	f.subscribed = true
	return &fakeSubscription{onUnsubscribe: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.cbs, id)
	}}, nil
}

func (f *fakeSession) emit(p playback.Phase) {
	f.mu.Lock()
	f.phase = p
	cbs := make([]media.Callbacks, 0, len(f.cbs))
	for _, cb := range f.cbs {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		if cb.OnPhase != nil {
			cb.OnPhase(p)
		}
	}
}

// isUnsubscribed reports whether every subscriber has gone.
func (f *fakeSession) isUnsubscribed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribed && len(f.cbs) == 0
}

func (f *fakeSession) Play(context.Context) error     { return nil }
func (f *fakeSession) Pause(context.Context) error    { return nil }
func (f *fakeSession) Next(context.Context) error     { return nil }
func (f *fakeSession) Previous(context.Context) error { return nil }
func (f *fakeSession) Raise(context.Context) error    { return nil }

type fakeManager struct {
	mu       sync.Mutex
	sessions []media.Session
	watchers map[int]func()
	nextID   int
	listErr  error
}

func newFakeManager(sessions ...media.Session) *fakeManager {
	return &fakeManager{sessions: sessions, watchers: make(map[int]func())}
}

func (m *fakeManager) ActiveSessions(context.Context) ([]media.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]media.Session(nil), m.sessions...), m.listErr
}

func (m *fakeManager) WatchSessions(_ context.Context, onChange func()) (media.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.watchers[id] = onChange
	return &fakeSubscription{onUnsubscribe: func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}}, nil
}

func (m *fakeManager) set(sessions ...media.Session) {
	m.mu.Lock()
	m.sessions = sessions
	watchers := make([]func(), 0, len(m.watchers))
	for _, fn := range m.watchers {
		watchers = append(watchers, fn)
	}
	m.mu.Unlock()
	for _, fn := range watchers {
		fn()
	}
}

type fakePresenter struct {
	mu      sync.Mutex
	shown   bool
	calls   []string
	content frame.Content
}

func (p *fakePresenter) Show() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = true
	p.calls = append(p.calls, "show")
}

func (p *fakePresenter) Hide() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shown = false
	p.calls = append(p.calls, "hide")
}

func (p *fakePresenter) SetLayout(l island.Layout) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "layout")
}

func (p *fakePresenter) SetContent(c frame.Content) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = c
}

func (p *fakePresenter) isShown() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

func (p *fakePresenter) lastContent() frame.Content {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content
}

type memRepository struct {
	mu sync.Mutex
	s  settings.Settings
}

func (r *memRepository) Load(context.Context) (settings.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s, nil
}

func (r *memRepository) SaveEnabled(_ context.Context, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Enabled = enabled
	return nil
}

func (r *memRepository) SaveWave(_ context.Context, wave settings.WaveVariant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s.Wave = wave
	return nil
}

type harness struct {
	clock     *clockwork.FakeClock
	manager   *fakeManager
	presenter *fakePresenter
	store     *settings.Store
}

func newHarness(t *testing.T, sessions ...media.Session) *harness {
	t.Helper()
	store := settings.NewStore(context.Background(), &memRepository{s: settings.Default()})
	t.Cleanup(store.Close)
	return &harness{
		clock:     clockwork.NewFakeClock(),
		manager:   newFakeManager(sessions...),
		presenter: &fakePresenter{},
		store:     store,
	}
}

func (h *harness) newHost() *Host {
	return New(Deps{
		Sessions:  h.manager,
		Settings:  h.store,
		Presenter: h.presenter,
		ArtLoader: func(string) (palette.Colors, error) {
			return palette.Colors{
				Background:   colorful.Color{R: 0, G: 0, B: 0},
				OnBackground: colorful.Color{R: 1, G: 1, B: 1},
				Accent:       colorful.Color{R: 1, G: 0, B: 0},
			}, nil
		},
	}, Config{
		Island:    island.Config{StopDebounce: island.DefaultStopDebounce},
		Media:     media.Config{Target: "spotify"},
		Heartbeat: 10 * time.Second,
		Clock:     h.clock,
	})
}

func isDone(h *Host) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func TestHost_StartShowsPlayingSession(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying, track: playback.Track{Title: "Song", ArtURL: "file:///tmp/art.png"}}
	hs := newHarness(t, session)
	h := hs.newHost()
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	assert.Equal(t, PhaseStarting, h.Phase())
	require.NoError(t, h.Start(context.Background()))
	assert.Equal(t, PhaseActive, h.Phase())
	assert.Equal(t, island.Pill, h.Machine().State())
	assert.Eventually(t, hs.presenter.isShown, waitFor, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		c := hs.presenter.lastContent()
		return c.Track.Title == "Song" && c.Accent == "#ff0000" && c.Wave == "classic"
	}, waitFor, 5*time.Millisecond)

	require.NoError(t, hs.store.SetWave(settings.WaveHeartbeat))
	assert.Eventually(t, func() bool { return hs.presenter.lastContent().Wave == "heartbeat" }, waitFor, 5*time.Millisecond)

	assert.ErrorIs(t, h.Start(context.Background()), ErrNotStarting)
}

func TestHost_StopsWhenSettledHidden(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))

	session.emit(playback.PhaseStopped)

	assert.Eventually(t, func() bool { return isDone(h) }, waitFor, 5*time.Millisecond)
	assert.Equal(t, PhaseStopped, h.Phase())
	st := h.Status()
	assert.Equal(t, ReasonSettledHidden, st.StopReason)
	assert.True(t, session.isUnsubscribed())
	assert.False(t, hs.presenter.isShown())

	// Input after teardown is ignored.
	session.emit(playback.PhasePlaying)
	assert.Equal(t, island.Hidden, h.Machine().State())
}

func TestHost_NoSessionStopsImmediately(t *testing.T) {
	hs := newHarness(t)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))

	assert.Eventually(t, func() bool { return isDone(h) }, waitFor, 5*time.Millisecond)
}

func TestHost_PausedHiddenKeepsRunning(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	session.emit(playback.PhasePaused)
	hs.clock.Advance(island.DefaultPauseAutoHide)

	assert.Eventually(t, func() bool { return h.Machine().State() == island.Hidden }, waitFor, 5*time.Millisecond)
	assert.Never(t, func() bool { return isDone(h) }, 50*time.Millisecond, 5*time.Millisecond)

	// Resuming brings the pill back.
	session.emit(playback.PhasePlaying)
	assert.Equal(t, island.Pill, h.Machine().State())
	assert.Eventually(t, hs.presenter.isShown, waitFor, 5*time.Millisecond)
}

func TestHost_StopsAfterDebouncedStop(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	// The stop lands inside the debounce window, so the pill stays up.
	session.emit(playback.PhasePaused)
	hs.clock.Advance(300 * time.Millisecond)
	session.emit(playback.PhaseStopped)
	assert.Equal(t, island.Pill, h.Machine().State())
	assert.Equal(t, playback.PhasePaused, h.Machine().LastPhase())
	assert.Equal(t, playback.PhaseStopped, h.Source().Phase())

	// The pause countdown hides it and the stopped session ends the host.
	hs.clock.Advance(island.DefaultPauseAutoHide)
	assert.Eventually(t, func() bool { return isDone(h) }, waitFor, 5*time.Millisecond)
	assert.Equal(t, ReasonSettledHidden, h.Status().StopReason)
	assert.False(t, hs.presenter.isShown())
}

func TestHost_DisabledSettingHides(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	require.NoError(t, hs.store.SetEnabled(false))
	assert.Eventually(t, func() bool { return !hs.presenter.isShown() }, waitFor, 5*time.Millisecond)
	assert.False(t, h.Machine().Environment().Enabled)
	assert.Never(t, func() bool { return isDone(h) }, 50*time.Millisecond, 5*time.Millisecond)

	require.NoError(t, hs.store.SetEnabled(true))
	assert.Eventually(t, hs.presenter.isShown, waitFor, 5*time.Millisecond)
}

func TestHost_StartsDisabledWhenSettingOff(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	require.NoError(t, hs.store.SetEnabled(false))
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	assert.Equal(t, island.Hidden, h.Machine().State())
	assert.False(t, hs.presenter.isShown())
}

func TestHost_Heartbeat(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	started := h.LastHeartbeat()
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	// Heartbeat ticker and probe ticker.
	require.NoError(t, hs.clock.BlockUntilContext(ctx, 2))

	hs.clock.Advance(10 * time.Second)
	assert.Eventually(t, func() bool { return h.LastHeartbeat().After(started) }, waitFor, 5*time.Millisecond)
}

func TestHost_StopIsIdempotent(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	h := hs.newHost()
	require.NoError(t, h.Start(context.Background()))

	h.Stop(ReasonShutdown)
	h.Stop(ReasonSettledHidden)

	assert.True(t, isDone(h))
	assert.Equal(t, ReasonShutdown, h.Status().StopReason)
	assert.True(t, session.isUnsubscribed())
	assert.False(t, hs.presenter.isShown())
}

type failingManager struct{ *fakeManager }

func (failingManager) WatchSessions(context.Context, func()) (media.Subscription, error) {
	return nil, errors.New("bus disconnected")
}

func TestHost_StartFailure(t *testing.T) {
	hs := newHarness(t)
	h := New(Deps{Sessions: failingManager{hs.manager}, Presenter: hs.presenter}, Config{Clock: hs.clock})

	err := h.Start(context.Background())
	require.Error(t, err)
	assert.True(t, isDone(h))
	assert.Equal(t, ReasonStartFailed, h.Status().StopReason)
}

func TestTeardownStep_ContainsFailures(t *testing.T) {
	assert.NotPanics(t, func() {
		teardownStep("panics", func() error { panic("boom") })
		teardownStep("fails", func() error { return errors.New("boom") })
	})
}

func TestPaletteCache(t *testing.T) {
	loads := 0
	cache := newPaletteCache(func(string) (palette.Colors, error) {
		loads++
		return palette.Colors{}, errors.New("not an image")
	}, nil)
	ctx := context.Background()

	c, path := cache.colorsFor(ctx, "file:///a.png", "/a.png")
	assert.Equal(t, palette.Fallback(), c)
	assert.Equal(t, "/a.png", path)
	cache.colorsFor(ctx, "file:///a.png", "/a.png")
	assert.Equal(t, 1, loads)

	_, path = cache.colorsFor(ctx, "https://example.com/b.png", "")
	assert.Equal(t, 1, loads, "remote art is not loaded without a resolver")
	assert.Empty(t, path)
}

func TestPaletteCache_ResolvesRemoteArt(t *testing.T) {
	accent := palette.Fallback()
	var loaded []string
	resolves := 0
	cache := newPaletteCache(func(path string) (palette.Colors, error) {
		loaded = append(loaded, path)
		return accent, nil
	}, func(_ context.Context, artURL string) (string, error) {
		resolves++
		if artURL == "https://example.com/broken" {
			return "", errors.New("status=404")
		}
		return "/cache/art/b", nil
	})
	ctx := context.Background()

	_, path := cache.colorsFor(ctx, "https://example.com/b.png", "")
	assert.Equal(t, "/cache/art/b", path)
	cache.colorsFor(ctx, "https://example.com/b.png", "")
	assert.Equal(t, 1, resolves)
	assert.Equal(t, []string{"/cache/art/b"}, loaded)

	c, path := cache.colorsFor(ctx, "https://example.com/broken", "")
	assert.Equal(t, palette.Fallback(), c)
	assert.Empty(t, path)

	content := buildContent(media.Snapshot{Track: playback.Track{Title: "t", ArtURL: "https://example.com/b.png"}},
		settings.Default(), accent, "/cache/art/b")
	assert.Equal(t, "file:///cache/art/b", content.Track.ArtURL)
	assert.Equal(t, "/cache/art/b", content.Track.ArtPath())
}

func TestSupervisor_StartsHostForNewSession(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	sup := NewSupervisor(hs.manager, hs.newHost, SupervisorConfig{Target: "spotify", Clock: hs.clock})

	var started []string
	sup.OnHostStarted(func(h *Host) { started = append(started, h.ID()) })

	ctx := context.Background()
	sup.Scan(ctx, false)
	first := sup.Current()
	require.NotNil(t, first)
	t.Cleanup(func() { first.Stop(ReasonShutdown) })
	assert.Equal(t, []string{first.ID()}, started)

	// A running host blocks a second one.
	sup.Scan(ctx, true)
	assert.Same(t, first, sup.Current())
	assert.Equal(t, 1, sup.Started())
}

func TestSupervisor_RestartRules(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	sup := NewSupervisor(hs.manager, hs.newHost, SupervisorConfig{Target: "spotify", Clock: hs.clock})
	ctx := context.Background()

	sup.Scan(ctx, false)
	first := sup.Current()
	require.NotNil(t, first)

	session.emit(playback.PhaseStopped)
	assert.Eventually(t, func() bool { return isDone(first) }, waitFor, 5*time.Millisecond)

	// Same identity, not active: nothing to do.
	sup.Scan(ctx, false)
	sup.Scan(ctx, true)
	assert.Equal(t, 1, sup.Started())

	// Same identity, active on a rescan: start again.
	session.emit(playback.PhasePlaying)
	sup.Scan(ctx, false)
	assert.Equal(t, 1, sup.Started(), "change notifications need a new identity")
	sup.Scan(ctx, true)
	assert.Equal(t, 2, sup.Started())
	second := sup.Current()
	assert.NotEqual(t, first.ID(), second.ID())
	second.Stop(ReasonShutdown)

	// A new identity starts a host even when stopped.
	restarted := &fakeSession{id: ":1.77", phase: playback.PhaseStopped}
	hs.manager.set(restarted)
	sup.Scan(ctx, false)
	assert.Equal(t, 3, sup.Started())
	sup.Current().Stop(ReasonShutdown)
}

func TestSupervisor_ResumeRestartsWithoutRescan(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	sup := NewSupervisor(hs.manager, hs.newHost, SupervisorConfig{Target: "spotify", Clock: hs.clock, RescanInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-errCh
	})

	assert.Eventually(t, func() bool { return sup.Current() != nil }, waitFor, 5*time.Millisecond)
	first := sup.Current()

	session.emit(playback.PhaseStopped)
	assert.Eventually(t, func() bool { return isDone(first) }, waitFor, 5*time.Millisecond)
	assert.Equal(t, ReasonSettledHidden, first.Status().StopReason)

	// Play on the same session; the rescan ticker never fires.
	session.emit(playback.PhasePlaying)
	assert.Eventually(t, func() bool { return sup.Started() == 2 }, waitFor, 5*time.Millisecond)
	second := sup.Current()
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Eventually(t, hs.presenter.isShown, waitFor, 5*time.Millisecond)
}

func TestSupervisor_IgnoresOtherPlayers(t *testing.T) {
	hs := newHarness(t)
	other := &fakeSession{id: ":1.9", phase: playback.PhasePlaying}
	hs.manager.sessions = []media.Session{&otherPlayer{other}}
	sup := NewSupervisor(hs.manager, hs.newHost, SupervisorConfig{Target: "spotify", Clock: hs.clock})

	sup.Scan(context.Background(), true)
	assert.Nil(t, sup.Current())

	hs.manager.listErr = errors.New("bus gone")
	sup.Scan(context.Background(), true)
	assert.Nil(t, sup.Current())
}

type otherPlayer struct{ *fakeSession }

func (otherPlayer) Player() string { return "vlc" }

func TestSupervisor_RunStopsHostOnShutdown(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	sup := NewSupervisor(hs.manager, hs.newHost, SupervisorConfig{Target: "spotify", Clock: hs.clock, RescanInterval: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	assert.Eventually(t, func() bool { return sup.Current() != nil }, waitFor, 5*time.Millisecond)
	h := sup.Current()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("supervisor did not stop")
	}
	assert.True(t, isDone(h))
	assert.Equal(t, ReasonShutdown, h.Status().StopReason)
}

func TestControls(t *testing.T) {
	session := &fakeSession{id: ":1.42", phase: playback.PhasePlaying}
	hs := newHarness(t, session)
	sup := NewSupervisor(hs.manager, hs.newHost, SupervisorConfig{Target: "spotify", Clock: hs.clock})
	controls := sup.Controls()

	// Without a host everything is dropped.
	_, err := controls.Running()
	assert.ErrorIs(t, err, ErrNoHost)
	assert.Equal(t, island.Hidden, controls.State())
	assert.NotPanics(t, func() {
		controls.RequestExpand()
		controls.Toggle()
	})

	sup.Scan(context.Background(), false)
	h, err := controls.Running()
	require.NoError(t, err)
	t.Cleanup(func() { h.Stop(ReasonShutdown) })

	assert.Equal(t, island.Pill, controls.State())
	controls.RequestExpand()
	assert.Equal(t, island.Expanded, controls.State())
	controls.RequestCollapse()
	assert.Equal(t, island.Pill, controls.State())
	controls.RequestClose()
	assert.Equal(t, island.Hidden, controls.State())
}
