package connect

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/musicisland/internal/api/islandv1"
	"github.com/osa030/musicisland/internal/app/host"
	"github.com/osa030/musicisland/internal/app/island"
	"github.com/osa030/musicisland/internal/app/media"
	"github.com/osa030/musicisland/internal/app/notification"
	"github.com/osa030/musicisland/internal/app/settings"
	"github.com/osa030/musicisland/internal/domain/frame"
	"github.com/osa030/musicisland/internal/domain/playback"
)

type fakeHosts struct {
	mu     sync.Mutex
	status host.Status
	ok     bool
}

func (f *fakeHosts) HostStatus() (host.Status, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.ok
}

func (f *fakeHosts) set(st host.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status, f.ok = st, true
}

type fakeControls struct {
	mu    sync.Mutex
	state island.Visibility
	calls []string
}

func (f *fakeControls) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
}

func (f *fakeControls) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeControls) State() island.Visibility { return f.state }
func (f *fakeControls) RequestExpand()           { f.record("expand") }
func (f *fakeControls) RequestCollapse()         { f.record("collapse") }
func (f *fakeControls) RequestClose()            { f.record("close") }
func (f *fakeControls) Play()                    { f.record("play") }
func (f *fakeControls) Pause()                   { f.record("pause") }
func (f *fakeControls) Toggle()                  { f.record("toggle") }
func (f *fakeControls) Next()                    { f.record("next") }
func (f *fakeControls) Previous()                { f.record("previous") }
func (f *fakeControls) Raise()                   { f.record("raise") }

type fakeSettings struct {
	mu  sync.Mutex
	cur settings.Settings
	err error
}

func (f *fakeSettings) Current() settings.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

func (f *fakeSettings) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeSettings) SetEnabled(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cur.Enabled = enabled
	return nil
}

func (f *fakeSettings) SetWave(wave settings.WaveVariant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.cur.Wave = wave
	return nil
}

type fixture struct {
	hosts    *fakeHosts
	controls *fakeControls
	settings *fakeSettings
	frames   *notification.Manager
	clock    *clockwork.FakeClock
	url      string
	client   *Client
}

func newFixture(t *testing.T, token string) *fixture {
	t.Helper()
	f := &fixture{
		hosts:    &fakeHosts{},
		controls: &fakeControls{state: island.Pill},
		settings: &fakeSettings{cur: settings.Default()},
		frames:   notification.NewManager(0),
		clock:    clockwork.NewFakeClock(),
	}
	done := make(chan struct{})
	svc := NewIslandService(Deps{
		Hosts:    f.hosts,
		Controls: f.controls,
		Settings: f.settings,
		Frames:   f.frames,
		Clock:    f.clock,
		Warnings: []string{"blur unavailable"},
	}, done)

	var opts []connect.HandlerOption
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewTokenInterceptor(token)))
	}
	mux := http.NewServeMux()
	path, handler := svc.Handler(opts...)
	mux.Handle(path, handler)
	server := httptest.NewServer(mux)
	t.Cleanup(func() {
		close(done)
		server.Close()
		f.frames.Close()
	})

	f.url = server.URL
	f.client = NewClient(server.Client(), server.URL, token)
	return f
}

func (f *fixture) runningHost() {
	now := f.clock.Now()
	f.hosts.set(host.Status{
		ID:            "host-1",
		Phase:         host.PhaseActive,
		LastHeartbeat: now,
		Island: island.Status{
			Visibility:    island.Pill,
			Environment:   island.Environment{Enabled: true, Unlocked: true},
			PauseDeadline: now.Add(45 * time.Second),
		},
		Media: media.Snapshot{
			Phase:  playback.PhasePaused,
			Player: "spotify",
			Active: true,
			Track:  playback.Track{Title: "Song", Artists: []string{"A"}, Duration: 3 * time.Minute},
			Position: playback.Position{
				Elapsed:   61 * time.Second,
				Rate:      1,
				SampledAt: now.Add(-10 * time.Second),
			},
		},
	})
}

func TestGetStatus_NoHost(t *testing.T) {
	f := newFixture(t, "")
	st, err := f.client.GetStatus(context.Background())
	require.NoError(t, err)

	assert.False(t, st.Running)
	assert.Equal(t, "hidden", st.Visibility)
	assert.True(t, st.Enabled)
	assert.Equal(t, "classic", st.Wave)
	assert.Equal(t, []string{"blur unavailable"}, st.Warnings)
}

func TestGetStatus_RunningHost(t *testing.T) {
	f := newFixture(t, "")
	f.runningHost()

	st, err := f.client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, st.Running)
	assert.Equal(t, "host-1", st.HostID)
	assert.Equal(t, "active", st.HostPhase)
	assert.Equal(t, "pill", st.Visibility)
	assert.Equal(t, "paused", st.Phase)
	assert.Equal(t, "Song", st.Title)
	assert.Equal(t, int64(61_000), st.ElapsedMs, "paused position does not advance")
	assert.Equal(t, int64(180_000), st.DurationMs)
	assert.NotEmpty(t, st.PauseDeadline)
}

func TestGesture(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	err := f.client.Gesture(ctx, "tap")
	assert.Equal(t, connect.CodeFailedPrecondition, connect.CodeOf(err))

	f.runningHost()
	require.NoError(t, f.client.Gesture(ctx, "tap"))
	require.NoError(t, f.client.Gesture(ctx, "long_press"))
	assert.Equal(t, []string{"expand", "raise"}, f.controls.history())

	err = f.client.Gesture(ctx, "pinch")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestTransport(t *testing.T) {
	f := newFixture(t, "")
	f.runningHost()
	ctx := context.Background()

	for _, cmd := range []string{"play", "pause", "toggle", "next", "previous", "raise"} {
		require.NoError(t, f.client.Transport(ctx, cmd))
	}
	assert.Equal(t, []string{"play", "pause", "toggle", "next", "previous", "raise"}, f.controls.history())

	err := f.client.Transport(ctx, "rewind")
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()

	off := false
	wave := "heartbeat"
	st, err := f.client.UpdateSettings(ctx, islandv1.SettingsUpdate{Enabled: &off, Wave: &wave})
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Equal(t, "heartbeat", st.Wave)

	bad := "disco"
	_, err = f.client.UpdateSettings(ctx, islandv1.SettingsUpdate{Wave: &bad})
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	f.settings.fail(errors.New("store closed"))
	_, err = f.client.UpdateSettings(ctx, islandv1.SettingsUpdate{Enabled: &off})
	assert.Equal(t, connect.CodeUnavailable, connect.CodeOf(err))
}

func TestSubscribe_StreamsFrames(t *testing.T) {
	f := newFixture(t, "")
	f.frames.Broadcast(frame.Frame{
		Visible: true,
		Content: frame.Content{Player: "spotify", Phase: playback.PhasePlaying, Track: playback.Track{Title: "Song"}, Accent: "#ff0000"},
		Time:    f.clock.Now(),
	})

	errStop := errors.New("stop")
	var got []islandv1.Frame
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.client.Subscribe(ctx, func(fr islandv1.Frame) error {
		got = append(got, fr)
		return errStop
	})
	assert.ErrorIs(t, err, errStop)
	require.Len(t, got, 1)
	assert.Equal(t, "pill", got[0].State)
	assert.Equal(t, "Song", got[0].Title)
	assert.Equal(t, "#ff0000", got[0].Accent)
	assert.Equal(t, uint64(1), got[0].Seq)
}

func TestTokenInterceptor(t *testing.T) {
	f := newFixture(t, "secret")
	_, err := f.client.GetStatus(context.Background())
	require.NoError(t, err)

	anonymous := NewClient(http.DefaultClient, f.url, "")
	_, err = anonymous.GetStatus(context.Background())
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	wrong := NewClient(http.DefaultClient, f.url, "guess")
	err = wrong.Subscribe(context.Background(), func(islandv1.Frame) error { return nil })
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))
}

func TestFrameMessage(t *testing.T) {
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	f := frame.Frame{
		SequenceNo: 7,
		Visible:    true,
		Expanded:   true,
		Content: frame.Content{
			Phase:    playback.PhasePlaying,
			Track:    playback.Track{Title: "Song", Duration: time.Minute},
			Position: playback.Position{Elapsed: 10 * time.Second, Rate: 1, SampledAt: now.Add(-5 * time.Second)},
			Wave:     "voice",
		},
		Time: now,
	}

	msg := FrameMessage(f)
	assert.Equal(t, uint64(7), msg.Seq)
	assert.Equal(t, "expanded", msg.State)
	assert.Equal(t, "playing", msg.Phase)
	assert.Equal(t, int64(15_000), msg.ElapsedMs)
	assert.Equal(t, int64(60_000), msg.DurationMs)
	assert.Equal(t, "voice", msg.Wave)
	assert.Equal(t, "2026-10-14T09:00:00.000Z", msg.Time)

	f.Content.Phase = playback.PhasePaused
	assert.Equal(t, int64(10_000), FrameMessage(f).ElapsedMs)
}
