package main

import (
	"context"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/musicisland/internal/api/islandv1"
)

type fakeController struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeController) Gesture(_ context.Context, gesture string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "gesture:"+gesture)
	return f.err
}

func (f *fakeController) Transport(_ context.Context, command string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "transport:"+command)
	return f.err
}

var start = time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)

func playingFrame() frameMsg {
	return frameMsg(islandv1.Frame{
		Seq:        3,
		State:      "pill",
		Phase:      "playing",
		Player:     "spotify",
		Title:      "Song",
		Artists:    []string{"Artist"},
		ElapsedMs:  10_000,
		DurationMs: 60_000,
		Accent:     "#ff0000",
		Wave:       "classic",
	})
}

func update(t *testing.T, m model, msg tea.Msg) (model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(model)
	require.True(t, ok)
	return out, cmd
}

func TestModel_ElapsedExtrapolatesWhilePlaying(t *testing.T) {
	m := newModel(&fakeController{}, start)
	m, _ = update(t, m, playingFrame())
	m, _ = update(t, m, tickMsg(start.Add(2*time.Second)))
	assert.Equal(t, 12*time.Second, m.elapsed())

	m, _ = update(t, m, tickMsg(start.Add(5*time.Minute)))
	assert.Equal(t, time.Minute, m.elapsed(), "clamped to the duration")

	paused := playingFrame()
	paused.Phase = "paused"
	m, _ = update(t, m, paused)
	m, _ = update(t, m, tickMsg(start.Add(6*time.Minute)))
	assert.Equal(t, 10*time.Second, m.elapsed())
}

func TestModel_Keys(t *testing.T) {
	tests := []struct {
		key  tea.KeyMsg
		want string
	}{
		{tea.KeyMsg{Type: tea.KeyEnter}, "gesture:tap"},
		{tea.KeyMsg{Type: tea.KeyUp}, "gesture:swipe_up"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("o")}, "gesture:long_press"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")}, "transport:toggle"},
		{tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("n")}, "transport:next"},
		{tea.KeyMsg{Type: tea.KeyLeft}, "transport:previous"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			ctrl := &fakeController{}
			m := newModel(ctrl, start)
			m, _ = update(t, m, playingFrame())

			_, cmd := update(t, m, tt.key)
			require.NotNil(t, cmd)
			assert.Nil(t, cmd())
			assert.Equal(t, []string{tt.want}, ctrl.calls)
		})
	}
}

func TestModel_GesturesIgnoredWhileHidden(t *testing.T) {
	ctrl := &fakeController{}
	m := newModel(ctrl, start)
	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	assert.Nil(t, cmd)
	assert.Empty(t, ctrl.calls)
}

func TestModel_SendErrorIsShown(t *testing.T) {
	ctrl := &fakeController{err: errors.New("no island host running")}
	m := newModel(ctrl, start)
	m, _ = update(t, m, playingFrame())

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("p")})
	msg := cmd()
	m, _ = update(t, m, msg)
	assert.Contains(t, m.View(), "no island host running")
}

func TestModel_View(t *testing.T) {
	m := newModel(&fakeController{}, start)
	assert.Contains(t, m.View(), "island hidden")
	assert.Contains(t, m.View(), "waiting for daemon")

	m, _ = update(t, m, playingFrame())
	assert.Contains(t, m.View(), "Song")
	assert.Contains(t, m.View(), "connected")

	expanded := playingFrame()
	expanded.State = "expanded"
	expanded.Album = "Album"
	m, _ = update(t, m, expanded)
	view := m.View()
	assert.Contains(t, view, "Artist")
	assert.Contains(t, view, "Album")
	assert.Contains(t, view, "0:10 / 1:00")
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "0:00", formatDuration(0))
	assert.Equal(t, "3:05", formatDuration(185*time.Second))
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "abc…", truncate("abcdefgh", 4))
	assert.Equal(t, "", truncate("abc", 0))
	assert.Equal(t, "#0a84ff", parseHex("bogus", "#0a84ff").Hex())
}

func TestModel_HelpToggle(t *testing.T) {
	m := newModel(&fakeController{}, start)
	assert.False(t, m.help.ShowAll)
	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("?")})
	assert.Nil(t, cmd)
	assert.True(t, m.help.ShowAll)
	assert.Contains(t, m.View(), "open player")
}
