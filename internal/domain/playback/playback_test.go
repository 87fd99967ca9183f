package playback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPhase_Normalize(t *testing.T) {
	tests := []struct {
		name     string
		phase    Phase
		expected Phase
	}{
		{name: "playing stays", phase: PhasePlaying, expected: PhasePlaying},
		{name: "paused stays", phase: PhasePaused, expected: PhasePaused},
		{name: "stopped stays", phase: PhaseStopped, expected: PhaseStopped},
		{name: "negative becomes none", phase: Phase(-1), expected: PhaseNone},
		{name: "out of range becomes none", phase: Phase(42), expected: PhaseNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.phase.Normalize())
		})
	}
}

func TestPhase_IsActive(t *testing.T) {
	assert.True(t, PhasePlaying.IsActive())
	assert.True(t, PhaseBuffering.IsActive())
	assert.True(t, PhasePaused.IsActive())
	assert.False(t, PhaseStopped.IsActive())
	assert.False(t, PhaseNone.IsActive())
}

func TestParsePhase(t *testing.T) {
	for _, p := range []Phase{PhaseNone, PhasePlaying, PhaseBuffering, PhasePaused, PhaseStopped} {
		assert.Equal(t, p, ParsePhase(p.String()))
	}
	assert.Equal(t, PhasePaused, ParsePhase(" Paused "))
	assert.Equal(t, PhaseNone, ParsePhase("rewinding"))
}

func TestTrack_ArtPath(t *testing.T) {
	tests := []struct {
		name     string
		artURL   string
		expected string
	}{
		{name: "file url", artURL: "file:///home/user/.cache/art/abc.png", expected: "/home/user/.cache/art/abc.png"},
		{name: "escaped file url", artURL: "file:///tmp/my%20art.jpg", expected: "/tmp/my art.jpg"},
		{name: "http url", artURL: "https://i.scdn.co/image/abc", expected: ""},
		{name: "empty", artURL: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trk := Track{ArtURL: tt.artURL}
			assert.Equal(t, tt.expected, trk.ArtPath())
		})
	}
}

func TestPosition_At(t *testing.T) {
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pos := Position{Elapsed: 10 * time.Second, Rate: 1, SampledAt: base}

	assert.Equal(t, 15*time.Second, pos.At(base.Add(5*time.Second), true))
	assert.Equal(t, 10*time.Second, pos.At(base.Add(5*time.Second), false), "paused position must not advance")
	assert.Equal(t, 10*time.Second, pos.At(base.Add(-time.Second), true), "clock going backwards keeps the sample")

	fast := Position{Elapsed: 0, Rate: 2, SampledAt: base}
	assert.Equal(t, 4*time.Second, fast.At(base.Add(2*time.Second), true))
}
