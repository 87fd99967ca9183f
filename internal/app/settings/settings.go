// Package settings holds the user settings: the feature toggle and the
// selected wave animation.
package settings

import (
	"context"
	"strings"
)

// WaveVariant is the animation drawn next to the track title.
type WaveVariant int

const (
	WaveClassic   WaveVariant = iota // Bars
	WaveVoice                        // Voice-like oscillation
	WaveHeartbeat                    // Pulse line
)

// AllWaves lists the variants in display order.
var AllWaves = []WaveVariant{WaveClassic, WaveVoice, WaveHeartbeat}

// String returns the stored name of the variant.
func (w WaveVariant) String() string {
	switch w {
	case WaveVoice:
		return "voice"
	case WaveHeartbeat:
		return "heartbeat"
	default:
		return "classic"
	}
}

// Label returns the human readable name.
func (w WaveVariant) Label() string {
	switch w {
	case WaveVoice:
		return "Voice"
	case WaveHeartbeat:
		return "Heartbeat"
	default:
		return "Classic"
	}
}

// ParseWave parses a stored name. Unknown names fall back to WaveClassic.
func ParseWave(s string) WaveVariant {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voice":
		return WaveVoice
	case "heartbeat":
		return WaveHeartbeat
	default:
		return WaveClassic
	}
}

// Settings is the persisted settings value.
type Settings struct {
	Enabled bool
	Wave    WaveVariant
}

// Default returns the settings used when nothing is stored.
func Default() Settings {
	return Settings{Enabled: true, Wave: WaveClassic}
}

// Repository persists settings.
type Repository interface {
	// Load returns the stored settings, with defaults for missing keys.
	Load(ctx context.Context) (Settings, error)
	SaveEnabled(ctx context.Context, enabled bool) error
	SaveWave(ctx context.Context, wave WaveVariant) error
}
