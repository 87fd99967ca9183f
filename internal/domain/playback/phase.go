// Package playback provides the playback domain types shared by the media
// source, the island state machine and the API.
package playback

import "strings"

// Phase represents the playback phase reported by the target player.
type Phase int

const (
	PhaseNone      Phase = iota // No session, or a state the player did not report
	PhasePlaying                // Playing
	PhaseBuffering              // Loading before playing
	PhasePaused                 // Paused
	PhaseStopped                // Stopped
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhasePlaying:
		return "playing"
	case PhaseBuffering:
		return "buffering"
	case PhasePaused:
		return "paused"
	case PhaseStopped:
		return "stopped"
	default:
		return "none"
	}
}

// Normalize maps values outside the known set to PhaseNone.
func (p Phase) Normalize() Phase {
	switch p {
	case PhasePlaying, PhaseBuffering, PhasePaused, PhaseStopped:
		return p
	default:
		return PhaseNone
	}
}

// IsActive reports whether the phase still counts as live playback
// (playing, buffering or paused).
func (p Phase) IsActive() bool {
	switch p {
	case PhasePlaying, PhaseBuffering, PhasePaused:
		return true
	default:
		return false
	}
}

// IsPlaying reports whether the phase is playing or about to play.
func (p Phase) IsPlaying() bool {
	return p == PhasePlaying || p == PhaseBuffering
}

// ParsePhase parses the string form produced by String.
// Unknown strings map to PhaseNone.
func ParsePhase(s string) Phase {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "playing":
		return PhasePlaying
	case "buffering":
		return PhaseBuffering
	case "paused":
		return PhasePaused
	case "stopped":
		return PhaseStopped
	default:
		return PhaseNone
	}
}
