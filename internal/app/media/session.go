// Package media tracks the target player's media session and republishes
// its playback phase, track and position.
package media

import (
	"context"
	"strings"

	"github.com/osa030/musicisland/internal/domain/playback"
)

// Callbacks are invoked by a session when its state changes.
// Nil fields are skipped.
type Callbacks struct {
	OnPhase    func(playback.Phase)
	OnTrack    func(playback.Track)
	OnPosition func(playback.Position)
}

// Subscription is a registered callback that can be removed.
type Subscription interface {
	Unsubscribe() error
}

// Session is a live media session of one player instance.
type Session interface {
	ID() string     // Unique identity, changes when the player restarts
	Player() string // Player name, e.g. "spotify" or "vlc.instance42"
	Phase() playback.Phase
	Track() playback.Track
	Position() playback.Position

	Subscribe(cb Callbacks) (Subscription, error)

	Play(ctx context.Context) error
	Pause(ctx context.Context) error
	Next(ctx context.Context) error
	Previous(ctx context.Context) error
	Raise(ctx context.Context) error
}

// SessionManager lists sessions and reports changes to the set.
type SessionManager interface {
	ActiveSessions(ctx context.Context) ([]Session, error)
	WatchSessions(ctx context.Context, onChange func()) (Subscription, error)
}

// Sink receives playback phases in arrival order.
type Sink interface {
	OnPlaybackChanged(phase playback.Phase)
	OnSessionLost()
}

// MatchesTarget reports whether player is an instance of target.
// Instance suffixes such as "vlc.instance42" match "vlc".
func MatchesTarget(player, target string) bool {
	if target == "" {
		return false
	}
	player = strings.ToLower(player)
	target = strings.ToLower(target)
	return player == target || strings.HasPrefix(player, target+".")
}

// FindTarget returns the first session of the target player, or nil.
func FindTarget(sessions []Session, target string) Session {
	for _, s := range sessions {
		if s != nil && MatchesTarget(s.Player(), target) {
			return s
		}
	}
	return nil
}

// Snapshot is the observable state of the tracked session.
type Snapshot struct {
	Phase    playback.Phase
	Track    playback.Track
	Position playback.Position
	Active   bool   // A target session is tracked
	Player   string // Player name of the tracked session
}
