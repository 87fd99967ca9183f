// Package frame defines what an overlay surface is asked to display.
package frame

import (
	"time"

	"github.com/osa030/musicisland/internal/domain/playback"
)

// Content is the data rendered inside the overlay.
type Content struct {
	Player       string
	Phase        playback.Phase
	Track        playback.Track
	Position     playback.Position
	Background   string // #rrggbb
	OnBackground string // #rrggbb
	Accent       string // #rrggbb
	Wave         string // Wave variant name
}

// Frame is one complete overlay state pushed to renderers.
type Frame struct {
	SequenceNo uint64
	Visible    bool
	Expanded   bool
	Content    Content
	Time       time.Time
}

// State returns "hidden", "pill" or "expanded".
func (f Frame) State() string {
	switch {
	case !f.Visible:
		return "hidden"
	case f.Expanded:
		return "expanded"
	default:
		return "pill"
	}
}
