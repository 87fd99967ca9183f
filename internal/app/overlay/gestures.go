package overlay

import (
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/island"
)

// Gesture is a user input on the overlay.
type Gesture int

const (
	GestureTap       Gesture = iota // Expand the pill
	GestureSwipeUp                  // Collapse, or close the pill
	GestureLongPress                // Open the target player
)

// String returns the string representation of the gesture.
func (g Gesture) String() string {
	switch g {
	case GestureTap:
		return "tap"
	case GestureSwipeUp:
		return "swipe_up"
	case GestureLongPress:
		return "long_press"
	default:
		return "unknown"
	}
}

// ErrUnknownGesture is returned by ParseGesture.
var ErrUnknownGesture = errors.New("unknown gesture")

// ParseGesture parses a gesture name.
func ParseGesture(s string) (Gesture, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tap":
		return GestureTap, nil
	case "swipe_up", "swipe-up", "swipeup":
		return GestureSwipeUp, nil
	case "long_press", "long-press", "longpress":
		return GestureLongPress, nil
	default:
		return GestureTap, errors.Wrapf(ErrUnknownGesture, "%q", s)
	}
}

// Requester is the part of the state machine gestures drive.
type Requester interface {
	State() island.Visibility
	RequestExpand()
	RequestCollapse()
	RequestClose()
}

// Transport controls the target player.
type Transport interface {
	Toggle()
	Next()
	Previous()
	Raise()
}

// Gestures dispatches user gestures and notification actions.
type Gestures struct {
	machine   Requester
	transport Transport
}

// NewGestures creates a gesture dispatcher. transport may be nil.
func NewGestures(machine Requester, transport Transport) *Gestures {
	return &Gestures{machine: machine, transport: transport}
}

// Handle dispatches a gesture.
func (g *Gestures) Handle(gesture Gesture) {
	zlog.Debug().Msgf("overlay: gesture: %s", gesture)
	switch gesture {
	case GestureTap:
		g.machine.RequestExpand()
	case GestureSwipeUp:
		if g.machine.State() == island.Expanded {
			g.machine.RequestCollapse()
		} else {
			g.machine.RequestClose()
		}
	case GestureLongPress:
		if g.transport != nil {
			g.transport.Raise()
		}
	}
}

// HandleAction dispatches a desktop notification action key.
// The default action toggles between the pill and the expanded view.
func (g *Gestures) HandleAction(key string) {
	zlog.Debug().Msgf("overlay: action: %s", key)
	switch key {
	case ActionTap:
		if g.machine.State() == island.Expanded {
			g.machine.RequestCollapse()
		} else {
			g.machine.RequestExpand()
		}
	case ActionToggle:
		if g.transport != nil {
			g.transport.Toggle()
		}
	case ActionNext:
		if g.transport != nil {
			g.transport.Next()
		}
	case ActionPrevious:
		if g.transport != nil {
			g.transport.Previous()
		}
	default:
		zlog.Debug().Msgf("overlay: unknown action ignored: %s", key)
	}
}
