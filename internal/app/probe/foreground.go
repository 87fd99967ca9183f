package probe

import (
	"time"

	zlog "github.com/rs/zerolog/log"
)

// verdict is the last foreground decision made from a real event.
type verdict struct {
	inFg bool
	at   time.Time // Last poll that saw an event for the app
}

// foregroundDetector decides whether an app is frontmost from a window of
// usage events. Event streams have silent gaps, so a recent verdict is kept
// for a while when the window holds no event for the app.
type foregroundDetector struct {
	window        time.Duration
	staleFallback time.Duration
	lastKnown     map[string]verdict
}

func newForegroundDetector(window, staleFallback time.Duration) *foregroundDetector {
	return &foregroundDetector{
		window:        window,
		staleFallback: staleFallback,
		lastKnown:     make(map[string]verdict),
	}
}

// InForeground evaluates the events for app as of now.
// Events outside [now-window, now] are ignored.
func (d *foregroundDetector) InForeground(app string, events []UsageEvent, now time.Time) bool {
	start := now.Add(-d.window)

	var latest *UsageEvent
	for i := range events {
		e := &events[i]
		if e.App != app || e.Time.Before(start) || e.Time.After(now) {
			continue
		}
		if latest == nil || !e.Time.Before(latest.Time) {
			latest = e
		}
	}

	cached, hasCached := d.lastKnown[app]

	if latest != nil {
		var inFg bool
		switch latest.Type {
		case EventForeground:
			inFg = true
		case EventBackground:
			inFg = false
		default:
			inFg = hasCached && cached.inFg
		}
		d.lastKnown[app] = verdict{inFg: inFg, at: now}
		return inFg
	}

	if hasCached && now.Sub(cached.at) <= d.staleFallback {
		return cached.inFg
	}
	if hasCached {
		zlog.Debug().Msgf("probe: foreground verdict expired: app=%s age=%v", app, now.Sub(cached.at))
	}
	return false
}
