// Package x11 derives application focus events and compositor support from
// the X server.
package x11

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/musicisland/internal/app/probe"
)

const (
	DefaultHistory = 128             // Focus events kept
	DefaultRefresh = 5 * time.Second // Re-emit interval for an app that stays focused
)

// WindowReader reads the class of the focused window.
type WindowReader interface {
	ActiveClass() (string, error)
}

// Usage turns focus changes into usage events. The focused window is sampled
// on every query. It implements probe.UsageEvents.
type Usage struct {
	reader WindowReader
	clock  clockwork.Clock

	mu  sync.Mutex
	log *eventLog
}

// NewUsage creates a usage source. A nil reader reports probe.ErrNoUsageAccess.
func NewUsage(reader WindowReader, clock clockwork.Clock) *Usage {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Usage{reader: reader, clock: clock, log: newEventLog(DefaultHistory, DefaultRefresh)}
}

// QueryEvents samples the focused window and returns the events in [start, end].
func (u *Usage) QueryEvents(ctx context.Context, start, end time.Time) ([]probe.UsageEvent, error) {
	if u.reader == nil {
		return nil, probe.ErrNoUsageAccess
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	class, err := u.reader.ActiveClass()
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		// Keep the history; the next sample catches up.
		zlog.Debug().Err(err).Msg("x11: failed to read active window")
	} else {
		u.log.observe(normalizeClass(class), u.clock.Now())
	}
	return u.log.between(start, end), nil
}

func normalizeClass(class string) string {
	return strings.ToLower(strings.TrimSpace(class))
}

// eventLog is a bounded history of focus events.
type eventLog struct {
	capacity int
	refresh  time.Duration
	events   []probe.UsageEvent
	current  string
	lastFg   time.Time // Last foreground event for current
}

func newEventLog(capacity int, refresh time.Duration) *eventLog {
	if capacity < 2 {
		capacity = 2
	}
	return &eventLog{capacity: capacity, refresh: refresh}
}

// observe records that app is focused at now. A change emits a background
// event for the previous app and a foreground event for the new one; an app
// that stays focused gets a fresh foreground event every refresh interval.
func (l *eventLog) observe(app string, now time.Time) {
	if app == l.current {
		if app != "" && l.refresh > 0 && now.Sub(l.lastFg) >= l.refresh {
			l.push(probe.UsageEvent{App: app, Type: probe.EventForeground, Time: now})
			l.lastFg = now
		}
		return
	}
	if l.current != "" {
		l.push(probe.UsageEvent{App: l.current, Type: probe.EventBackground, Time: now})
	}
	if app != "" {
		l.push(probe.UsageEvent{App: app, Type: probe.EventForeground, Time: now})
		l.lastFg = now
	}
	l.current = app
}

func (l *eventLog) push(e probe.UsageEvent) {
	if len(l.events) == l.capacity {
		copy(l.events, l.events[1:])
		l.events = l.events[:len(l.events)-1]
	}
	l.events = append(l.events, e)
}

func (l *eventLog) between(start, end time.Time) []probe.UsageEvent {
	var out []probe.UsageEvent
	for _, e := range l.events {
		if e.Time.Before(start) || e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out
}
