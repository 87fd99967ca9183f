// Package capability reports which platform capabilities the daemon can use.
package capability

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// Capability is a platform feature the daemon depends on.
type Capability int

const (
	OverlayDraw          Capability = iota // A surface can be drawn over other windows
	NotificationListener                   // Media sessions can be observed
	UsageAccess                            // The foreground application can be read
	PostNotifications                      // Desktop notifications can be posted
)

// All lists every capability in report order.
var All = []Capability{OverlayDraw, NotificationListener, UsageAccess, PostNotifications}

// String returns the string representation of the capability.
func (c Capability) String() string {
	switch c {
	case OverlayDraw:
		return "overlay_draw"
	case NotificationListener:
		return "notification_listener"
	case UsageAccess:
		return "usage_access"
	case PostNotifications:
		return "post_notifications"
	default:
		return "unknown"
	}
}

// Hint tells the user how to grant the capability.
func (c Capability) Hint() string {
	switch c {
	case OverlayDraw:
		return "run inside an X11 session (DISPLAY) or configure a stream surface"
	case NotificationListener:
		return "start a D-Bus session bus and export DBUS_SESSION_BUS_ADDRESS"
	case UsageAccess:
		return "run inside an X11 session with an EWMH window manager (_NET_ACTIVE_WINDOW)"
	case PostNotifications:
		return "start a notification daemon owning org.freedesktop.Notifications"
	default:
		return ""
	}
}

// BlurWarning is shown when no compositing manager runs.
const BlurWarning = "no compositing manager detected: the overlay is drawn without background blur"

// Check reports whether a capability is granted.
type Check func(ctx context.Context) bool

// Status is one line of a capability report.
type Status struct {
	Capability Capability
	Granted    bool
	Hint       string // Empty when granted
}

// ErrMissing is returned by Require when a capability is absent.
var ErrMissing = errors.New("required capability missing")

// Checker evaluates capability checks.
type Checker struct {
	checks map[Capability]Check
	blur   Check
}

// NewChecker creates a checker. Capabilities without a check are reported
// as not granted; a nil blur check means blur is unsupported.
func NewChecker(checks map[Capability]Check, blur Check) *Checker {
	c := &Checker{checks: make(map[Capability]Check, len(checks)), blur: blur}
	for k, v := range checks {
		c.checks[k] = v
	}
	return c
}

// Has reports whether capability c is granted.
func (c *Checker) Has(ctx context.Context, capability Capability) bool {
	check, ok := c.checks[capability]
	if !ok || check == nil {
		return false
	}
	return check(ctx)
}

// Report evaluates every capability.
func (c *Checker) Report(ctx context.Context) []Status {
	out := make([]Status, 0, len(All))
	for _, capability := range All {
		s := Status{Capability: capability, Granted: c.Has(ctx, capability)}
		if !s.Granted {
			s.Hint = capability.Hint()
		}
		out = append(out, s)
	}
	return out
}

// BlurSupported reports whether cross-window blur is available.
func (c *Checker) BlurSupported(ctx context.Context) bool {
	return c.blur != nil && c.blur(ctx)
}

// Warnings returns the user-visible warnings for degraded features.
func (c *Checker) Warnings(ctx context.Context) []string {
	var out []string
	if !c.BlurSupported(ctx) {
		out = append(out, BlurWarning)
	}
	return out
}

// Require returns ErrMissing naming every absent capability with its hint.
func (c *Checker) Require(ctx context.Context, capabilities ...Capability) error {
	var missing []string
	for _, capability := range capabilities {
		if !c.Has(ctx, capability) {
			missing = append(missing, capability.String()+" ("+capability.Hint()+")")
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return errors.Wrap(ErrMissing, strings.Join(missing, ", "))
}
