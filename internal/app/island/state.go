// Package island provides the overlay visibility state machine.
package island

// Visibility represents how the overlay is shown.
type Visibility int

const (
	Hidden   Visibility = iota // Overlay not shown
	Pill                       // Compact pill shown
	Expanded                   // Enlarged view with full controls
)

// String returns the string representation of the visibility.
func (v Visibility) String() string {
	switch v {
	case Hidden:
		return "hidden"
	case Pill:
		return "pill"
	case Expanded:
		return "expanded"
	default:
		return "unknown"
	}
}

// IsShown returns true for Pill and Expanded.
func (v Visibility) IsShown() bool {
	return v == Pill || v == Expanded
}

// ParseVisibility parses the string form produced by String.
func ParseVisibility(s string) (Visibility, bool) {
	switch s {
	case "hidden":
		return Hidden, true
	case "pill":
		return Pill, true
	case "expanded":
		return Expanded, true
	default:
		return Hidden, false
	}
}

// Layout is the shape of an overlay that is already shown.
type Layout int

const (
	LayoutPill     Layout = iota // Compact
	LayoutExpanded               // Full controls
)

// String returns the string representation of the layout.
func (l Layout) String() string {
	if l == LayoutExpanded {
		return "expanded"
	}
	return "pill"
}

// Environment is the external context gating whether the overlay may be
// shown at all. It is a value type; the machine replaces it as a whole.
type Environment struct {
	Enabled          bool // Feature toggle from settings
	Unlocked         bool // Device (session) is unlocked
	TargetForeground bool // Target player window is frontmost
}

// DefaultEnvironment returns the environment assumed before any update.
func DefaultEnvironment() Environment {
	return Environment{Enabled: true, Unlocked: true, TargetForeground: false}
}

// Allowed reports whether the overlay may be displayed.
func (e Environment) Allowed() bool {
	return e.Enabled && e.Unlocked && !e.TargetForeground
}

// EnvironmentUpdate is a partial environment change.
// Nil fields keep their prior value.
type EnvironmentUpdate struct {
	Enabled          *bool
	Unlocked         *bool
	TargetForeground *bool
}

// IsEmpty returns true if the update carries no field.
func (u EnvironmentUpdate) IsEmpty() bool {
	return u.Enabled == nil && u.Unlocked == nil && u.TargetForeground == nil
}

// Apply returns a copy of e with the update applied.
func (u EnvironmentUpdate) Apply(e Environment) Environment {
	if u.Enabled != nil {
		e.Enabled = *u.Enabled
	}
	if u.Unlocked != nil {
		e.Unlocked = *u.Unlocked
	}
	if u.TargetForeground != nil {
		e.TargetForeground = *u.TargetForeground
	}
	return e
}

// WithEnabled returns an update that only sets Enabled.
func WithEnabled(v bool) EnvironmentUpdate {
	return EnvironmentUpdate{Enabled: &v}
}

// WithUnlocked returns an update that only sets Unlocked.
func WithUnlocked(v bool) EnvironmentUpdate {
	return EnvironmentUpdate{Unlocked: &v}
}

// WithTargetForeground returns an update that only sets TargetForeground.
func WithTargetForeground(v bool) EnvironmentUpdate {
	return EnvironmentUpdate{TargetForeground: &v}
}
