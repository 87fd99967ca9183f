// Package host runs the island while the target player has a session.
package host

// Phase represents the host lifecycle phase.
type Phase int

const (
	PhaseStarting Phase = iota // Wiring components
	PhaseActive                // Forwarding events to the machine
	PhaseStopping              // Tearing down
	PhaseStopped               // Host has ended
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseActive:
		return "active"
	case PhaseStopping:
		return "stopping"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsRunning returns true for Starting and Active.
func (p Phase) IsRunning() bool {
	return p == PhaseStarting || p == PhaseActive
}

// StopReason explains why a host stopped.
type StopReason string

const (
	ReasonSettledHidden StopReason = "settled_hidden" // Hidden with no playback left
	ReasonShutdown      StopReason = "shutdown"       // Daemon is exiting
	ReasonStartFailed   StopReason = "start_failed"   // Wiring failed
)
