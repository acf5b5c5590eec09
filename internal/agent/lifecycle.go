package agent

import "github.com/google/uuid"

// ID is an opaque, globally unique agent identifier.
type ID = uuid.UUID

// NewID generates a new random agent identifier.
func NewID() ID {
	return uuid.New()
}

// LifecycleState is the state machine an agent (PTY-owned or APS-connected)
// moves through. Starting -> Ready <-> Busy is the normal loop; Error,
// Stopping, Stopped are terminal or near-terminal. Once Stopped, no further
// transition is permitted.
type LifecycleState int

const (
	StateStarting LifecycleState = iota
	StateReady
	StateBusy
	StateError
	StateStopping
	StateStopped
)

func (s LifecycleState) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Terminal reports whether state is Stopped, the only state from which no
// further transition is permitted.
func (s LifecycleState) Terminal() bool {
	return s == StateStopped
}
