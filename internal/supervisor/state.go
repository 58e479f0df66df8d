package supervisor

import "errors"

// State is the child's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateReady
	StateExited
	StateRestarting
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateExited:
		return "exited"
	case StateRestarting:
		return "restarting"
	default:
		return "unknown"
	}
}

var (
	// ErrNotReady is returned by Write whenever the child is not Ready.
	ErrNotReady = errors.New("child not ready")

	// ErrChildDied is delivered to every request pending when the child exits.
	ErrChildDied = errors.New("child process exited")
)
