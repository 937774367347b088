package daemon

// State is a server lifecycle state. Transitions only move forward:
// NotRunning, Starting, Listening, ShuttingDown, Terminated.
type State int32

// Server states.
const (
	StateNotRunning State = iota
	StateStarting
	StateListening
	StateShuttingDown
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateNotRunning:
		return "not_running"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateShuttingDown:
		return "shutting_down"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}
