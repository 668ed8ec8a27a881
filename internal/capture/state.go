package capture

// State is the CaptureService lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping           // explicit stop in progress
	StateStoppingForRestart // liveness probe restart in progress
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStoppingForRestart:
		return "stopping_for_restart"
	}
	return "unknown"
}
