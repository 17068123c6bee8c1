package playback

// State is the lifecycle position of a Session.
type State int

const (
	StateLoading State = iota
	StateReady
	StatePlaying
	StatePaused
	StateCommitting
	StateUnloaded
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateCommitting:
		return "committing"
	case StateUnloaded:
		return "unloaded"
	default:
		return "unknown"
	}
}
