package liveupload

// State is a step of the streaming upload state machine.
type State int32

// States of a Streamer run.
const (
	StateIdle State = iota
	StateStarting
	StateStreaming
	StateFinalizing
	StateCompleted
	StateAborting
	StateAborted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateCompleted:
		return "completed"
	case StateAborting:
		return "aborting"
	case StateAborted:
		return "aborted"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateFailed
}
