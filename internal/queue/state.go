package queue

// state.go — connection lifecycle transition rules.
//
//	UNCONNECTED ──connect──► CONNECTED ──disconnect──► DISCONNECTED
//	     ▲                                                  (terminal)
//	     └── failed connect stays here and may be retried
//
// A peer hang-up does not change the state: the queue stays CONNECTED with
// IsConnected() false until the owner calls Disconnect.

// State is the lifecycle state of a Queue.
type State int32

const (
	StateUnconnected State = iota
	StateConnected
	StateDisconnected
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ValidTransition reports whether from → to is a legal lifecycle change.
func ValidTransition(from, to State) bool {
	switch from {
	case StateUnconnected:
		// Connect succeeds, or a never-connected queue is torn down.
		return to == StateConnected || to == StateDisconnected
	case StateConnected:
		return to == StateDisconnected
	case StateDisconnected:
		return false
	}
	return false
}
