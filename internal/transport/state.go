package transport

// ChannelState is the lifecycle of the push channel
type ChannelState int

const (
	StateIdle ChannelState = iota
	StateConnecting
	StateOpen
	StateClosed
	StateDisposed
)

func (s ChannelState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// canTransition lists the allowed moves; Disposed is reachable from everywhere and final
func canTransition(from, to ChannelState) bool {
	if from == StateDisposed {
		return false
	}
	switch to {
	case StateDisposed:
		return true
	case StateConnecting:
		return from == StateIdle || from == StateClosed
	case StateOpen:
		return from == StateConnecting
	case StateClosed:
		return from == StateConnecting || from == StateOpen
	default:
		return false
	}
}
