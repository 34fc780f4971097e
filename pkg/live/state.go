package live

// State is the connection state of a session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingSetupAck
	StateReady
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingSetupAck:
		return "awaiting_setup_ack"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition except Disconnect's
// Closing → Closed can happen.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// MarshalText renders the state name in JSON.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal moves of the state machine.
var transitions = map[State][]State{
	StateIdle:             {StateConnecting, StateClosing, StateFailed},
	StateConnecting:       {StateAwaitingSetupAck, StateClosing, StateFailed},
	StateAwaitingSetupAck: {StateReady, StateClosing, StateFailed},
	StateReady:            {StateClosing, StateFailed},
	StateClosing:          {StateClosed},
	StateFailed:           {StateClosing},
}

func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
