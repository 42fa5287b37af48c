package core

// State represents the lifecycle position of an order or slice.
type State int

// Order states
const (
	StateCreated State = iota
	StateSent
	StateAcknowledged
	StatePartiallyFilled
	StatePendingRevision
	StateFilled
	StateCancelled
	StateRejected
)

// String returns state as string
func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateSent:
		return "SENT"
	case StateAcknowledged:
		return "ACKNOWLEDGED"
	case StatePartiallyFilled:
		return "PARTIALLY_FILLED"
	case StatePendingRevision:
		return "PENDING_REVISION"
	case StateFilled:
		return "FILLED"
	case StateCancelled:
		return "CANCELLED"
	case StateRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// ParseState converts a wire string back into a State.
func ParseState(s string) (State, bool) {
	for st := StateCreated; st <= StateRejected; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return StateCreated, false
}

// IsTerminal reports whether no further fills or revisions may be applied.
func (s State) IsTerminal() bool {
	switch s {
	case StateFilled, StateCancelled, StateRejected:
		return true
	default:
		return false
	}
}

// transitions is the closed set of legal state changes. Cancelled and
// Rejected are additionally reachable from every non-terminal state.
var transitions = map[State][]State{
	StateCreated:         {StateSent},
	StateSent:            {StateAcknowledged},
	StateAcknowledged:    {StatePartiallyFilled, StateFilled, StatePendingRevision},
	StatePartiallyFilled: {StatePartiallyFilled, StateAcknowledged, StateFilled, StatePendingRevision},
	StatePendingRevision: {StateAcknowledged, StatePartiallyFilled, StateFilled},
}

// CanTransition reports whether moving from s to next is legal.
func (s State) CanTransition(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateCancelled || next == StateRejected {
		return true
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}
