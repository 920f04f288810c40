package tenant

import "slices"

// State is the lifecycle state of a tenant.
type State string

const (
	StatePending     State = "pending"
	StateActive      State = "active"
	StateSuspended   State = "suspended"
	StateDeactivated State = "deactivated"
	StateDeleted     State = "deleted"
)

// AllStates lists every lifecycle state in declaration order.
var AllStates = []State{StatePending, StateActive, StateSuspended, StateDeactivated, StateDeleted}

var transitions = map[State][]State{
	StatePending:     {StateActive, StateDeleted},
	StateActive:      {StateSuspended, StateDeactivated, StateDeleted},
	StateSuspended:   {StateActive, StateDeactivated, StateDeleted},
	StateDeactivated: {StateDeleted},
	StateDeleted:     nil,
}

// ParseState validates a stored or user supplied state value.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", InvalidState(s)
	}
	return st, nil
}

// IsValid reports whether s is a known lifecycle state.
func (s State) IsValid() bool {
	return slices.Contains(AllStates, s)
}

// Resolvable reports whether requests may be served for a tenant in this state.
func (s State) Resolvable() bool {
	return s == StateActive
}

// HoldsDescriptor reports whether a record in this state must carry a
// connection descriptor. Records in any other state must not.
func (s State) HoldsDescriptor() bool {
	return s == StateActive || s == StateSuspended
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether the state machine permits from -> to.
// Staying in the same state is not a transition.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// CheckRecord enforces the descriptor invariant for a state/descriptor pair.
func CheckRecord(state State, hasDescriptor bool) error {
	if !state.IsValid() {
		return InvalidState(string(state))
	}
	if state.HoldsDescriptor() != hasDescriptor {
		return &Error{Kind: KindInvalidRecord, State: state}
	}
	return nil
}
