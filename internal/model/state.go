package model

// OrderState represents the state of an order in the execution lifecycle.
type OrderState string

const (
	StateQueued    OrderState = "queued"
	StateRouting   OrderState = "routing"
	StateBuilding  OrderState = "building"
	StateConfirmed OrderState = "confirmed"
	StateFailed    OrderState = "failed"
)

// stateRank orders states by pipeline position. The two terminal states share
// the highest rank; they are mutually exclusive, not ordered relative to each
// other.
var stateRank = map[OrderState]int{
	StateQueued:    0,
	StateRouting:   1,
	StateBuilding:  2,
	StateConfirmed: 3,
	StateFailed:    3,
}

// Rank returns the pipeline position of s, or -1 for an unknown state.
func (s OrderState) Rank() int {
	r, ok := stateRank[s]
	if !ok {
		return -1
	}
	return r
}

// IsTerminal reports whether s is a terminal state.
func (s OrderState) IsTerminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// Valid reports whether s is a known order state.
func (s OrderState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// CanTransition reports whether moving from one state to another is a legal
// forward step. Any non-terminal state may fail; otherwise states advance one
// position at a time and never regress.
func CanTransition(from, to OrderState) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	return to.Rank() == from.Rank()+1
}
