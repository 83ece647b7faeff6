package facilitator

import (
	"fmt"

	x402 "github.com/openfacilitator/openfacilitator/go"
)

// State is a step of one settlement run.
type State int

const (
	StateIdle State = iota
	StatePreflightChecked
	StatePermitSubmitted
	StatePermitConfirmed
	StateTransferSubmitted
	StateTransferConfirmed
	StateSucceeded
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:              "idle",
	StatePreflightChecked:  "preflight_checked",
	StatePermitSubmitted:   "permit_submitted",
	StatePermitConfirmed:   "permit_confirmed",
	StateTransferSubmitted: "transfer_submitted",
	StateTransferConfirmed: "transfer_confirmed",
	StateSucceeded:         "succeeded",
	StateFailed:            "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Forward transitions per strategy. Failed is reachable from every
// non-terminal state and is not listed.
var permitTransitions = map[State]State{
	StateIdle:              StatePreflightChecked,
	StatePreflightChecked:  StatePermitSubmitted,
	StatePermitSubmitted:   StatePermitConfirmed,
	StatePermitConfirmed:   StateTransferSubmitted,
	StateTransferSubmitted: StateTransferConfirmed,
	StateTransferConfirmed: StateSucceeded,
}

var authorizedTransferTransitions = map[State]State{
	StateIdle:              StatePreflightChecked,
	StatePreflightChecked:  StateTransferSubmitted,
	StateTransferSubmitted: StateTransferConfirmed,
	StateTransferConfirmed: StateSucceeded,
}

func transitionsFor(strategy x402.Strategy) map[State]State {
	if strategy == x402.StrategyPermit {
		return permitTransitions
	}
	return authorizedTransferTransitions
}

// CanTransition reports whether a run of the given strategy may move
// from one state to another.
func CanTransition(strategy x402.Strategy, from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	next, ok := transitionsFor(strategy)[from]
	return ok && next == to
}
