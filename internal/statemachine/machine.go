// Package statemachine enforces the legal order lifecycle transition
// graph. It holds no state itself; callers persist the result.
package statemachine

import (
	"fmt"

	"tradecore/internal/errkind"
	"tradecore/pkg/domain"
)

var legalTransitions = map[domain.State]map[domain.State]bool{
	domain.StatePending: {
		domain.StateQueued:   true,
		domain.StateRejected: true,
	},
	domain.StateQueued: {
		domain.StateSubmitted: true,
		domain.StateRejected:  true,
		domain.StateCancelled: true,
	},
	domain.StateSubmitted: {
		domain.StatePartiallyFilled:  true,
		domain.StateFilled:           true,
		domain.StateCancelled:        true,
		domain.StateRejected:         true,
		domain.StateModifyRequested:  true,
	},
	domain.StatePartiallyFilled: {
		domain.StateFilled:          true,
		domain.StateCancelled:       true,
		domain.StateModifyRequested: true,
	},
	domain.StateModifyRequested: {
		domain.StateSubmitted: true,
		domain.StateRejected:  true,
	},
}

// Machine applies the order lifecycle transition graph.
type Machine struct{}

// New returns a ready-to-use Machine.
func New() *Machine { return &Machine{} }

// Transition validates moving an order from its current state to next.
// A self-transition (next == current) is always a no-op, permitted so
// broker events that arrive more than once are idempotent. Any other
// move outside the legal graph returns an errkind.InvalidTransition
// error.
func (m *Machine) Transition(current domain.State, next domain.State) (domain.State, error) {
	if current == next {
		return current, nil
	}
	if current.Terminal() {
		return current, errkind.New(errkind.InvalidTransition,
			fmt.Sprintf("order is in terminal state %s, cannot transition to %s", current, next))
	}
	if legalTransitions[current][next] {
		return next, nil
	}
	return current, errkind.New(errkind.InvalidTransition,
		fmt.Sprintf("illegal transition %s -> %s", current, next))
}
