package orders

import (
	"fmt"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// transitions is the authoritative order state machine. CANCELLED may still
// move forward to a fill state: a broker fill that raced the cancel always
// wins over the cancellation.
var transitions = map[string][]string{
	types.StatePending: {
		types.StateSubmittedUnconfirmed,
		types.StateRejected,
		types.StateCancelled,
	},
	types.StateSubmittedUnconfirmed: {
		types.StateAccepted,
		types.StatePartiallyFilled,
		types.StateFilled,
		types.StateCancelled,
		types.StateRejected,
	},
	types.StateAccepted: {
		types.StatePartiallyFilled,
		types.StateFilled,
		types.StateCancelled,
		types.StateRejected,
	},
	types.StatePartiallyFilled: {
		types.StatePartiallyFilled,
		types.StateFilled,
		types.StateCancelled,
	},
	types.StateCancelled: {
		types.StatePartiallyFilled,
		types.StateFilled,
	},
	types.StateFilled:   {},
	types.StateRejected: {},
}

// InvalidTransitionError reports a rejected state change.
type InvalidTransitionError struct {
	OrderID string
	From    string
	To      string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for order %s", e.From, e.To, e.OrderID)
}

// CanTransition reports whether the state machine permits from -> to.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}
