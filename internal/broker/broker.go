// Package broker abstracts the outbound brokerage API behind a two-method
// adapter so the execution core never depends on a specific broker's wire
// format.
package broker

import (
	"context"
	"errors"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// Adapter is the only boundary between the core and a broker.
type Adapter interface {
	// Name returns the broker identifier (e.g. "http", "simulator").
	Name() string

	// Submit sends an order for execution and returns the broker's order id.
	Submit(ctx context.Context, order *types.Order) (string, error)

	// Cancel requests cancellation of an open order by its broker id.
	Cancel(ctx context.Context, brokerOrderID string) error
}

// UncertainError wraps a submission failure where the request may have
// reached the broker. The order must stay in SUBMITTED_UNCONFIRMED for
// reconciliation; retrying would risk a duplicate submission.
type UncertainError struct {
	cause error
}

// NewUncertainError wraps cause as an in-doubt submission failure.
func NewUncertainError(cause error) *UncertainError {
	return &UncertainError{cause: cause}
}

func (e *UncertainError) Error() string {
	if e.cause == nil {
		return "submission uncertain, reconcile manually"
	}
	return "submission uncertain, reconcile manually: " + e.cause.Error()
}

func (e *UncertainError) Unwrap() error {
	return e.cause
}

// IsUncertain reports whether err indicates an in-doubt submission.
func IsUncertain(err error) bool {
	var uncertain *UncertainError
	return errors.As(err, &uncertain)
}
