package execution

import (
	"fmt"
	"strings"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// ValidationError marks a request rejected locally before any broker call.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// validateRequest normalizes the request in place and rejects malformed
// input.
func validateRequest(req *types.OrderRequest) error {
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Side = strings.ToUpper(strings.TrimSpace(req.Side))
	req.OrderType = strings.ToUpper(strings.TrimSpace(req.OrderType))
	req.TimeInForce = strings.ToUpper(strings.TrimSpace(req.TimeInForce))
	if req.TimeInForce == "" {
		req.TimeInForce = types.TimeInForceDay
	}

	if req.Symbol == "" {
		return validationErrorf("symbol is required")
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return validationErrorf("side must be %s or %s", types.SideBuy, types.SideSell)
	}
	if req.Quantity <= 0 {
		return validationErrorf("quantity must be positive, got %d", req.Quantity)
	}

	switch req.OrderType {
	case types.OrderTypeMarket:
		if req.LimitPrice != nil {
			return validationErrorf("market orders must not carry a limit price")
		}
	case types.OrderTypeLimit:
		if req.LimitPrice == nil || !req.LimitPrice.IsPositive() {
			return validationErrorf("limit orders require a positive limit price")
		}
	default:
		return validationErrorf("order type must be %s or %s", types.OrderTypeMarket, types.OrderTypeLimit)
	}

	switch req.TimeInForce {
	case types.TimeInForceDay, types.TimeInForceGTC, types.TimeInForceIOC:
	default:
		return validationErrorf("unsupported time in force %q", req.TimeInForce)
	}

	return nil
}
