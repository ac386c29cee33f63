// Package ledger maintains per-symbol positions and realized P&L. All
// arithmetic is fixed-point decimal; float64 must not appear in this package.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// ApplyFill applies one fill to a position and returns the new position
// together with the realized P&L delta for the closed portion.
//
// Closing P&L is one formula for both directions: (exit - entry) * closedQty
// * direction, where direction is +1 for a long being reduced and -1 for a
// short being covered. A fill that flips the sign of the position is treated
// as a full close followed by a reopen at the fill price.
func ApplyFill(pos types.Position, side string, qty int64, price decimal.Decimal) (types.Position, decimal.Decimal, error) {
	if qty <= 0 {
		return pos, decimal.Zero, fmt.Errorf("fill quantity must be positive, got %d", qty)
	}

	var signed int64
	switch side {
	case types.SideBuy:
		signed = qty
	case types.SideSell:
		signed = -qty
	default:
		return pos, decimal.Zero, fmt.Errorf("unknown fill side %q", side)
	}

	realized := decimal.Zero
	old := pos.Quantity

	switch {
	case old == 0 || (old > 0) == (signed > 0):
		// Opening or increasing: size-weighted average entry, no realized P&L.
		oldAbs := decimal.NewFromInt(abs(old))
		fillAbs := decimal.NewFromInt(qty)
		total := oldAbs.Add(fillAbs)
		pos.AvgEntryPrice = pos.AvgEntryPrice.Mul(oldAbs).Add(price.Mul(fillAbs)).Div(total)
		pos.Quantity = old + signed

	default:
		// Reducing, closing, or flipping.
		closed := min64(abs(old), qty)
		direction := decimal.NewFromInt(1)
		if old < 0 {
			direction = decimal.NewFromInt(-1)
		}
		realized = price.Sub(pos.AvgEntryPrice).Mul(decimal.NewFromInt(closed)).Mul(direction)

		remainder := qty - closed
		if remainder > 0 {
			// Flip: the old position is fully closed above, the remainder
			// opens a fresh position at the fill price.
			if signed > 0 {
				pos.Quantity = remainder
			} else {
				pos.Quantity = -remainder
			}
			pos.AvgEntryPrice = price
		} else {
			pos.Quantity = old + signed
			if pos.Quantity == 0 {
				pos.AvgEntryPrice = decimal.Zero
			}
		}
	}

	pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	return pos, realized, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
