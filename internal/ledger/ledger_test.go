package ledger

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func applyOrFail(t *testing.T, pos types.Position, side string, qty int64, price string) (types.Position, decimal.Decimal) {
	t.Helper()
	next, realized, err := ApplyFill(pos, side, qty, dec(price))
	if err != nil {
		t.Fatalf("ApplyFill(%s %d @ %s) returned error: %v", side, qty, price, err)
	}
	return next, realized
}

func TestApplyFillOpensLong(t *testing.T) {
	pos, realized := applyOrFail(t, types.Position{Symbol: "AAPL"}, types.SideBuy, 100, "150.00")

	if pos.Quantity != 100 {
		t.Errorf("quantity = %d, want 100", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(dec("150.00")) {
		t.Errorf("avg entry = %s, want 150.00", pos.AvgEntryPrice)
	}
	if !realized.IsZero() {
		t.Errorf("realized = %s, want 0", realized)
	}
}

func TestApplyFillWeightedAverageOnIncrease(t *testing.T) {
	pos, _ := applyOrFail(t, types.Position{Symbol: "AAPL"}, types.SideBuy, 100, "100.00")
	pos, realized := applyOrFail(t, pos, types.SideBuy, 100, "110.00")

	if pos.Quantity != 200 {
		t.Errorf("quantity = %d, want 200", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(dec("105.00")) {
		t.Errorf("avg entry = %s, want 105.00", pos.AvgEntryPrice)
	}
	if !realized.IsZero() {
		t.Errorf("increase should realize nothing, got %s", realized)
	}
}

func TestApplyFillPartialCloseLong(t *testing.T) {
	pos, _ := applyOrFail(t, types.Position{Symbol: "AAPL"}, types.SideBuy, 100, "100.00")
	pos, realized := applyOrFail(t, pos, types.SideSell, 40, "110.00")

	if pos.Quantity != 60 {
		t.Errorf("quantity = %d, want 60", pos.Quantity)
	}
	// (110 - 100) * 40 for a long being sold.
	if !realized.Equal(dec("400")) {
		t.Errorf("realized = %s, want 400", realized)
	}
	if !pos.AvgEntryPrice.Equal(dec("100.00")) {
		t.Errorf("avg entry should be unchanged on reduce, got %s", pos.AvgEntryPrice)
	}
}

func TestApplyFillCoverShort(t *testing.T) {
	pos, _ := applyOrFail(t, types.Position{Symbol: "TSLA"}, types.SideSell, 50, "200.00")
	if pos.Quantity != -50 {
		t.Fatalf("quantity = %d, want -50", pos.Quantity)
	}

	pos, realized := applyOrFail(t, pos, types.SideBuy, 50, "180.00")

	// (entry - exit) * qty for a short being covered: (200 - 180) * 50 = 1000.
	if !realized.Equal(dec("1000")) {
		t.Errorf("realized = %s, want 1000", realized)
	}
	if pos.Quantity != 0 {
		t.Errorf("quantity = %d, want 0", pos.Quantity)
	}
	if !pos.AvgEntryPrice.IsZero() {
		t.Errorf("flat position must report zero avg entry, got %s", pos.AvgEntryPrice)
	}
}

func TestApplyFillShortCoveredAtLoss(t *testing.T) {
	pos, _ := applyOrFail(t, types.Position{Symbol: "TSLA"}, types.SideSell, 50, "200.00")
	_, realized := applyOrFail(t, pos, types.SideBuy, 50, "230.00")

	// Covering above entry loses money: (200 - 230) * 50 = -1500.
	if !realized.Equal(dec("-1500")) {
		t.Errorf("realized = %s, want -1500", realized)
	}
}

func TestApplyFillFlipsLongToShort(t *testing.T) {
	pos, _ := applyOrFail(t, types.Position{Symbol: "AAPL"}, types.SideBuy, 100, "100.00")
	pos, realized := applyOrFail(t, pos, types.SideSell, 150, "120.00")

	// Close 100 long at +20 each, then open 50 short at 120.
	if !realized.Equal(dec("2000")) {
		t.Errorf("realized = %s, want 2000", realized)
	}
	if pos.Quantity != -50 {
		t.Errorf("quantity = %d, want -50", pos.Quantity)
	}
	if !pos.AvgEntryPrice.Equal(dec("120.00")) {
		t.Errorf("avg entry = %s, want fill price 120.00", pos.AvgEntryPrice)
	}
}

func TestApplyFillCumulativeEqualsSumOfDeltas(t *testing.T) {
	fills := []struct {
		side  string
		qty   int64
		price string
	}{
		{types.SideBuy, 100, "50.25"},
		{types.SideBuy, 33, "51.10"},
		{types.SideSell, 60, "52.00"},
		{types.SideSell, 73, "49.90"},
		{types.SideSell, 40, "48.00"},
		{types.SideBuy, 40, "47.50"},
	}

	pos := types.Position{Symbol: "MSFT"}
	sum := decimal.Zero
	for _, f := range fills {
		var realized decimal.Decimal
		pos, realized = applyOrFail(t, pos, f.side, f.qty, f.price)
		sum = sum.Add(realized)
	}

	if !pos.RealizedPnL.Equal(sum) {
		t.Errorf("cumulative realized %s != sum of deltas %s", pos.RealizedPnL, sum)
	}
	if pos.Quantity != 0 {
		t.Errorf("expected flat position at end, got %d", pos.Quantity)
	}
}

func TestApplyFillRejectsBadInput(t *testing.T) {
	if _, _, err := ApplyFill(types.Position{}, types.SideBuy, 0, dec("10")); err == nil {
		t.Error("zero quantity should be rejected")
	}
	if _, _, err := ApplyFill(types.Position{}, "HOLD", 10, dec("10")); err == nil {
		t.Error("unknown side should be rejected")
	}
}
