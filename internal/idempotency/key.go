// Package idempotency derives deterministic fingerprints for order intents.
// Two submissions of the same economic terms on the same calendar day map to
// the same key and therefore to the same order row.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// priceScale is the canonical number of decimal places used when rendering
// prices into the hash input, so 100.0 and 100.00 hash identically.
const priceScale = 8

// absentPrice is the sentinel for a missing price. It can never collide with
// a rendered decimal.
const absentPrice = "-"

// Fields are the economic terms folded into the key. StrategyID carries the
// caller's stated reason for trading: a deliberate repeat of the same trade
// under a different strategy tag yields a different key.
type Fields struct {
	Symbol      string
	Side        string
	Quantity    int64
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	OrderType   string
	TimeInForce string
	StrategyID  string
	Date        time.Time
}

// Generate returns the hex-encoded SHA-256 key for the given fields. It is a
// pure function: no salt, no machine-local state, stable across restarts.
func Generate(f Fields) string {
	parts := []string{
		strings.ToUpper(strings.TrimSpace(f.Symbol)),
		strings.ToUpper(strings.TrimSpace(f.Side)),
		strconv.FormatInt(f.Quantity, 10),
		canonicalPrice(f.LimitPrice),
		canonicalPrice(f.StopPrice),
		strings.ToUpper(strings.TrimSpace(f.OrderType)),
		strings.ToUpper(strings.TrimSpace(f.TimeInForce)),
		strings.TrimSpace(f.StrategyID),
		f.Date.UTC().Format("2006-01-02"),
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// canonicalPrice renders a price at fixed precision, or the absent sentinel.
func canonicalPrice(p *decimal.Decimal) string {
	if p == nil {
		return absentPrice
	}
	return p.StringFixed(priceScale)
}
