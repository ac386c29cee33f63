package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// DenialError is the typed refusal returned by the gate. The reason is
// surfaced verbatim to the caller.
type DenialError struct {
	Reason string
}

func (e *DenialError) Error() string {
	return "action denied: " + e.Reason
}

// OrderCheck carries the economics of the action being gated. It is nil for
// actions without a size of their own, such as cancellations.
type OrderCheck struct {
	Symbol   string
	Quantity int64
	Price    decimal.Decimal // zero when unknown (market orders)
}

// Limits is the risk-limit snapshot enforced by the gate.
type Limits struct {
	MaxOrderQuantity int64
	MaxNotional      decimal.Decimal
	OrdersPerSecond  float64
}

// Gate composes the kill switch, the circuit breaker, and risk limits into
// one allow/deny decision consulted before every broker-affecting action.
// It fails closed: if the backing store cannot be read, the answer is deny.
type Gate struct {
	db        *Database
	freshness time.Duration

	mu       sync.RWMutex
	limits   Limits
	throttle *rate.Limiter
}

// NewGate builds a gate over the safety state store. freshness bounds how
// old the last circuit-breaker heartbeat may be before the breaker reads as
// open; zero disables the staleness check.
func NewGate(db *Database, limits Limits, freshness time.Duration) *Gate {
	return &Gate{
		db:        db,
		freshness: freshness,
		limits:    limits,
		throttle:  rate.NewLimiter(rate.Limit(limits.OrdersPerSecond), burstFor(limits)),
	}
}

// burstFor sizes the throttle burst to one second's worth of orders, with a
// floor of one so a sub-1/s limit still admits single actions.
func burstFor(limits Limits) int {
	burst := int(limits.OrdersPerSecond)
	if burst < 1 {
		burst = 1
	}
	return burst
}

// UpdateLimits swaps the risk-limit snapshot. All readers go through the
// same lock; there is no direct field access.
func (g *Gate) UpdateLimits(limits Limits) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = limits
	g.throttle = rate.NewLimiter(rate.Limit(limits.OrdersPerSecond), burstFor(limits))
}

func (g *Gate) currentLimits() (Limits, *rate.Limiter) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.limits, g.throttle
}

// Check returns nil to allow the action or a DenialError with the specific
// reason. Every denial is appended to the audit log.
func (g *Gate) Check(ctx context.Context, oc *OrderCheck) error {
	if err := ctx.Err(); err != nil {
		return g.deny("request cancelled before safety check completed")
	}

	state, err := g.db.GetState()
	if err != nil {
		// Absence of information is unsafe, never safe-by-default.
		log.Error().Err(err).Str("component", "safety_gate").Msg("safety state unreadable, failing closed")
		return g.deny("safety state unavailable")
	}

	if state.KillSwitchState == KillSwitchEngaged {
		return g.deny(fmt.Sprintf("kill switch engaged by %s: %s", state.Operator, state.Reason))
	}

	if state.BreakerState != BreakerClosed {
		return g.deny("circuit breaker open")
	}
	if g.freshness > 0 && time.Since(state.BreakerUpdatedAt) > g.freshness {
		return g.deny(fmt.Sprintf("circuit breaker heartbeat stale (last %s)", state.BreakerUpdatedAt.UTC().Format(time.RFC3339)))
	}

	limits, throttle := g.currentLimits()
	if !throttle.Allow() {
		return g.deny("order rate limit exceeded")
	}

	if oc != nil {
		if limits.MaxOrderQuantity > 0 && oc.Quantity > limits.MaxOrderQuantity {
			return g.deny(fmt.Sprintf("order quantity %d exceeds limit %d", oc.Quantity, limits.MaxOrderQuantity))
		}
		if !oc.Price.IsZero() && !limits.MaxNotional.IsZero() {
			notional := oc.Price.Mul(decimal.NewFromInt(oc.Quantity))
			if notional.GreaterThan(limits.MaxNotional) {
				return g.deny(fmt.Sprintf("order notional %s exceeds limit %s", notional, limits.MaxNotional))
			}
		}
	}

	return nil
}

func (g *Gate) deny(reason string) error {
	if err := g.db.AppendAudit(ActionDeny, "", reason); err != nil {
		log.Error().Err(err).Str("component", "safety_gate").Msg("failed to audit denial")
	}
	return &DenialError{Reason: reason}
}
