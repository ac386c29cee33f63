package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// Compile-time interface check.
var _ Adapter = (*Simulator)(nil)

type simOrder struct {
	order     types.Order
	cancelled bool
}

// Simulator implements Adapter in memory for development and the
// end-to-end simulation. When an event sink is attached it plays back
// accepted/fill/cancelled callbacks the way a real broker webhook would,
// including occasional partial fills and duplicate deliveries.
type Simulator struct {
	mu       sync.Mutex
	orders   map[string]*simOrder
	sequence int64

	// OnEvent receives broker callbacks. Nil disables playback.
	OnEvent func(types.WebhookEvent)

	// FillDelay is how long after submission fills are reported.
	FillDelay time.Duration

	// PartialFillRate in [0,1] is the chance an order fills in two parts.
	PartialFillRate float64
}

func NewSimulator() *Simulator {
	return &Simulator{
		orders:    make(map[string]*simOrder),
		FillDelay: 50 * time.Millisecond,
	}
}

// Name returns "simulator".
func (s *Simulator) Name() string {
	return "simulator"
}

// Submit records the order and schedules simulated broker callbacks.
func (s *Simulator) Submit(_ context.Context, order *types.Order) (string, error) {
	brokerOrderID := "SIM-" + uuid.New().String()

	s.mu.Lock()
	s.orders[brokerOrderID] = &simOrder{order: *order}
	s.mu.Unlock()

	log.Debug().
		Str("component", "broker_simulator").
		Str("broker_order_id", brokerOrderID).
		Str("symbol", order.Symbol).
		Int64("quantity", order.Quantity).
		Msg("simulated submission")

	if s.OnEvent != nil {
		go s.playback(brokerOrderID)
	}
	return brokerOrderID, nil
}

// Cancel marks the order cancelled. If fills have not been played back yet
// the cancellation wins; otherwise the fill events already emitted stand.
func (s *Simulator) Cancel(_ context.Context, brokerOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("unknown broker order %s", brokerOrderID)
	}
	rec.cancelled = true

	if s.OnEvent != nil {
		go s.emit(types.WebhookEvent{
			BrokerOrderID: brokerOrderID,
			EventType:     types.EventCancelled,
		})
	}
	return nil
}

func (s *Simulator) playback(brokerOrderID string) {
	s.emit(types.WebhookEvent{
		BrokerOrderID: brokerOrderID,
		EventType:     types.EventAccepted,
	})

	time.Sleep(s.FillDelay)

	s.mu.Lock()
	rec, ok := s.orders[brokerOrderID]
	if !ok || rec.cancelled {
		s.mu.Unlock()
		return
	}
	order := rec.order
	s.mu.Unlock()

	price := s.fillPrice(&order)
	now := time.Now().UTC()

	if s.PartialFillRate > 0 && rand.Float64() < s.PartialFillRate && order.Quantity > 1 {
		half := order.Quantity / 2
		s.emit(fillEvent(brokerOrderID, types.EventPartialFill, half, price, now))
		time.Sleep(s.FillDelay)
		s.emit(fillEvent(brokerOrderID, types.EventFill, order.Quantity-half, price, now.Add(s.FillDelay)))
		return
	}

	s.emit(fillEvent(brokerOrderID, types.EventFill, order.Quantity, price, now))
}

func fillEvent(brokerOrderID, eventType string, qty int64, price decimal.Decimal, at time.Time) types.WebhookEvent {
	return types.WebhookEvent{
		BrokerOrderID: brokerOrderID,
		EventType:     eventType,
		FillID:        "SIMFILL-" + uuid.New().String(),
		FillQty:       qty,
		FillPrice:     &price,
		FillTime:      &at,
	}
}

func (s *Simulator) fillPrice(order *types.Order) decimal.Decimal {
	if order.LimitPrice.Valid {
		return order.LimitPrice.Decimal
	}
	// Synthetic market price with a small random variance.
	base := decimal.NewFromInt(100)
	variance := decimal.NewFromFloat(rand.Float64()*2 - 1).Round(2)
	return base.Add(variance)
}

func (s *Simulator) emit(event types.WebhookEvent) {
	s.mu.Lock()
	s.sequence++
	event.Sequence = s.sequence
	sink := s.OnEvent
	s.mu.Unlock()

	if sink != nil {
		sink(event)
	}
}
