// Package reconcile applies broker webhook events to the order store and
// the position ledger. Deliveries may arrive duplicated, reordered, or for
// orders we never mapped; every path here is safe to replay.
package reconcile

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/ledger"
	"github.com/LeeeWayyy/execution-core/internal/orders"
	"github.com/LeeeWayyy/execution-core/internal/types"
)

// Service consumes broker events. All state changes for one event happen in
// a single transaction: the fill row, the position update, and the order
// transition commit together or not at all.
type Service struct {
	db    *gorm.DB
	store *orders.Store
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db, store: orders.NewStore(db)}
}

// Apply processes one broker event. Events that cannot be applied safely
// (unknown broker order, stale sequence, duplicate fill) are logged and
// dropped without error so the broker does not redeliver them forever.
func (s *Service) Apply(event *types.WebhookEvent) error {
	logger := log.With().
		Str("component", "reconcile").
		Str("broker_order_id", event.BrokerOrderID).
		Str("event_type", event.EventType).
		Int64("sequence", event.Sequence).
		Logger()

	return s.db.Transaction(func(tx *gorm.DB) error {
		store := s.store.WithTx(tx)

		order, err := store.GetByBrokerOrderID(event.BrokerOrderID)
		if err != nil {
			return err
		}
		if order == nil {
			logger.Warn().Msg("event for unmapped broker order, dropping")
			return nil
		}

		// Sequence 0 means the broker did not number the event; honor the
		// ordering guard only when a sequence is present.
		if event.Sequence > 0 && event.Sequence <= order.LastSequence {
			logger.Debug().Int64("last_sequence", order.LastSequence).Msg("stale event, dropping")
			return nil
		}

		switch event.EventType {
		case types.EventAccepted:
			return s.applyAck(store, order, types.StateAccepted, event, logger)
		case types.EventCancelled:
			return s.applyAck(store, order, types.StateCancelled, event, logger)
		case types.EventRejected:
			return s.applyRejected(store, order, event, logger)
		case types.EventPartialFill, types.EventFill:
			return s.applyFill(tx, store, order, event, logger)
		default:
			logger.Warn().Msg("unknown event type, dropping")
			return nil
		}
	})
}

func (s *Service) applyAck(store *orders.Store, order *types.Order, to string, event *types.WebhookEvent, logger zerolog.Logger) error {
	if _, err := store.Transition(order.OrderID, to); err != nil {
		var invalid *orders.InvalidTransitionError
		if errors.As(err, &invalid) {
			// A fill already moved the order past this event.
			logger.Debug().Str("from", invalid.From).Str("to", to).Msg("transition no longer valid, dropping")
			return s.recordSequence(store, order, event)
		}
		return err
	}
	logger.Info().Str("order_id", order.OrderID).Str("state", to).Msg("order state updated from broker event")
	return s.recordSequence(store, order, event)
}

func (s *Service) applyRejected(store *orders.Store, order *types.Order, event *types.WebhookEvent, logger zerolog.Logger) error {
	reason := event.Reason
	if reason == "" {
		reason = "rejected by broker"
	}
	if _, err := store.MarkRejected(order.OrderID, reason); err != nil {
		var invalid *orders.InvalidTransitionError
		if errors.As(err, &invalid) {
			logger.Debug().Str("from", invalid.From).Msg("rejection no longer valid, dropping")
			return s.recordSequence(store, order, event)
		}
		return err
	}
	logger.Info().Str("order_id", order.OrderID).Str("reason", reason).Msg("order rejected by broker")
	return s.recordSequence(store, order, event)
}

// applyFill is the one writer that touches fills, positions, and order state
// together. Duplicate fill ids are dropped before anything is written.
func (s *Service) applyFill(tx *gorm.DB, store *orders.Store, order *types.Order, event *types.WebhookEvent, logger zerolog.Logger) error {
	if event.FillID == "" || event.FillQty <= 0 || event.FillPrice == nil {
		logger.Warn().Msg("malformed fill event, dropping")
		return nil
	}

	exists, err := fillExists(tx, event.FillID)
	if err != nil {
		return err
	}
	if exists {
		logger.Debug().Str("fill_id", event.FillID).Msg("duplicate fill, dropping")
		return s.recordSequence(store, order, event)
	}

	fillTime := time.Now().UTC()
	if event.FillTime != nil {
		fillTime = event.FillTime.UTC()
	}
	fill := &types.Fill{
		FillID:   event.FillID,
		OrderID:  order.OrderID,
		Symbol:   order.Symbol,
		Side:     order.Side,
		Quantity: event.FillQty,
		Price:    *event.FillPrice,
		FillTime: fillTime,
		Sequence: event.Sequence,
	}
	if err := tx.Create(fill).Error; err != nil {
		return err
	}

	pos, err := positionForUpdate(tx, order.Symbol)
	if err != nil {
		return err
	}
	updated, realized, err := ledger.ApplyFill(pos, order.Side, event.FillQty, *event.FillPrice)
	if err != nil {
		return fmt.Errorf("fill %s: %w", event.FillID, err)
	}
	if err := savePosition(tx, &updated); err != nil {
		return err
	}

	cumulative := order.FilledQuantity + event.FillQty
	if err := store.RecordFillProgress(order.OrderID, cumulative, event.Sequence); err != nil {
		return err
	}

	// The cumulative quantity, not the event type, decides the state: a
	// broker that labels the last partial as partial_fill still terminates
	// the order correctly.
	target := types.StatePartiallyFilled
	if cumulative >= order.Quantity {
		target = types.StateFilled
	}
	if order.State != target {
		if _, err := store.Transition(order.OrderID, target); err != nil {
			var invalid *orders.InvalidTransitionError
			if errors.As(err, &invalid) {
				logger.Debug().Str("from", invalid.From).Str("to", target).Msg("fill recorded, state already ahead")
				return nil
			}
			return err
		}
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("fill_id", event.FillID).
		Int64("fill_qty", event.FillQty).
		Int64("cumulative", cumulative).
		Str("state", target).
		Str("realized_pnl", realized.String()).
		Msg("fill applied")
	return nil
}

func (s *Service) recordSequence(store *orders.Store, order *types.Order, event *types.WebhookEvent) error {
	if event.Sequence <= order.LastSequence {
		return nil
	}
	return store.RecordFillProgress(order.OrderID, order.FilledQuantity, event.Sequence)
}
