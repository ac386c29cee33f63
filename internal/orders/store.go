// Package orders is the durable source of truth for order records and the
// only writer of order state transitions.
package orders

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

// transitionRetries bounds the optimistic-update loop when a concurrent
// writer moves the order between our read and our guarded update.
const transitionRetries = 3

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx returns a Store bound to an open transaction, so reconciliation can
// drive transitions atomically with fill and position writes.
func (s *Store) WithTx(tx *gorm.DB) *Store {
	return &Store{db: tx}
}

// GetByKey returns the order for an idempotency key, or nil when no such
// order exists. Not found is not an error.
func (s *Store) GetByKey(key string) (*types.Order, error) {
	var order types.Order
	if err := s.db.Where("idempotency_key = ?", key).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByOrderID retrieves an order by its internal id.
func (s *Store) GetByOrderID(orderID string) (*types.Order, error) {
	var order types.Order
	if err := s.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// GetByBrokerOrderID maps a broker-side id back to the internal order.
func (s *Store) GetByBrokerOrderID(brokerOrderID string) (*types.Order, error) {
	var order types.Order
	if err := s.db.Where("broker_order_id = ?", brokerOrderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// CreateOrGet inserts the order, or returns the existing row when another
// request holding the same idempotency key won the race. The uniqueness
// conflict is recovered here and never surfaced to the caller; the returned
// bool reports whether this call created the row.
func (s *Store) CreateOrGet(order *types.Order) (*types.Order, bool, error) {
	if err := s.db.Create(order).Error; err != nil {
		existing, lookupErr := s.GetByKey(order.IdempotencyKey)
		if lookupErr != nil {
			return nil, false, fmt.Errorf("failed to recover from insert conflict: %w", lookupErr)
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, err
	}
	return order, true, nil
}

// Transition moves an order to a new state. The update is guarded on the
// state read at the start of the attempt, so concurrent writers cannot make
// the order skip a validation; on contention the read-validate-update cycle
// is retried.
func (s *Store) Transition(orderID, to string) (*types.Order, error) {
	for attempt := 0; attempt < transitionRetries; attempt++ {
		order, err := s.GetByOrderID(orderID)
		if err != nil {
			return nil, err
		}
		if order == nil {
			return nil, fmt.Errorf("order %s not found", orderID)
		}
		if !CanTransition(order.State, to) {
			return nil, &InvalidTransitionError{OrderID: orderID, From: order.State, To: to}
		}

		result := s.db.Model(&types.Order{}).
			Where("order_id = ? AND state = ?", orderID, order.State).
			Updates(map[string]interface{}{
				"state":      to,
				"updated_at": time.Now().UTC(),
			})
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected > 0 {
			order.State = to
			return order, nil
		}
		// Lost the race; re-read and re-validate.
	}
	return nil, fmt.Errorf("order %s: transition to %s contended %d times", orderID, to, transitionRetries)
}

// MarkSubmitted records the broker ack path out of PENDING: the broker
// order id is stored together with the SUBMITTED_UNCONFIRMED state.
func (s *Store) MarkSubmitted(orderID, brokerOrderID string) (*types.Order, error) {
	result := s.db.Model(&types.Order{}).
		Where("order_id = ? AND state = ?", orderID, types.StatePending).
		Updates(map[string]interface{}{
			"state":           types.StateSubmittedUnconfirmed,
			"broker_order_id": brokerOrderID,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, &InvalidTransitionError{OrderID: orderID, From: "?", To: types.StateSubmittedUnconfirmed}
	}
	return s.GetByOrderID(orderID)
}

// MarkSubmissionUncertain parks an order in SUBMITTED_UNCONFIRMED without a
// broker id after a send that may or may not have reached the broker. The
// order must never be retried as a new submission; reconciliation resolves it.
func (s *Store) MarkSubmissionUncertain(orderID, message string) (*types.Order, error) {
	result := s.db.Model(&types.Order{}).
		Where("order_id = ? AND state = ?", orderID, types.StatePending).
		Updates(map[string]interface{}{
			"state":         types.StateSubmittedUnconfirmed,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, &InvalidTransitionError{OrderID: orderID, From: "?", To: types.StateSubmittedUnconfirmed}
	}
	return s.GetByOrderID(orderID)
}

// MarkRejected moves an order to REJECTED with the failure recorded.
func (s *Store) MarkRejected(orderID, message string) (*types.Order, error) {
	order, err := s.Transition(orderID, types.StateRejected)
	if err != nil {
		return nil, err
	}
	if err := s.SetError(orderID, message); err != nil {
		return nil, err
	}
	order.ErrorMessage = message
	return order, nil
}

// SetError records an error message on the order.
func (s *Store) SetError(orderID, message string) error {
	return s.updateError(orderID, message)
}

// ClearError is the explicit write path for removing a recorded error.
// There is deliberately no merge-on-absent update for this column: clearing
// must be a first-class operation, not a side effect.
func (s *Store) ClearError(orderID string) error {
	return s.updateError(orderID, "")
}

func (s *Store) updateError(orderID, message string) error {
	result := s.db.Model(&types.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("order %s not found", orderID)
	}
	return nil
}

// RecordFillProgress updates the cumulative filled quantity and the last
// applied webhook sequence for an order.
func (s *Store) RecordFillProgress(orderID string, filledQuantity, sequence int64) error {
	return s.db.Model(&types.Order{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{
			"filled_quantity": filledQuantity,
			"last_sequence":   sequence,
			"updated_at":      time.Now().UTC(),
		}).Error
}

// StuckUnconfirmed lists orders sitting in SUBMITTED_UNCONFIRMED for longer
// than the threshold. These are surfaced for manual reconciliation, never
// silently retried.
func (s *Store) StuckUnconfirmed(olderThan time.Duration) ([]types.Order, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	var stuck []types.Order
	if err := s.db.Where("state = ? AND updated_at < ?", types.StateSubmittedUnconfirmed, cutoff).
		Order("updated_at ASC").
		Find(&stuck).Error; err != nil {
		return nil, err
	}
	return stuck, nil
}

// ListByParent returns all child orders of a sliced parent.
func (s *Store) ListByParent(parentID string) ([]types.Order, error) {
	var children []types.Order
	if err := s.db.Where("parent_id = ?", parentID).Order("created_at ASC").Find(&children).Error; err != nil {
		return nil, err
	}
	return children, nil
}
