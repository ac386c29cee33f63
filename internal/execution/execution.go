// Package execution orchestrates order intake: validation, the safety gate,
// idempotent persistence, and broker submission.
package execution

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/broker"
	"github.com/LeeeWayyy/execution-core/internal/idempotency"
	"github.com/LeeeWayyy/execution-core/internal/orders"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/types"
)

// ErrOrderNotFound is returned for cancel/status requests against unknown
// orders.
var ErrOrderNotFound = errors.New("order not found")

// Service is the orchestrating entry point for order submission and
// cancellation.
type Service struct {
	store   *orders.Store
	gate    *safety.Gate
	adapter broker.Adapter
}

func NewService(gormDB *gorm.DB, gate *safety.Gate, adapter broker.Adapter) *Service {
	return &Service{
		store:   orders.NewStore(gormDB),
		gate:    gate,
		adapter: adapter,
	}
}

// Store exposes the order store for the scheduler and monitors.
func (s *Service) Store() *orders.Store {
	return s.store
}

// Submit runs the full intake pipeline for one order request. The returned
// bool reports whether a new order was created; a duplicate submission
// returns the original order without any broker call.
func (s *Service) Submit(ctx context.Context, clientID string, req *types.OrderRequest) (*types.Order, bool, error) {
	return s.submit(ctx, clientID, "", req)
}

// SubmitChild submits a slice child on behalf of the scheduler, linking it
// to its parent order.
func (s *Service) SubmitChild(ctx context.Context, clientID, parentID string, req *types.OrderRequest) (*types.Order, bool, error) {
	return s.submit(ctx, clientID, parentID, req)
}

func (s *Service) submit(ctx context.Context, clientID, parentID string, req *types.OrderRequest) (*types.Order, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}

	if err := s.gate.Check(ctx, orderCheck(req)); err != nil {
		return nil, false, err
	}

	key := idempotency.Generate(idempotency.Fields{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		OrderType:   req.OrderType,
		TimeInForce: req.TimeInForce,
		StrategyID:  req.StrategyID,
		Date:        time.Now().UTC(),
	})

	logger := log.With().
		Str("component", "execution").
		Str("idempotency_key", key).
		Str("symbol", req.Symbol).
		Str("side", req.Side).
		Int64("quantity", req.Quantity).
		Logger()

	// Fast path: the same trade intent was already submitted today.
	if existing, err := s.store.GetByKey(key); err != nil {
		return nil, false, err
	} else if existing != nil {
		logger.Info().Str("order_id", existing.OrderID).Msg("duplicate submission, returning existing order")
		return existing, false, nil
	}

	order := &types.Order{
		OrderID:        uuid.New().String(),
		IdempotencyKey: key,
		ParentID:       parentID,
		ClientID:       clientID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		TimeInForce:    req.TimeInForce,
		StrategyID:     req.StrategyID,
		Reason:         req.Reason,
		State:          types.StatePending,
	}
	if req.LimitPrice != nil {
		order.LimitPrice = decimal.NewNullDecimal(*req.LimitPrice)
	}
	if req.StopPrice != nil {
		order.StopPrice = decimal.NewNullDecimal(*req.StopPrice)
	}

	order, created, err := s.store.CreateOrGet(order)
	if err != nil {
		return nil, false, err
	}
	if !created {
		// A concurrent request with the same key won the insert race; its
		// submission (done or in flight) is the only one.
		logger.Info().Str("order_id", order.OrderID).Msg("lost insert race, returning winner's order")
		return order, false, nil
	}

	brokerOrderID, err := s.adapter.Submit(ctx, order)
	if err != nil {
		if broker.IsUncertain(err) {
			logger.Warn().Err(err).Str("order_id", order.OrderID).
				Msg("submission uncertain, parking order for reconciliation")
			parked, markErr := s.store.MarkSubmissionUncertain(order.OrderID, err.Error())
			if markErr != nil {
				return nil, true, markErr
			}
			return parked, true, nil
		}

		logger.Warn().Err(err).Str("order_id", order.OrderID).Msg("broker rejected submission")
		rejected, markErr := s.store.MarkRejected(order.OrderID, err.Error())
		if markErr != nil {
			return nil, true, markErr
		}
		return rejected, true, nil
	}

	submitted, err := s.store.MarkSubmitted(order.OrderID, brokerOrderID)
	if err != nil {
		return nil, true, err
	}

	logger.Info().
		Str("order_id", submitted.OrderID).
		Str("broker_order_id", brokerOrderID).
		Msg("order submitted to broker")
	return submitted, true, nil
}

// CreateParent persists a parent order for sliced execution without sending
// it to the broker; the scheduler works it as child orders.
func (s *Service) CreateParent(ctx context.Context, clientID string, req *types.OrderRequest) (*types.Order, bool, error) {
	if err := validateRequest(req); err != nil {
		return nil, false, err
	}
	if err := s.gate.Check(ctx, orderCheck(req)); err != nil {
		return nil, false, err
	}

	key := idempotency.Generate(idempotency.Fields{
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		OrderType:   req.OrderType,
		TimeInForce: req.TimeInForce,
		StrategyID:  req.StrategyID + "#parent",
		Date:        time.Now().UTC(),
	})

	order := &types.Order{
		OrderID:        uuid.New().String(),
		IdempotencyKey: key,
		ClientID:       clientID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		OrderType:      req.OrderType,
		Quantity:       req.Quantity,
		TimeInForce:    req.TimeInForce,
		StrategyID:     req.StrategyID,
		Reason:         req.Reason,
		State:          types.StatePending,
	}
	if req.LimitPrice != nil {
		order.LimitPrice = decimal.NewNullDecimal(*req.LimitPrice)
	}

	return s.store.CreateOrGet(order)
}

// Cancel requests cancellation of an open order. The cancel itself is gated;
// the terminal state is decided by the broker's callbacks, so a fill that
// raced this cancel still wins.
func (s *Service) Cancel(ctx context.Context, clientID, orderID string) (*types.Order, error) {
	order, err := s.store.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || (clientID != "" && order.ClientID != clientID) {
		return nil, ErrOrderNotFound
	}

	if err := s.gate.Check(ctx, nil); err != nil {
		return nil, err
	}

	if order.State == types.StatePending {
		// Never reached the broker; cancel locally.
		return s.store.Transition(order.OrderID, types.StateCancelled)
	}
	if !order.IsOpen() {
		return nil, validationErrorf("order in state %s cannot be cancelled", order.State)
	}

	if err := s.adapter.Cancel(ctx, order.BrokerOrderID); err != nil {
		return nil, err
	}

	log.Info().
		Str("component", "execution").
		Str("order_id", order.OrderID).
		Str("broker_order_id", order.BrokerOrderID).
		Msg("cancellation sent to broker")
	return order, nil
}

// GetOrder retrieves an order scoped to the requesting client.
func (s *Service) GetOrder(clientID, orderID string) (*types.Order, error) {
	order, err := s.store.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || (clientID != "" && order.ClientID != clientID) {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

func orderCheck(req *types.OrderRequest) *safety.OrderCheck {
	oc := &safety.OrderCheck{
		Symbol:   req.Symbol,
		Quantity: req.Quantity,
	}
	if req.LimitPrice != nil {
		oc.Price = *req.LimitPrice
	}
	return oc
}
