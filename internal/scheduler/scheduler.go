// Package scheduler works a large parent order as a sequence of smaller
// child orders spread over a time window, so a single submission does not
// move the market all at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/execution"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/types"
)

var (
	ErrTooManySlices = errors.New("slice count exceeds configured maximum")
	ErrBadWindow     = errors.New("window must be positive")
)

// Service plans and runs sliced executions. Each child passes through the
// full submission pipeline, so every slice is individually gated and
// idempotent.
type Service struct {
	exec      *execution.Service
	db        *Database
	maxSlices int

	// runCtx bounds every slice run to the service lifetime, not to the
	// HTTP request that started it.
	runCtx   context.Context
	stopRuns context.CancelFunc
}

func NewService(gormDB *gorm.DB, exec *execution.Service, maxSlices int) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		exec:      exec,
		db:        NewDatabase(gormDB),
		maxSlices: maxSlices,
		runCtx:    ctx,
		stopRuns:  cancel,
	}
}

// Shutdown interrupts all in-flight slice runs at their next slice boundary.
// Interrupted runs are marked CANCELLED; already-submitted children are left
// alone.
func (s *Service) Shutdown() {
	s.stopRuns()
}

// SubmitSliced persists the parent order, records the run, and starts the
// slice loop in the background. The parent never goes to the broker itself.
func (s *Service) SubmitSliced(ctx context.Context, clientID string, req *types.SlicedOrderRequest) (*types.Order, *SliceRun, error) {
	if req.Slices <= 0 || req.Slices > s.maxSlices {
		return nil, nil, fmt.Errorf("%w: %d (max %d)", ErrTooManySlices, req.Slices, s.maxSlices)
	}
	if req.WindowSeconds <= 0 {
		return nil, nil, ErrBadWindow
	}

	parent, created, err := s.exec.CreateParent(ctx, clientID, &req.OrderRequest)
	if err != nil {
		return nil, nil, err
	}
	if !created {
		// Duplicate sliced submission: return the existing run instead of
		// starting a second one against the same parent.
		run, err := s.db.GetRunByParent(parent.OrderID)
		if err != nil {
			return nil, nil, err
		}
		return parent, run, nil
	}

	run := &SliceRun{
		RunID:         uuid.New().String(),
		ParentOrderID: parent.OrderID,
		TotalSlices:   len(Plan(parent.Quantity, req.Slices)),
		Status:        RunStatusRunning,
	}
	if err := s.db.CreateRun(run); err != nil {
		return nil, nil, err
	}

	window := time.Duration(req.WindowSeconds) * time.Second
	go s.run(s.runCtx, clientID, parent, run, window)

	return parent, run, nil
}

// GetRun returns the progress record for a run id.
func (s *Service) GetRun(runID string) (*SliceRun, error) {
	run, err := s.db.GetRun(runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}

// run emits the planned slices, pacing them across the window. A safety
// denial on any slice halts the whole run: if one child is unsafe, so are
// the rest.
func (s *Service) run(ctx context.Context, clientID string, parent *types.Order, run *SliceRun, window time.Duration) {
	logger := log.With().
		Str("component", "scheduler").
		Str("run_id", run.RunID).
		Str("parent_order_id", parent.OrderID).
		Logger()

	plan := Plan(parent.Quantity, run.TotalSlices)
	interval := window / time.Duration(len(plan))
	logger.Info().
		Int("slices", len(plan)).
		Dur("interval", interval).
		Msg("starting sliced execution")

	s.advanceParent(parent.OrderID, logger)

	for i, qty := range plan {
		if i > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.finish(run, RunStatusCancelled, "shutdown before run completed", logger)
				return
			case <-timer.C:
			}
		}

		childReq := s.childRequest(parent, i, qty)
		_, _, err := s.exec.SubmitChild(ctx, clientID, parent.OrderID, childReq)
		if err != nil {
			var denial *safety.DenialError
			if errors.As(err, &denial) {
				logger.Warn().Str("reason", denial.Reason).Int("slice", i+1).Msg("run halted by safety gate")
				s.finish(run, RunStatusHalted, denial.Reason, logger)
				return
			}
			logger.Error().Err(err).Int("slice", i+1).Msg("slice submission failed, halting run")
			s.finish(run, RunStatusHalted, err.Error(), logger)
			return
		}

		if err := s.db.RecordEmitted(run.RunID, i+1); err != nil {
			logger.Error().Err(err).Msg("failed to record slice progress")
		}
	}

	s.finish(run, RunStatusCompleted, "", logger)
}

// advanceParent walks the parent out of PENDING once its run starts. The
// parent never reaches the broker; its state tracks the run, while fills
// accrue on the children.
func (s *Service) advanceParent(orderID string, logger zerolog.Logger) {
	store := s.exec.Store()
	for _, to := range []string{types.StateSubmittedUnconfirmed, types.StateAccepted} {
		if _, err := store.Transition(orderID, to); err != nil {
			logger.Error().Err(err).Str("state", to).Msg("failed to advance parent order")
			return
		}
	}
}

// childRequest builds the slice's order request. The slice index goes into
// the strategy id so each child derives a distinct idempotency key while
// rerunning the same slice stays deduplicated.
func (s *Service) childRequest(parent *types.Order, index int, qty int64) *types.OrderRequest {
	req := &types.OrderRequest{
		Symbol:      parent.Symbol,
		Side:        parent.Side,
		Quantity:    qty,
		OrderType:   parent.OrderType,
		TimeInForce: parent.TimeInForce,
		StrategyID:  fmt.Sprintf("%s#slice-%d", parent.StrategyID, index+1),
		Reason:      parent.Reason,
	}
	if parent.LimitPrice.Valid {
		price := parent.LimitPrice.Decimal
		req.LimitPrice = &price
	}
	return req
}

func (s *Service) finish(run *SliceRun, status, reason string, logger zerolog.Logger) {
	if err := s.db.SetStatus(run.RunID, status, reason); err != nil {
		logger.Error().Err(err).Str("status", status).Msg("failed to record run status")
		return
	}
	s.settleParent(run.ParentOrderID, status, reason, logger)
	logger.Info().Str("status", status).Msg("sliced execution finished")
}

// settleParent mirrors the run outcome onto the parent order so no parent
// stays open after its run ends: FILLED once every slice went out, CANCELLED
// when the run stopped early, with the reason recorded on the order.
func (s *Service) settleParent(orderID, status, reason string, logger zerolog.Logger) {
	store := s.exec.Store()
	target := types.StateFilled
	if status != RunStatusCompleted {
		target = types.StateCancelled
	}
	if _, err := store.Transition(orderID, target); err != nil {
		logger.Error().Err(err).Str("state", target).Msg("failed to settle parent order")
		return
	}
	if reason == "" {
		return
	}
	if err := store.SetError(orderID, reason); err != nil {
		logger.Error().Err(err).Msg("failed to record run outcome on parent order")
	}
}
