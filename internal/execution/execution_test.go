package execution

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeeeWayyy/execution-core/internal/broker"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&types.Order{}, &safety.SafetyState{}, &safety.AuditEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func openGate(t *testing.T, db *gorm.DB) *safety.Gate {
	t.Helper()

	safetyDB := safety.NewDatabase(db)
	if err := safetyDB.Seed(); err != nil {
		t.Fatalf("failed to seed safety state: %v", err)
	}
	return safety.NewGate(safetyDB, safety.Limits{
		MaxOrderQuantity: 10000,
		MaxNotional:      decimal.NewFromInt(10_000_000),
		OrdersPerSecond:  1000,
	}, 0)
}

// countingAdapter records every broker call and can be scripted to fail.
type countingAdapter struct {
	mu          sync.Mutex
	submits     int
	cancels     int
	submitErr   error
	lastBroker  string
	cancelledID string
}

func (a *countingAdapter) Name() string { return "counting" }

func (a *countingAdapter) Submit(_ context.Context, order *types.Order) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.submits++
	if a.submitErr != nil {
		return "", a.submitErr
	}
	a.lastBroker = fmt.Sprintf("BRK-%d", a.submits)
	return a.lastBroker, nil
}

func (a *countingAdapter) Cancel(_ context.Context, brokerOrderID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancels++
	a.cancelledID = brokerOrderID
	return nil
}

func (a *countingAdapter) submitCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.submits
}

func limitOrderRequest() *types.OrderRequest {
	price := decimal.NewFromInt(150)
	return &types.OrderRequest{
		Symbol:     "AAPL",
		Side:       types.SideBuy,
		Quantity:   100,
		OrderType:  types.OrderTypeLimit,
		LimitPrice: &price,
		StrategyID: "momentum-v2",
	}
}

func TestSubmitCreatesAndMarksSubmitted(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	order, created, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if !created {
		t.Error("expected a newly created order")
	}
	if order.State != types.StateSubmittedUnconfirmed {
		t.Errorf("state = %s, want %s", order.State, types.StateSubmittedUnconfirmed)
	}
	if order.BrokerOrderID == "" {
		t.Error("expected broker order id to be recorded")
	}
	if order.ClientID != "client-1" {
		t.Errorf("client id = %s, want client-1", order.ClientID)
	}
}

func TestSubmitDuplicateCallsBrokerOnce(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	first, created, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatalf("first Submit failed: %v", err)
	}
	if !created {
		t.Fatal("first submission should create the order")
	}

	second, created, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}
	if created {
		t.Error("duplicate submission should not create a new order")
	}
	if second.OrderID != first.OrderID {
		t.Errorf("duplicate returned order %s, want %s", second.OrderID, first.OrderID)
	}
	if got := adapter.submitCount(); got != 1 {
		t.Errorf("broker submit called %d times, want 1", got)
	}
}

func TestSubmitDeniedByKillSwitch(t *testing.T) {
	db := openTestDB(t)
	safetyDB := safety.NewDatabase(db)
	if err := safetyDB.Seed(); err != nil {
		t.Fatal(err)
	}
	if err := safetyDB.SetKillSwitch(safety.KillSwitchEngaged, "ops-bob", "market data outage"); err != nil {
		t.Fatal(err)
	}
	gate := safety.NewGate(safetyDB, safety.Limits{OrdersPerSecond: 1000}, 0)
	adapter := &countingAdapter{}
	svc := NewService(db, gate, adapter)

	_, _, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	var denial *safety.DenialError
	if !errors.As(err, &denial) {
		t.Fatalf("expected DenialError, got %v", err)
	}
	if denial.Reason == "" {
		t.Error("denial should carry the reason")
	}
	if got := adapter.submitCount(); got != 0 {
		t.Errorf("broker called %d times while kill switch engaged, want 0", got)
	}
}

func TestSubmitValidationRejected(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	tests := []struct {
		name   string
		mutate func(*types.OrderRequest)
	}{
		{"zero quantity", func(r *types.OrderRequest) { r.Quantity = 0 }},
		{"bad side", func(r *types.OrderRequest) { r.Side = "HOLD" }},
		{"limit without price", func(r *types.OrderRequest) { r.LimitPrice = nil }},
		{"empty symbol", func(r *types.OrderRequest) { r.Symbol = "  " }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := limitOrderRequest()
			tt.mutate(req)
			_, _, err := svc.Submit(context.Background(), "client-1", req)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
		})
	}
	if got := adapter.submitCount(); got != 0 {
		t.Errorf("broker called %d times for invalid requests, want 0", got)
	}
}

func TestSubmitUncertainParksOrder(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{
		submitErr: broker.NewUncertainError(errors.New("request timed out")),
	}
	svc := NewService(db, openGate(t, db), adapter)

	order, created, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatalf("uncertain submission should not surface an error, got %v", err)
	}
	if !created {
		t.Error("order should have been created before the broker call")
	}
	if order.State != types.StateSubmittedUnconfirmed {
		t.Errorf("state = %s, want %s", order.State, types.StateSubmittedUnconfirmed)
	}
	if order.BrokerOrderID != "" {
		t.Errorf("uncertain order should have no broker id, got %s", order.BrokerOrderID)
	}
	if order.ErrorMessage == "" {
		t.Error("uncertain order should record the failure")
	}
}

func TestSubmitDefiniteRejection(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{
		submitErr: errors.New("broker rejected order: 400 unknown symbol"),
	}
	svc := NewService(db, openGate(t, db), adapter)

	order, _, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatalf("definite rejection should return the rejected order, got error %v", err)
	}
	if order.State != types.StateRejected {
		t.Errorf("state = %s, want %s", order.State, types.StateRejected)
	}
	if order.ErrorMessage == "" {
		t.Error("rejected order should record the broker's message")
	}
}

func TestCancelPendingOrderLocally(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	parent, _, err := svc.CreateParent(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatal(err)
	}
	if parent.State != types.StatePending {
		t.Fatalf("parent state = %s, want %s", parent.State, types.StatePending)
	}

	cancelled, err := svc.Cancel(context.Background(), "client-1", parent.OrderID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if cancelled.State != types.StateCancelled {
		t.Errorf("state = %s, want %s", cancelled.State, types.StateCancelled)
	}
	if adapter.cancels != 0 {
		t.Errorf("broker cancel called %d times for a pending order, want 0", adapter.cancels)
	}
}

func TestCancelOpenOrderGoesToBroker(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	order, _, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatal(err)
	}

	got, err := svc.Cancel(context.Background(), "client-1", order.OrderID)
	if err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	// The cancel request does not flip state; the broker callback decides.
	if got.State != types.StateSubmittedUnconfirmed {
		t.Errorf("state = %s, want %s", got.State, types.StateSubmittedUnconfirmed)
	}
	if adapter.cancelledID != order.BrokerOrderID {
		t.Errorf("cancelled broker order %s, want %s", adapter.cancelledID, order.BrokerOrderID)
	}
}

func TestCancelScopedToClient(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	order, _, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Cancel(context.Background(), "client-2", order.OrderID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("expected ErrOrderNotFound for another client's order, got %v", err)
	}
}

func TestConcurrentSubmitSingleBrokerCall(t *testing.T) {
	db := openTestDB(t)
	adapter := &countingAdapter{}
	svc := NewService(db, openGate(t, db), adapter)

	const workers = 8
	var wg sync.WaitGroup
	orderIDs := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			order, _, err := svc.Submit(context.Background(), "client-1", limitOrderRequest())
			if err != nil {
				t.Errorf("worker %d: %v", i, err)
				return
			}
			orderIDs[i] = order.OrderID
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if orderIDs[i] != orderIDs[0] {
			t.Errorf("worker %d got order %s, want %s", i, orderIDs[i], orderIDs[0])
		}
	}
	if got := adapter.submitCount(); got != 1 {
		t.Errorf("broker submit called %d times, want 1", got)
	}
}
