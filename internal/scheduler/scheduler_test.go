package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeeeWayyy/execution-core/internal/execution"
	"github.com/LeeeWayyy/execution-core/internal/orders"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/types"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		total int64
		n     int
		want  []int64
	}{
		{"even split", 100, 4, []int64{25, 25, 25, 25}},
		{"remainder spread", 103, 5, []int64{20, 21, 20, 21, 21}},
		{"single slice", 7, 1, []int64{7}},
		{"more slices than shares", 3, 10, []int64{1, 1, 1}},
		{"zero total", 0, 5, nil},
		{"zero slices", 100, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.total, tt.n)
			if len(got) != len(tt.want) {
				t.Fatalf("Plan(%d, %d) = %v, want %v", tt.total, tt.n, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Plan(%d, %d) = %v, want %v", tt.total, tt.n, got, tt.want)
				}
			}
		})
	}
}

func TestPlanProperties(t *testing.T) {
	for _, total := range []int64{1, 7, 99, 100, 101, 1000, 999983} {
		for _, n := range []int{1, 2, 3, 7, 20} {
			slices := Plan(total, n)

			var sum, min, max int64
			min = total
			for _, q := range slices {
				sum += q
				if q < min {
					min = q
				}
				if q > max {
					max = q
				}
			}
			if sum != total {
				t.Errorf("Plan(%d, %d) sums to %d", total, n, sum)
			}
			if max-min > 1 {
				t.Errorf("Plan(%d, %d) slice spread %d, want at most 1", total, n, max-min)
			}
		}
	}
}

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

	if err := db.AutoMigrate(&types.Order{}, &SliceRun{}, &safety.SafetyState{}, &safety.AuditEvent{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

type recordingAdapter struct {
	mu     sync.Mutex
	orders []types.Order
}

func (a *recordingAdapter) Name() string { return "recording" }

func (a *recordingAdapter) Submit(_ context.Context, order *types.Order) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders = append(a.orders, *order)
	return fmt.Sprintf("BRK-%d", len(a.orders)), nil
}

func (a *recordingAdapter) Cancel(_ context.Context, _ string) error { return nil }

func (a *recordingAdapter) submitted() []types.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]types.Order, len(a.orders))
	copy(out, a.orders)
	return out
}

func newTestService(t *testing.T, db *gorm.DB, adapter *recordingAdapter, limits safety.Limits) (*Service, *safety.Database) {
	t.Helper()

	safetyDB := safety.NewDatabase(db)
	if err := safetyDB.Seed(); err != nil {
		t.Fatal(err)
	}
	gate := safety.NewGate(safetyDB, limits, 0)
	exec := execution.NewService(db, gate, adapter)
	return NewService(db, exec, 50), safetyDB
}

func slicedRequest(qty int64, slices, windowSeconds int) *types.SlicedOrderRequest {
	price := decimal.NewFromInt(50)
	return &types.SlicedOrderRequest{
		OrderRequest: types.OrderRequest{
			Symbol:     "MSFT",
			Side:       types.SideBuy,
			Quantity:   qty,
			OrderType:  types.OrderTypeLimit,
			LimitPrice: &price,
			StrategyID: "twap-1",
		},
		Slices:        slices,
		WindowSeconds: windowSeconds,
	}
}

func waitForStatus(t *testing.T, svc *Service, runID string, want string) *SliceRun {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, err := svc.GetRun(runID)
		if err != nil {
			t.Fatal(err)
		}
		if run.Status == want {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	run, _ := svc.GetRun(runID)
	t.Fatalf("run never reached %s, last seen %+v", want, run)
	return nil
}

func parentOrder(t *testing.T, db *gorm.DB, orderID string) *types.Order {
	t.Helper()

	order, err := orders.NewStore(db).GetByOrderID(orderID)
	if err != nil {
		t.Fatal(err)
	}
	if order == nil {
		t.Fatalf("parent order %s not found", orderID)
	}
	return order
}

func TestSubmitSlicedEmitsAllChildren(t *testing.T) {
	db := openTestDB(t)
	adapter := &recordingAdapter{}
	svc, _ := newTestService(t, db, adapter, safety.Limits{OrdersPerSecond: 1000})

	parent, run, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(103, 5, 1))
	if err != nil {
		t.Fatalf("SubmitSliced failed: %v", err)
	}

	final := waitForStatus(t, svc, run.RunID, RunStatusCompleted)
	if final.EmittedSlices != 5 {
		t.Errorf("emitted %d slices, want 5", final.EmittedSlices)
	}

	children := adapter.submitted()
	if len(children) != 5 {
		t.Fatalf("broker saw %d child orders, want 5", len(children))
	}
	var total int64
	for _, child := range children {
		total += child.Quantity
		if child.ParentID != parent.OrderID {
			t.Errorf("child %s has parent %s, want %s", child.OrderID, child.ParentID, parent.OrderID)
		}
	}
	if total != 103 {
		t.Errorf("children sum to %d, want 103", total)
	}

	if state := parentOrder(t, db, parent.OrderID).State; state != types.StateFilled {
		t.Errorf("parent state after completed run = %s, want %s", state, types.StateFilled)
	}
}

func TestSubmitSlicedHaltsOnDenial(t *testing.T) {
	db := openTestDB(t)
	adapter := &recordingAdapter{}
	svc, safetyDB := newTestService(t, db, adapter, safety.Limits{OrdersPerSecond: 1000})

	parent, run, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 4, 2))
	if err != nil {
		t.Fatalf("SubmitSliced failed: %v", err)
	}

	// Engage after the first slice has had time to go out.
	time.Sleep(100 * time.Millisecond)
	if err := safetyDB.SetKillSwitch(safety.KillSwitchEngaged, "ops-carol", "volatility halt"); err != nil {
		t.Fatal(err)
	}

	final := waitForStatus(t, svc, run.RunID, RunStatusHalted)
	if final.HaltReason == "" {
		t.Error("halted run should record the denial reason")
	}
	if got := len(adapter.submitted()); got >= 4 {
		t.Errorf("broker saw %d child orders, want fewer than 4 after halt", got)
	}

	settled := parentOrder(t, db, parent.OrderID)
	if settled.State != types.StateCancelled {
		t.Errorf("parent state after halted run = %s, want %s", settled.State, types.StateCancelled)
	}
	if settled.ErrorMessage == "" {
		t.Error("halted run should record the reason on the parent order")
	}
}

func TestShutdownCancelsRemainingSlices(t *testing.T) {
	db := openTestDB(t)
	adapter := &recordingAdapter{}
	svc, _ := newTestService(t, db, adapter, safety.Limits{OrdersPerSecond: 1000})

	// A wide window keeps the run waiting between slices, so the shutdown
	// lands while slices are still pending.
	parent, run, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 4, 120))
	if err != nil {
		t.Fatalf("SubmitSliced failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(adapter.submitted()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("first slice never reached the broker")
		}
		time.Sleep(10 * time.Millisecond)
	}

	svc.Shutdown()

	final := waitForStatus(t, svc, run.RunID, RunStatusCancelled)
	if final.HaltReason == "" {
		t.Error("cancelled run should record why it stopped")
	}
	if got := len(adapter.submitted()); got >= 4 {
		t.Errorf("broker saw %d child orders, want fewer than 4 after shutdown", got)
	}
	if state := parentOrder(t, db, parent.OrderID).State; state != types.StateCancelled {
		t.Errorf("parent state after shutdown = %s, want %s", state, types.StateCancelled)
	}
}

func TestSubmitSlicedValidatesShape(t *testing.T) {
	db := openTestDB(t)
	adapter := &recordingAdapter{}
	svc, _ := newTestService(t, db, adapter, safety.Limits{OrdersPerSecond: 1000})

	if _, _, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 0, 10)); err == nil {
		t.Error("expected error for zero slices")
	}
	if _, _, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 51, 10)); err == nil {
		t.Error("expected error for slice count above maximum")
	}
	if _, _, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 4, 0)); err == nil {
		t.Error("expected error for zero window")
	}
}

func TestSubmitSlicedDuplicateReturnsExistingRun(t *testing.T) {
	db := openTestDB(t)
	adapter := &recordingAdapter{}
	svc, _ := newTestService(t, db, adapter, safety.Limits{OrdersPerSecond: 1000})

	parent1, run1, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 4, 1))
	if err != nil {
		t.Fatal(err)
	}
	parent2, run2, err := svc.SubmitSliced(context.Background(), "client-1", slicedRequest(100, 4, 1))
	if err != nil {
		t.Fatal(err)
	}

	if parent2.OrderID != parent1.OrderID {
		t.Errorf("duplicate returned parent %s, want %s", parent2.OrderID, parent1.OrderID)
	}
	if run2 == nil || run2.RunID != run1.RunID {
		t.Errorf("duplicate should return the original run %s, got %+v", run1.RunID, run2)
	}

	waitForStatus(t, svc, run1.RunID, RunStatusCompleted)
	if got := len(adapter.submitted()); got != 4 {
		t.Errorf("broker saw %d child orders after duplicate submission, want 4", got)
	}
}
