package orders

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "orders_test.db") + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&types.Order{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return db
}

func newTestOrder(key string) *types.Order {
	return &types.Order{
		OrderID:        uuid.New().String(),
		IdempotencyKey: key,
		Symbol:         "AAPL",
		Side:           types.SideBuy,
		OrderType:      types.OrderTypeMarket,
		Quantity:       100,
		TimeInForce:    types.TimeInForceDay,
		State:          types.StatePending,
	}
}

func TestCreateOrGetDeduplicates(t *testing.T) {
	store := NewStore(openTestDB(t))

	first, created, err := store.CreateOrGet(newTestOrder("key-1"))
	if err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	if !created {
		t.Fatal("first call should create the order")
	}

	second, created, err := store.CreateOrGet(newTestOrder("key-1"))
	if err != nil {
		t.Fatalf("second create failed: %v", err)
	}
	if created {
		t.Error("second call must not create a new order")
	}
	if second.OrderID != first.OrderID {
		t.Errorf("second call returned order %s, want existing %s", second.OrderID, first.OrderID)
	}
}

func TestCreateOrGetConcurrentRace(t *testing.T) {
	store := NewStore(openTestDB(t))

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*types.Order, workers)
	createdFlags := make([]bool, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], createdFlags[i], errs[i] = store.CreateOrGet(newTestOrder("race-key"))
		}(i)
	}
	wg.Wait()

	createdCount := 0
	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d error: %v", i, errs[i])
		}
		if createdFlags[i] {
			createdCount++
		}
		if results[i].OrderID != results[0].OrderID {
			t.Errorf("worker %d got order %s, want %s", i, results[i].OrderID, results[0].OrderID)
		}
	}
	if createdCount != 1 {
		t.Errorf("exactly one worker should create the row, got %d", createdCount)
	}
}

func TestTransitionHappyPath(t *testing.T) {
	store := NewStore(openTestDB(t))
	order, _, err := store.CreateOrGet(newTestOrder("key-t"))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := store.MarkSubmitted(order.OrderID, "BRK-1"); err != nil {
		t.Fatalf("MarkSubmitted failed: %v", err)
	}

	for _, to := range []string{types.StateAccepted, types.StatePartiallyFilled, types.StateFilled} {
		updated, err := store.Transition(order.OrderID, to)
		if err != nil {
			t.Fatalf("transition to %s failed: %v", to, err)
		}
		if updated.State != to {
			t.Errorf("state = %s, want %s", updated.State, to)
		}
	}
}

func TestTransitionRejectsInvalid(t *testing.T) {
	store := NewStore(openTestDB(t))
	order, _, err := store.CreateOrGet(newTestOrder("key-i"))
	if err != nil {
		t.Fatal(err)
	}

	// PENDING cannot jump straight to FILLED.
	_, err = store.Transition(order.OrderID, types.StateFilled)
	var invalid *InvalidTransitionError
	if err == nil {
		t.Fatal("expected invalid transition error")
	}
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %T: %v", err, err)
	}
	if invalid.From != types.StatePending || invalid.To != types.StateFilled {
		t.Errorf("unexpected transition error: %v", invalid)
	}
}

func TestLateFillBeatsCancel(t *testing.T) {
	store := NewStore(openTestDB(t))
	order, _, err := store.CreateOrGet(newTestOrder("key-c"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.MarkSubmitted(order.OrderID, "BRK-2"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Transition(order.OrderID, types.StateCancelled); err != nil {
		t.Fatal(err)
	}

	// A fill that raced the cancel must still be able to move the order on.
	updated, err := store.Transition(order.OrderID, types.StateFilled)
	if err != nil {
		t.Fatalf("late fill after cancel rejected: %v", err)
	}
	if updated.State != types.StateFilled {
		t.Errorf("state = %s, want FILLED", updated.State)
	}
}

func TestSetAndClearError(t *testing.T) {
	store := NewStore(openTestDB(t))
	order, _, err := store.CreateOrGet(newTestOrder("key-e"))
	if err != nil {
		t.Fatal(err)
	}

	if err := store.SetError(order.OrderID, "broker timeout"); err != nil {
		t.Fatalf("SetError failed: %v", err)
	}
	got, err := store.GetByOrderID(order.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorMessage != "broker timeout" {
		t.Errorf("error message = %q, want %q", got.ErrorMessage, "broker timeout")
	}

	if err := store.ClearError(order.OrderID); err != nil {
		t.Fatalf("ClearError failed: %v", err)
	}
	got, err = store.GetByOrderID(order.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ErrorMessage != "" {
		t.Errorf("error message = %q, want cleared", got.ErrorMessage)
	}
}

func TestStuckUnconfirmed(t *testing.T) {
	db := openTestDB(t)
	store := NewStore(db)

	order, _, err := store.CreateOrGet(newTestOrder("key-s"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.MarkSubmitted(order.OrderID, "BRK-3"); err != nil {
		t.Fatal(err)
	}

	// Age the row past the threshold.
	old := time.Now().UTC().Add(-10 * time.Minute)
	if err := db.Model(&types.Order{}).
		Where("order_id = ?", order.OrderID).
		Update("updated_at", old).Error; err != nil {
		t.Fatal(err)
	}

	stuck, err := store.StuckUnconfirmed(5 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(stuck) != 1 || stuck[0].OrderID != order.OrderID {
		t.Errorf("StuckUnconfirmed = %v, want the aged order", stuck)
	}

	fresh, err := store.StuckUnconfirmed(15 * time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if len(fresh) != 0 {
		t.Errorf("order should not be stuck under a 15m threshold, got %d", len(fresh))
	}
}
