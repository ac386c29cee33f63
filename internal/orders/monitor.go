package orders

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically surfaces orders stuck in SUBMITTED_UNCONFIRMED so
// operators can reconcile them against the broker.
type Monitor struct {
	store      *Store
	interval   time.Duration
	stuckAfter time.Duration
}

func NewMonitor(store *Store, interval, stuckAfter time.Duration) *Monitor {
	return &Monitor{
		store:      store,
		interval:   interval,
		stuckAfter: stuckAfter,
	}
}

// Start begins the monitoring loop and blocks until the context is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	logger := log.With().Str("component", "order_monitor").Logger()
	logger.Info().
		Dur("interval", m.interval).
		Dur("stuck_after", m.stuckAfter).
		Msg("starting stuck-order monitor")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down stuck-order monitor")
			return
		case <-ticker.C:
			stuck, err := m.store.StuckUnconfirmed(m.stuckAfter)
			if err != nil {
				logger.Error().Err(err).Msg("failed to query stuck orders")
				continue
			}
			for _, order := range stuck {
				logger.Warn().
					Str("order_id", order.OrderID).
					Str("broker_order_id", order.BrokerOrderID).
					Str("symbol", order.Symbol).
					Time("updated_at", order.UpdatedAt).
					Msg("order stuck in SUBMITTED_UNCONFIRMED, reconcile against broker")
			}
		}
	}
}
