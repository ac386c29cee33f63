package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order lifecycle states. SUBMITTED_UNCONFIRMED is the gap between sending
// an order to the broker and receiving its acknowledgement; orders are never
// retried out of it automatically.
const (
	StatePending              = "PENDING"
	StateSubmittedUnconfirmed = "SUBMITTED_UNCONFIRMED"
	StateAccepted             = "ACCEPTED"
	StatePartiallyFilled      = "PARTIALLY_FILLED"
	StateFilled               = "FILLED"
	StateCancelled            = "CANCELLED"
	StateRejected             = "REJECTED"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"

	TimeInForceDay = "DAY"
	TimeInForceGTC = "GTC"
	TimeInForceIOC = "IOC"
)

// Order represents one logical trading intent. Orders are append-only: rows
// are never deleted, state moves forward through the transition table only.
type Order struct {
	gorm.Model     `json:"-"`
	OrderID        string              `gorm:"uniqueIndex" json:"order_id"`
	IdempotencyKey string              `gorm:"uniqueIndex" json:"idempotency_key"`
	BrokerOrderID  string              `gorm:"index" json:"broker_order_id,omitempty"`
	ParentID       string              `gorm:"index" json:"parent_id,omitempty"`
	ClientID       string              `json:"client_id"`
	Symbol         string              `json:"symbol"`
	Side           string              `json:"side"`       // BUY or SELL
	OrderType      string              `json:"order_type"` // MARKET or LIMIT
	Quantity       int64               `json:"quantity"`
	LimitPrice     decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"limit_price,omitempty"`
	StopPrice      decimal.NullDecimal `gorm:"type:numeric(20,8)" json:"stop_price,omitempty"`
	TimeInForce    string              `json:"time_in_force"`
	StrategyID     string              `json:"strategy_id"`
	Reason         string              `json:"reason"`
	State          string              `gorm:"index" json:"state"`
	FilledQuantity int64               `json:"filled_quantity"`
	LastSequence   int64               `json:"-"`
	ErrorMessage   string              `json:"error_message,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`
}

// IsTerminal reports whether no further broker activity is expected. A late
// fill can still move CANCELLED forward, so CANCELLED is deliberately not
// treated as terminal here.
func (o *Order) IsTerminal() bool {
	return o.State == StateFilled || o.State == StateRejected
}

// IsOpen reports whether the order may still be cancelled.
func (o *Order) IsOpen() bool {
	switch o.State {
	case StateSubmittedUnconfirmed, StateAccepted, StatePartiallyFilled:
		return true
	}
	return false
}

// Fill is a single execution event reported by the broker. Immutable once
// stored; FillID is the broker-supplied identifier used for deduplication.
type Fill struct {
	gorm.Model `json:"-"`
	FillID     string          `gorm:"uniqueIndex" json:"fill_id"`
	OrderID    string          `gorm:"index" json:"order_id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	Quantity   int64           `json:"quantity"`
	Price      decimal.Decimal `gorm:"type:numeric(20,8)" json:"price"`
	FillTime   time.Time       `json:"fill_time"`
	Sequence   int64           `json:"sequence,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Position is the per-symbol aggregate maintained by the ledger. Quantity is
// signed: positive long, negative short. AvgEntryPrice is zero whenever
// Quantity is zero and must be ignored in that case.
type Position struct {
	gorm.Model    `json:"-"`
	Symbol        string          `gorm:"uniqueIndex" json:"symbol"`
	Quantity      int64           `json:"quantity"`
	AvgEntryPrice decimal.Decimal `gorm:"type:numeric(20,8)" json:"avg_entry_price"`
	RealizedPnL   decimal.Decimal `gorm:"type:numeric(20,8)" json:"realized_pnl_cumulative"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
