package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest is the inbound order submission payload.
type OrderRequest struct {
	Symbol        string               `json:"symbol" binding:"required"`
	Side          string               `json:"side" binding:"required"`
	Quantity      int64                `json:"quantity" binding:"required"`
	OrderType     string               `json:"order_type" binding:"required"`
	LimitPrice    *decimal.Decimal     `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal     `json:"stop_price,omitempty"`
	TimeInForce   string               `json:"time_in_force"`
	ClientOrderID string               `json:"client_order_id"`
	StrategyID    string               `json:"strategy_id"`
	Reason        string               `json:"reason"`
}

// SlicedOrderRequest submits a parent order to be worked as timed slices.
type SlicedOrderRequest struct {
	OrderRequest
	Slices        int `json:"slices" binding:"required"`
	WindowSeconds int `json:"window_seconds" binding:"required"`
}

// Broker webhook event types.
const (
	EventAccepted    = "accepted"
	EventPartialFill = "partial_fill"
	EventFill        = "fill"
	EventCancelled   = "cancelled"
	EventRejected    = "rejected"
)

// WebhookEvent is a broker callback. The HMAC signature over the raw request
// body travels in the X-Broker-Signature header, not in the payload.
type WebhookEvent struct {
	BrokerOrderID string           `json:"broker_order_id"`
	EventType     string           `json:"event_type"`
	FillID        string           `json:"fill_id,omitempty"`
	FillQty       int64            `json:"fill_qty,omitempty"`
	FillPrice     *decimal.Decimal `json:"fill_price,omitempty"`
	FillTime      *time.Time       `json:"fill_time,omitempty"`
	Sequence      int64            `json:"sequence,omitempty"`
	Reason        string           `json:"reason,omitempty"`
}
