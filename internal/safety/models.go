package safety

import (
	"time"

	"gorm.io/gorm"
)

const (
	KillSwitchEngaged    = "ENGAGED"
	KillSwitchDisengaged = "DISENGAGED"

	BreakerOpen   = "OPEN"
	BreakerClosed = "CLOSED"
)

// Audit actions. Every engage, disengage (including no-ops) and every gate
// denial is recorded.
const (
	ActionEngage        = "ENGAGE"
	ActionEngageNoop    = "ENGAGE_NOOP"
	ActionDisengage     = "DISENGAGE"
	ActionDisengageNoop = "DISENGAGE_NOOP"
	ActionDeny          = "DENY"
)

// SafetyState is the single-row table holding the current kill-switch and
// circuit-breaker status. The row is seeded at startup and only mutated
// through the explicit engage/disengage and heartbeat paths.
type SafetyState struct {
	gorm.Model       `json:"-"`
	KillSwitchState  string    `json:"kill_switch_state"`
	Operator         string    `json:"operator,omitempty"`
	Reason           string    `json:"reason,omitempty"`
	ChangedAt        time.Time `json:"changed_at"`
	BreakerState     string    `json:"breaker_state"`
	BreakerUpdatedAt time.Time `json:"breaker_updated_at"`
}

// AuditEvent is an immutable record of a safety action. Rows are only ever
// appended.
type AuditEvent struct {
	gorm.Model `json:"-"`
	EventID    string    `gorm:"uniqueIndex" json:"event_id"`
	Action     string    `json:"action"`
	Operator   string    `json:"operator,omitempty"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// EngageRequest is the operator payload for engaging the kill switch.
type EngageRequest struct {
	Operator string `json:"operator" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// DisengageRequest additionally requires an explicit confirmation step.
type DisengageRequest struct {
	Operator     string `json:"operator" binding:"required"`
	Reason       string `json:"reason" binding:"required"`
	Confirmation string `json:"confirmation" binding:"required"`
}

// HeartbeatRequest reports circuit-breaker state from the market-data
// pipeline.
type HeartbeatRequest struct {
	State string `json:"state" binding:"required"`
}
