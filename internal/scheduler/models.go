package scheduler

import (
	"gorm.io/gorm"
)

// Slice run statuses.
const (
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusHalted    = "HALTED"
	RunStatusCancelled = "CANCELLED"
)

// SliceRun tracks the progress of one sliced parent order so a halted or
// interrupted run can be inspected after the fact.
type SliceRun struct {
	gorm.Model
	RunID         string `gorm:"uniqueIndex;not null" json:"run_id"`
	ParentOrderID string `gorm:"index;not null" json:"parent_order_id"`
	TotalSlices   int    `gorm:"not null" json:"total_slices"`
	EmittedSlices int    `gorm:"not null;default:0" json:"emitted_slices"`
	Status        string `gorm:"index;not null" json:"status"`
	HaltReason    string `json:"halt_reason,omitempty"`
}
