package safety

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// stateRowID pins the safety state to a single well-known row.
const stateRowID = 1

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// Seed creates the initial safety state row if none exists: kill switch
// disengaged, breaker closed with a fresh heartbeat.
func (d *Database) Seed() error {
	var state SafetyState
	err := d.db.First(&state, stateRowID).Error
	if err == nil {
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	now := time.Now().UTC()
	state = SafetyState{
		KillSwitchState:  KillSwitchDisengaged,
		ChangedAt:        now,
		BreakerState:     BreakerClosed,
		BreakerUpdatedAt: now,
	}
	state.ID = stateRowID
	return d.db.Create(&state).Error
}

// GetState reads the current safety state. A missing row is an error: the
// caller treats any failure here as unsafe.
func (d *Database) GetState() (*SafetyState, error) {
	var state SafetyState
	if err := d.db.First(&state, stateRowID).Error; err != nil {
		return nil, err
	}
	return &state, nil
}

// SetKillSwitch updates the kill-switch fields of the state row.
func (d *Database) SetKillSwitch(switchState, operator, reason string) error {
	return d.db.Model(&SafetyState{}).
		Where("id = ?", stateRowID).
		Updates(map[string]interface{}{
			"kill_switch_state": switchState,
			"operator":          operator,
			"reason":            reason,
			"changed_at":        time.Now().UTC(),
		}).Error
}

// SetBreaker records a circuit-breaker heartbeat.
func (d *Database) SetBreaker(breakerState string) error {
	return d.db.Model(&SafetyState{}).
		Where("id = ?", stateRowID).
		Updates(map[string]interface{}{
			"breaker_state":      breakerState,
			"breaker_updated_at": time.Now().UTC(),
		}).Error
}

// AppendAudit writes one immutable audit event.
func (d *Database) AppendAudit(action, operator, reason string) error {
	event := AuditEvent{
		EventID:   uuid.New().String(),
		Action:    action,
		Operator:  operator,
		Reason:    reason,
		CreatedAt: time.Now().UTC(),
	}
	return d.db.Create(&event).Error
}

// ListAudit returns the most recent audit events, newest first.
func (d *Database) ListAudit(limit int) ([]AuditEvent, error) {
	var events []AuditEvent
	if err := d.db.Order("created_at DESC, id DESC").Limit(limit).Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
