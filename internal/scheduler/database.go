package scheduler

import (
	"errors"

	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreateRun(run *SliceRun) error {
	return d.db.Create(run).Error
}

// GetRun returns the run record, or nil when no such run exists.
func (d *Database) GetRun(runID string) (*SliceRun, error) {
	var run SliceRun
	if err := d.db.Where("run_id = ?", runID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// GetRunByParent maps a parent order back to its slice run.
func (d *Database) GetRunByParent(parentOrderID string) (*SliceRun, error) {
	var run SliceRun
	if err := d.db.Where("parent_order_id = ?", parentOrderID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

func (d *Database) RecordEmitted(runID string, emitted int) error {
	return d.db.Model(&SliceRun{}).
		Where("run_id = ?", runID).
		Update("emitted_slices", emitted).Error
}

func (d *Database) SetStatus(runID, status, haltReason string) error {
	return d.db.Model(&SliceRun{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"status":      status,
			"halt_reason": haltReason,
		}).Error
}
