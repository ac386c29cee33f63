package database

import (
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/LeeeWayyy/execution-core/internal/config"
	"github.com/LeeeWayyy/execution-core/internal/safety"
	"github.com/LeeeWayyy/execution-core/internal/scheduler"
	"github.com/LeeeWayyy/execution-core/internal/types"
)

// NewDatabase initializes and returns a new GORM DB connection
func NewDatabase(cfg *config.Config) (*gorm.DB, error) {
	dsn := cfg.Database.Path + "?_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)

	if err := db.AutoMigrate(
		&types.Order{},
		&types.Fill{},
		&types.Position{},
		&safety.SafetyState{},
		&safety.AuditEvent{},
		&scheduler.SliceRun{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return db, nil
}
