package ledger

import (
	"errors"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

// GetPosition returns the position for a symbol, or nil when the symbol has
// never been filled. Not found is not an error.
func (d *Database) GetPosition(symbol string) (*types.Position, error) {
	var pos types.Position
	if err := d.db.Where("symbol = ?", symbol).First(&pos).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &pos, nil
}

// ListPositions returns all positions, including flat ones. Positions are
// never deleted once created.
func (d *Database) ListPositions() ([]types.Position, error) {
	var positions []types.Position
	if err := d.db.Order("symbol ASC").Find(&positions).Error; err != nil {
		return nil, err
	}
	return positions, nil
}

// ListFills returns fills for an order, oldest first.
func (d *Database) ListFills(orderID string) ([]types.Fill, error) {
	var fills []types.Fill
	if err := d.db.Where("order_id = ?", orderID).Order("fill_time ASC").Find(&fills).Error; err != nil {
		return nil, err
	}
	return fills, nil
}
