package reconcile

import (
	"errors"

	"gorm.io/gorm"

	"github.com/LeeeWayyy/execution-core/internal/types"
)

func fillExists(tx *gorm.DB, fillID string) (bool, error) {
	var count int64
	if err := tx.Model(&types.Fill{}).Where("fill_id = ?", fillID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// positionForUpdate reads the symbol's position inside the transaction, or
// returns a fresh zero position for a symbol traded for the first time.
func positionForUpdate(tx *gorm.DB, symbol string) (types.Position, error) {
	var pos types.Position
	err := tx.Where("symbol = ?", symbol).First(&pos).Error
	if err == nil {
		return pos, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Position{Symbol: symbol}, nil
	}
	return types.Position{}, err
}

func savePosition(tx *gorm.DB, pos *types.Position) error {
	if pos.ID == 0 {
		return tx.Create(pos).Error
	}
	return tx.Save(pos).Error
}
