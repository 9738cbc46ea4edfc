package models

import (
	"time"

	"github.com/google/uuid"
)

// InventoryItem tracks on-hand/reserved counts per product. All mutations go
// through the stock ledger; no other component writes these columns.
type InventoryItem struct {
	ProductID         uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Quantity          int       `gorm:"column:quantity;not null;default:0"`
	ReservedQty       int       `gorm:"column:reserved_qty;not null;default:0"`
	LowStockThreshold int       `gorm:"column:low_stock_threshold;not null;default:0"`
	TrackQuantity     bool      `gorm:"column:track_quantity;not null;default:true"`
	AllowBackorder    bool      `gorm:"column:allow_backorder;not null;default:false"`
	UpdatedAt         time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableQty is on-hand minus reserved, floored at zero. Backorder mode can
// push reserved beyond on-hand; the clamp keeps the published number sane.
func (i InventoryItem) AvailableQty() int {
	available := i.Quantity - i.ReservedQty
	if available < 0 {
		return 0
	}
	return available
}
