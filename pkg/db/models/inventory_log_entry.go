package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cartloom/storefront/pkg/enums"
)

// InventoryLogEntry records an immutable stock mutation. Rows are appended in
// the same transaction as the mutation they document and never updated;
// order_id/idempotency_key support idempotency lookups.
type InventoryLogEntry struct {
	ID               uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ProductID        uuid.UUID               `gorm:"column:product_id;type:uuid;not null;index"`
	Type             enums.StockMovementType `gorm:"column:type;not null"`
	Quantity         int                     `gorm:"column:quantity;not null"`
	PreviousQuantity int                     `gorm:"column:previous_quantity;not null"`
	NewQuantity      int                     `gorm:"column:new_quantity;not null"`
	OrderID          *uuid.UUID              `gorm:"column:order_id;type:uuid;index"`
	IdempotencyKey   *string                 `gorm:"column:idempotency_key;index"`
	PerformedByType  enums.ActorType         `gorm:"column:performed_by_type;not null"`
	PerformedByID    *uuid.UUID              `gorm:"column:performed_by_id;type:uuid"`
	CreatedAt        time.Time               `gorm:"column:created_at;autoCreateTime"`
}
