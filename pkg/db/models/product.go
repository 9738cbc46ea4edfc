package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Product represents a storefront listing.
type Product struct {
	ID                  uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU                 string         `gorm:"column:sku;not null;uniqueIndex"`
	Title               string         `gorm:"column:title;not null"`
	Subtitle            *string        `gorm:"column:subtitle"`
	Tags                pq.StringArray `gorm:"column:tags;type:text[]"`
	PriceCents          int            `gorm:"column:price_cents;not null"`
	CompareAtPriceCents *int           `gorm:"column:compare_at_price_cents"`
	IsActive            bool           `gorm:"column:is_active;not null;default:true"`
	Inventory           *InventoryItem `gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE"`
	CreatedAt           time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}
