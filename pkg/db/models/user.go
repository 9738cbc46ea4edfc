package models

import (
	"time"

	"github.com/google/uuid"
)

// User carries the lifetime order counters maintained by the fulfillment
// flow. OrderCount and TotalSpentCents are only ever bumped inside the
// checkout transaction.
type User struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Email           string    `gorm:"column:email;not null;uniqueIndex"`
	FirstName       string    `gorm:"column:first_name;not null"`
	LastName        string    `gorm:"column:last_name;not null"`
	OrderCount      int       `gorm:"column:order_count;not null;default:0"`
	TotalSpentCents int64     `gorm:"column:total_spent_cents;not null;default:0"`
	Addresses       []Address `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
