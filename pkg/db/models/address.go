package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cartloom/storefront/pkg/enums"
)

// Address is deduplicated per user on its normalized fields; checkout upserts
// the shipping address rather than appending a copy per order.
type Address struct {
	ID         uuid.UUID         `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID         `gorm:"column:user_id;type:uuid;not null;index"`
	Kind       enums.AddressKind `gorm:"column:kind;not null;default:shipping"`
	FullName   string            `gorm:"column:full_name;not null"`
	Line1      string            `gorm:"column:line1;not null"`
	Line2      *string           `gorm:"column:line2"`
	City       string            `gorm:"column:city;not null"`
	Region     string            `gorm:"column:region;not null"`
	PostalCode string            `gorm:"column:postal_code;not null"`
	Country    string            `gorm:"column:country;not null"`
	Phone      *string           `gorm:"column:phone"`
	IsDefault  bool              `gorm:"column:is_default;not null;default:false"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

// SameLocation reports whether two addresses point at the same physical
// destination, ignoring kind and default flags.
func (a Address) SameLocation(b Address) bool {
	line2 := func(p *string) string {
		if p == nil {
			return ""
		}
		return *p
	}
	return a.FullName == b.FullName &&
		a.Line1 == b.Line1 &&
		line2(a.Line2) == line2(b.Line2) &&
		a.City == b.City &&
		a.Region == b.Region &&
		a.PostalCode == b.PostalCode &&
		a.Country == b.Country
}
