package models

import (
	"time"

	"github.com/google/uuid"
)

// Cart belongs to a user or a guest session, never both. Guest carts carry a
// session id and expire after the configured TTL.
type Cart struct {
	ID            uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID        *uuid.UUID `gorm:"column:user_id;type:uuid;index"`
	SessionID     *string    `gorm:"column:session_id;index"`
	SubtotalCents int        `gorm:"column:subtotal_cents;not null;default:0"`
	TaxCents      int        `gorm:"column:tax_cents;not null;default:0"`
	ShippingCents int        `gorm:"column:shipping_cents;not null;default:0"`
	DiscountCents int        `gorm:"column:discount_cents;not null;default:0"`
	TotalCents    int        `gorm:"column:total_cents;not null;default:0"`
	Items         []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// IsGuest reports whether the cart is owned by a session rather than a user.
func (c Cart) IsGuest() bool {
	return c.UserID == nil && c.SessionID != nil
}
