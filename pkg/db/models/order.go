package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/cartloom/storefront/pkg/enums"
)

// Order is the durable record produced by checkout. IdempotencyKey is unique
// so a retried checkout with the same key lands on the existing order instead
// of creating a second one.
type Order struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber    string              `gorm:"column:order_number;not null;uniqueIndex"`
	UserID         uuid.UUID           `gorm:"column:user_id;type:uuid;not null;index"`
	IdempotencyKey string              `gorm:"column:idempotency_key;not null;uniqueIndex"`
	Status         enums.OrderStatus   `gorm:"column:status;not null;default:pending"`
	PaymentStatus  enums.PaymentStatus `gorm:"column:payment_status;not null;default:pending"`
	SubtotalCents  int                 `gorm:"column:subtotal_cents;not null;default:0"`
	TaxCents       int                 `gorm:"column:tax_cents;not null;default:0"`
	ShippingCents  int                 `gorm:"column:shipping_cents;not null;default:0"`
	DiscountCents  int                 `gorm:"column:discount_cents;not null;default:0"`
	TotalCents     int                 `gorm:"column:total_cents;not null;default:0"`
	TrackingNumber *string             `gorm:"column:tracking_number"`
	Items          []OrderItem         `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ShippedAt      *time.Time          `gorm:"column:shipped_at"`
	DeliveredAt    *time.Time          `gorm:"column:delivered_at"`
	CancelledAt    *time.Time          `gorm:"column:cancelled_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// IsTerminal reports whether the order can no longer change status except to
// refunded.
func (o Order) IsTerminal() bool {
	switch o.Status {
	case enums.OrderStatusDelivered, enums.OrderStatusCancelled, enums.OrderStatusRefunded:
		return true
	}
	return false
}
