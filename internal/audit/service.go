package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	"github.com/cartloom/storefront/pkg/pagination"
)

// Service records stock movements and answers idempotency lookups.
type Service interface {
	WithTx(tx *gorm.DB) Service
	Record(ctx context.Context, input RecordMovementInput) (*models.InventoryLogEntry, error)
	HasMovement(ctx context.Context, orderID uuid.UUID, movement enums.StockMovementType) (bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.InventoryLogEntry, error)
	History(ctx context.Context, productID uuid.UUID, params pagination.Params) ([]models.InventoryLogEntry, string, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type service struct {
	repo Repository
}

// RecordMovementInput captures the immutable data a stock movement requires.
// Quantity is the signed delta applied to on-hand stock; reservation-only
// movements carry the reserved delta instead.
type RecordMovementInput struct {
	ProductID        uuid.UUID
	Type             enums.StockMovementType
	Quantity         int
	PreviousQuantity int
	NewQuantity      int
	OrderID          *uuid.UUID
	IdempotencyKey   *string
	PerformedByType  enums.ActorType
	PerformedByID    *uuid.UUID
}

// NewService wires an audit service with the provided repository.
func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("audit repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) WithTx(tx *gorm.DB) Service {
	if tx == nil {
		return s
	}
	return &service{repo: s.repo.WithTx(tx)}
}

func (s *service) Record(ctx context.Context, input RecordMovementInput) (*models.InventoryLogEntry, error) {
	if input.ProductID == uuid.Nil {
		return nil, fmt.Errorf("product id is required")
	}
	if !input.Type.IsValid() {
		return nil, fmt.Errorf("invalid stock movement type %q", input.Type)
	}
	if input.Quantity == 0 {
		return nil, fmt.Errorf("movement quantity must be non-zero")
	}
	performedBy := input.PerformedByType
	if performedBy == "" {
		performedBy = enums.ActorTypeSystem
	}
	if !performedBy.IsValid() {
		return nil, fmt.Errorf("invalid actor type %q", performedBy)
	}

	entry := &models.InventoryLogEntry{
		ProductID:        input.ProductID,
		Type:             input.Type,
		Quantity:         input.Quantity,
		PreviousQuantity: input.PreviousQuantity,
		NewQuantity:      input.NewQuantity,
		OrderID:          input.OrderID,
		IdempotencyKey:   input.IdempotencyKey,
		PerformedByType:  performedBy,
		PerformedByID:    input.PerformedByID,
	}

	if err := s.repo.Create(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *service) HasMovement(ctx context.Context, orderID uuid.UUID, movement enums.StockMovementType) (bool, error) {
	if orderID == uuid.Nil {
		return false, fmt.Errorf("order id is required")
	}
	if !movement.IsValid() {
		return false, fmt.Errorf("invalid stock movement type %q", movement)
	}

	entries, err := s.repo.ListByOrderID(ctx, orderID)
	if err != nil {
		return false, err
	}
	return hasMovement(entries, movement), nil
}

func (s *service) FindByIdempotencyKey(ctx context.Context, key string) (*models.InventoryLogEntry, error) {
	if key == "" {
		return nil, fmt.Errorf("idempotency key is required")
	}
	return s.repo.FindByIdempotencyKey(ctx, key)
}

// History pages through a product's movements, newest first. The returned
// cursor is empty on the last page.
func (s *service) History(ctx context.Context, productID uuid.UUID, params pagination.Params) ([]models.InventoryLogEntry, string, error) {
	if productID == uuid.Nil {
		return nil, "", fmt.Errorf("product id is required")
	}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, "", err
	}
	entries, next, err := s.repo.ListByProductID(ctx, productID, params.Limit, cursor)
	if err != nil {
		return nil, "", err
	}
	if next == nil {
		return entries, "", nil
	}
	return entries, pagination.EncodeCursor(*next), nil
}

func (s *service) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if cutoff.IsZero() {
		return 0, fmt.Errorf("cutoff is required")
	}
	return s.repo.DeleteOlderThan(ctx, cutoff)
}
