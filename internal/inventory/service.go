package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/internal/audit"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
	"github.com/cartloom/storefront/pkg/enums"
	"github.com/cartloom/storefront/pkg/logger"
)

// Movement describes one stock mutation request. OrderID and IdempotencyKey
// flow into the audit entry when present.
type Movement struct {
	ProductID      uuid.UUID
	Qty            int
	OrderID        *uuid.UUID
	IdempotencyKey *string
	Actor          enums.ActorType
	ActorID        *uuid.UUID
}

// Service exposes the five atomic stock mutations. Every mutation writes an
// audit entry in the same unit of work; pass the surrounding transaction as
// tx (nil runs against the base connection).
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error)
	Release(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error)
	ConfirmSale(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error)
	Restore(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error)
	Restock(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error)
	Available(ctx context.Context, productID uuid.UUID) (int, error)
}

type service struct {
	repo  Repository
	audit audit.Service
	logg  *logger.Logger
}

// NewService wires the stock ledger with its repository and audit log.
func NewService(repo Repository, auditSvc audit.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service required")
	}
	return &service{repo: repo, audit: auditSvc, logg: logg}, nil
}

func (s *service) Reserve(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error) {
	if err := validateMovement(mv); err != nil {
		return nil, err
	}

	snap, err := s.repo.WithTx(tx).Reserve(ctx, mv.ProductID, mv.Qty)
	if err != nil {
		return nil, err
	}

	// On-hand is untouched by a reservation; the audit delta is the hold.
	if err := s.recordMovement(ctx, tx, mv, enums.StockMovementReserved, mv.Qty, snap.Quantity, snap.Quantity); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) Release(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error) {
	if err := validateMovement(mv); err != nil {
		return nil, err
	}

	snap, err := s.repo.WithTx(tx).Release(ctx, mv.ProductID, mv.Qty)
	if err != nil {
		return nil, err
	}

	// Losing an audit entry for a release is lower-risk than blocking the
	// cart action, so a failed write is logged and swallowed.
	if err := s.recordMovement(ctx, tx, mv, enums.StockMovementReleased, -mv.Qty, snap.Quantity, snap.Quantity); err != nil {
		s.warn(ctx, mv, "failed to record release audit entry", err)
	}
	return snap, nil
}

func (s *service) ConfirmSale(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error) {
	if err := validateMovement(mv); err != nil {
		return nil, err
	}

	snap, prev, err := s.repo.WithTx(tx).ConfirmSale(ctx, mv.ProductID, mv.Qty)
	if err != nil {
		return nil, err
	}

	// A backorder sale clamps on-hand at zero, so the audited delta is the
	// actual change rather than the quantity sold.
	if err := s.recordMovement(ctx, tx, mv, enums.StockMovementSale, snap.Quantity-prev, prev, snap.Quantity); err != nil {
		return nil, err
	}

	if snap.TrackQuantity && snap.Quantity <= snap.LowStockThreshold {
		s.warn(ctx, mv, "product stock at or below low-stock threshold", nil)
	}
	return snap, nil
}

func (s *service) Restore(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error) {
	if err := validateMovement(mv); err != nil {
		return nil, err
	}

	snap, err := s.repo.WithTx(tx).AddQuantity(ctx, mv.ProductID, mv.Qty)
	if err != nil {
		return nil, err
	}

	if err := s.recordMovement(ctx, tx, mv, enums.StockMovementReturn, mv.Qty, snap.Quantity-mv.Qty, snap.Quantity); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) Restock(ctx context.Context, tx *gorm.DB, mv Movement) (*StockSnapshot, error) {
	if err := validateMovement(mv); err != nil {
		return nil, err
	}

	snap, err := s.repo.WithTx(tx).AddQuantity(ctx, mv.ProductID, mv.Qty)
	if err != nil {
		return nil, err
	}

	if err := s.recordMovement(ctx, tx, mv, enums.StockMovementRestock, mv.Qty, snap.Quantity-mv.Qty, snap.Quantity); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) Available(ctx context.Context, productID uuid.UUID) (int, error) {
	if productID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	item, err := s.repo.Get(ctx, productID)
	if err != nil {
		return 0, err
	}
	return item.AvailableQty(), nil
}

func (s *service) recordMovement(ctx context.Context, tx *gorm.DB, mv Movement, movement enums.StockMovementType, delta, previous, current int) error {
	_, err := s.audit.WithTx(tx).Record(ctx, audit.RecordMovementInput{
		ProductID:        mv.ProductID,
		Type:             movement,
		Quantity:         delta,
		PreviousQuantity: previous,
		NewQuantity:      current,
		OrderID:          mv.OrderID,
		IdempotencyKey:   mv.IdempotencyKey,
		PerformedByType:  mv.Actor,
		PerformedByID:    mv.ActorID,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
	}
	return nil
}

func (s *service) warn(ctx context.Context, mv Movement, msg string, err error) {
	if s.logg == nil {
		return
	}
	ctx = s.logg.WithProductID(ctx, mv.ProductID.String())
	if err != nil {
		ctx = s.logg.WithField(ctx, "error", err.Error())
	}
	s.logg.Warn(ctx, msg)
}

func validateMovement(mv Movement) error {
	if mv.ProductID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if mv.Qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	return nil
}
