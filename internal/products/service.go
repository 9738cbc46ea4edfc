package product

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/internal/inventory"
	"github.com/cartloom/storefront/pkg/db/models"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
	"github.com/cartloom/storefront/pkg/enums"
	"github.com/cartloom/storefront/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service exposes catalog reads plus the administrative restock path.
type Service interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error)
	Restock(ctx context.Context, input RestockInput) (*inventory.StockSnapshot, error)
	Deactivate(ctx context.Context, id uuid.UUID) error
	Reactivate(ctx context.Context, id uuid.UUID) error
}

// RestockInput describes a manual replenishment.
type RestockInput struct {
	ProductID uuid.UUID
	Qty       int
	ActorID   *uuid.UUID
}

type service struct {
	repo    *Repository
	stock   inventory.Service
	tx      txRunner
	retries retrier
	logg    *logger.Logger
}

// NewService wires the product service.
func NewService(repo *Repository, stock inventory.Service, tx txRunner, retries retrier, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if retries == nil {
		return nil, fmt.Errorf("retry coordinator required")
	}
	return &service{repo: repo, stock: stock, tx: tx, retries: retries, logg: logg}, nil
}

func (s *service) GetProduct(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return s.repo.FindByIDWithInventory(ctx, id)
}

// Restock replenishes on-hand stock and reactivates the product if it had
// been deactivated while sold out. The mutation, its audit entry, and the
// reactivation commit or roll back together, and transient conflicts restart
// the whole unit.
func (s *service) Restock(ctx context.Context, input RestockInput) (*inventory.StockSnapshot, error) {
	if input.ProductID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if input.Qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "restock quantity must be positive")
	}

	var snap *inventory.StockSnapshot
	err := s.retries.Do(ctx, func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			product, err := repo.FindByID(ctx, input.ProductID)
			if err != nil {
				return err
			}

			snap, err = s.stock.Restock(ctx, tx, inventory.Movement{
				ProductID: input.ProductID,
				Qty:       input.Qty,
				Actor:     enums.ActorTypeAdmin,
				ActorID:   input.ActorID,
			})
			if err != nil {
				return err
			}

			if !product.IsActive && snap.Quantity > 0 {
				if err := repo.SetActive(ctx, input.ProductID, true); err != nil {
					return err
				}
				if s.logg != nil {
					s.logg.Info(s.logg.WithProductID(ctx, input.ProductID.String()), "product reactivated after restock")
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *service) Deactivate(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return s.repo.SetActive(ctx, id, false)
}

func (s *service) Reactivate(ctx context.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return s.repo.SetActive(ctx, id, true)
}
