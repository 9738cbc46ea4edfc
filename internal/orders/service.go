package orders

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/internal/audit"
	"github.com/cartloom/storefront/internal/inventory"
	product "github.com/cartloom/storefront/internal/products"
	"github.com/cartloom/storefront/pkg/enums"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"

	"github.com/cartloom/storefront/pkg/db/models"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service drives the order lifecycle after checkout: administrative status
// transitions plus stock-restoring cancellation.
type Service interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error)
	MarkConfirmed(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkShipped(ctx context.Context, id uuid.UUID, trackingNumber string) (*models.Order, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkRefunded(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (*models.Order, error)
	MarkPaymentFailed(ctx context.Context, id uuid.UUID) (*models.Order, error)
	// CancelAndRestoreStock cancels the order and returns each line's
	// quantity to on-hand stock. Safe to call repeatedly: stock is restored
	// at most once per order.
	CancelAndRestoreStock(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	stock    inventory.Service
	audits   audit.Service
	products *product.Repository
	retries  retrier
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, stock inventory.Service, audits audit.Service, products *product.Repository, retries retrier) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if audits == nil {
		return nil, fmt.Errorf("audit service required")
	}
	if products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	return &service{
		repo:     repo,
		tx:       tx,
		stock:    stock,
		audits:   audits,
		products: products,
		retries:  retries,
	}, nil
}

// CancellationKey derives the idempotency key that guards stock restoration
// for the given order.
func CancellationKey(orderID uuid.UUID) string {
	return "cancel:" + orderID.String()
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) MarkConfirmed(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, id, enums.OrderStatusConfirmed, nil)
}

func (s *service) MarkProcessing(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, id, enums.OrderStatusProcessing, nil)
}

func (s *service) MarkShipped(ctx context.Context, id uuid.UUID, trackingNumber string) (*models.Order, error) {
	return s.transition(ctx, id, enums.OrderStatusShipped, func(order *models.Order) {
		now := time.Now().UTC()
		order.ShippedAt = &now
		if tracking := strings.TrimSpace(trackingNumber); tracking != "" {
			order.TrackingNumber = &tracking
		}
	})
}

func (s *service) MarkDelivered(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, id, enums.OrderStatusDelivered, func(order *models.Order) {
		now := time.Now().UTC()
		order.DeliveredAt = &now
	})
}

func (s *service) MarkRefunded(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.transition(ctx, id, enums.OrderStatusRefunded, func(order *models.Order) {
		if order.PaymentStatus == enums.PaymentStatusPaid {
			order.PaymentStatus = enums.PaymentStatusRefunded
		}
	})
}

func (s *service) MarkPaid(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == enums.PaymentStatusPaid {
		return order, nil
	}
	if !order.PaymentStatus.CanTransitionTo(enums.PaymentStatusPaid) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot mark a %s payment as paid", order.PaymentStatus))
	}
	order.PaymentStatus = enums.PaymentStatusPaid
	if err := s.repo.SaveStatusFields(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) MarkPaymentFailed(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == enums.PaymentStatusFailed {
		return order, nil
	}
	if !order.PaymentStatus.CanTransitionTo(enums.PaymentStatusFailed) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot fail a %s payment", order.PaymentStatus))
	}
	order.PaymentStatus = enums.PaymentStatusFailed
	if err := s.repo.SaveStatusFields(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) CancelAndRestoreStock(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status == enums.OrderStatusCancelled {
		return order, nil
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusCancelled) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot cancel a %s order", order.Status))
	}

	key := CancellationKey(order.ID)
	unit := func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			applied, err := s.audits.WithTx(tx).FindByIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if applied == nil {
				if err := s.restoreItems(ctx, tx, order, key); err != nil {
					return err
				}
			}
			now := time.Now().UTC()
			order.Status = enums.OrderStatusCancelled
			order.CancelledAt = &now
			return s.repo.WithTx(tx).SaveStatusFields(ctx, order)
		})
	}

	if s.retries != nil {
		err = s.retries.Do(ctx, unit)
	} else {
		err = unit(ctx)
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) restoreItems(ctx context.Context, tx *gorm.DB, order *models.Order, key string) error {
	for _, item := range order.Items {
		snap, err := s.stock.Restore(ctx, tx, inventory.Movement{
			ProductID:      item.ProductID,
			Qty:            item.Quantity,
			OrderID:        &order.ID,
			IdempotencyKey: &key,
			Actor:          enums.ActorTypeSystem,
		})
		if err != nil {
			return err
		}
		if snap.Quantity > 0 {
			if err := s.reactivateProduct(ctx, tx, item.ProductID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *service) reactivateProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID) error {
	prod, err := s.products.WithTx(tx).FindByID(ctx, productID)
	if err != nil {
		if pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
			return nil
		}
		return err
	}
	if prod.IsActive {
		return nil
	}
	return s.products.WithTx(tx).SetActive(ctx, productID, true)
}

func (s *service) transition(ctx context.Context, id uuid.UUID, target enums.OrderStatus, apply func(*models.Order)) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(target) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cannot move order from %s to %s", order.Status, target))
	}
	order.Status = target
	if apply != nil {
		apply(order)
	}
	if err := s.repo.SaveStatusFields(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}
