package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
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

type productLoader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

// Owner identifies the cart's holder: a signed-in user or a guest session,
// exactly one of the two.
type Owner struct {
	UserID    *uuid.UUID
	SessionID *string
}

func (o Owner) validate() error {
	hasUser := o.UserID != nil && *o.UserID != uuid.Nil
	hasSession := o.SessionID != nil && *o.SessionID != ""
	if hasUser == hasSession {
		return pkgerrors.New(pkgerrors.CodeValidation, "cart owner must be exactly one of user or session")
	}
	return nil
}

// Service exposes cart mutations. Adding an item reserves stock immediately
// rather than deferring the hold to checkout; removals release it.
type Service interface {
	GetCart(ctx context.Context, owner Owner) (*models.Cart, error)
	AddItem(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error)
	UpdateItemQty(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error)
	RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, owner Owner) (*models.Cart, error)
	MergeGuestCartToUser(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Cart, error)
	ExpireGuestCarts(ctx context.Context, cutoff time.Time) (int, error)
}

type service struct {
	repo     Repository
	tx       txRunner
	products productLoader
	stock    inventory.Service
	logg     *logger.Logger
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo Repository, tx txRunner, products productLoader, stock inventory.Service, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	if stock == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	return &service{repo: repo, tx: tx, products: products, stock: stock, logg: logg}, nil
}

func (s *service) GetCart(ctx context.Context, owner Owner) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	return s.findOwned(ctx, s.repo, owner)
}

func (s *service) AddItem(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product is not available")
	}

	var result *models.Cart
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := s.findOrCreate(ctx, repo, owner)
		if err != nil {
			return err
		}

		// Reserve before touching the line; an insufficient-stock failure
		// aborts the whole add.
		if _, err := s.stock.Reserve(ctx, tx, inventory.Movement{
			ProductID: productID,
			Qty:       qty,
			Actor:     enums.ActorTypeCustomer,
			ActorID:   owner.UserID,
		}); err != nil {
			return err
		}

		line := findLine(cart, productID)
		if line != nil {
			line.Quantity += qty
			line.LineSubtotalCents = line.UnitPriceCents * line.Quantity
		} else {
			line = &models.CartItem{
				CartID:            cart.ID,
				ProductID:         product.ID,
				SKU:               product.SKU,
				Title:             product.Title,
				UnitPriceCents:    product.PriceCents,
				Quantity:          qty,
				LineSubtotalCents: product.PriceCents * qty,
			}
		}
		if err := repo.UpsertItem(ctx, line); err != nil {
			return err
		}

		result, err = s.recomputeAggregates(ctx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) UpdateItemQty(ctx context.Context, owner Owner, productID uuid.UUID, qty int) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be non-negative")
	}
	if qty == 0 {
		return s.RemoveItem(ctx, owner, productID)
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := s.findOwned(ctx, repo, owner)
		if err != nil {
			return err
		}
		line := findLine(cart, productID)
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}

		delta := qty - line.Quantity
		switch {
		case delta > 0:
			if _, err := s.stock.Reserve(ctx, tx, inventory.Movement{
				ProductID: productID,
				Qty:       delta,
				Actor:     enums.ActorTypeCustomer,
				ActorID:   owner.UserID,
			}); err != nil {
				return err
			}
		case delta < 0:
			if _, err := s.stock.Release(ctx, tx, inventory.Movement{
				ProductID: productID,
				Qty:       -delta,
				Actor:     enums.ActorTypeCustomer,
				ActorID:   owner.UserID,
			}); err != nil {
				return err
			}
		}

		line.Quantity = qty
		line.LineSubtotalCents = line.UnitPriceCents * qty
		if err := repo.UpsertItem(ctx, line); err != nil {
			return err
		}

		result, err = s.recomputeAggregates(ctx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}
	if productID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := s.findOwned(ctx, repo, owner)
		if err != nil {
			return err
		}
		line := findLine(cart, productID)
		if line == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
		}

		if _, err := s.stock.Release(ctx, tx, inventory.Movement{
			ProductID: productID,
			Qty:       line.Quantity,
			Actor:     enums.ActorTypeCustomer,
			ActorID:   owner.UserID,
		}); err != nil {
			return err
		}
		if err := repo.DeleteItem(ctx, line.ID); err != nil {
			return err
		}

		result, err = s.recomputeAggregates(ctx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) Clear(ctx context.Context, owner Owner) (*models.Cart, error) {
	if err := owner.validate(); err != nil {
		return nil, err
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := s.findOwned(ctx, repo, owner)
		if err != nil {
			return err
		}
		if err := s.releaseLines(ctx, tx, cart.Items, enums.ActorTypeCustomer, owner.UserID); err != nil {
			return err
		}
		if err := repo.DeleteItems(ctx, cart.ID); err != nil {
			return err
		}

		result, err = s.recomputeAggregates(ctx, repo, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MergeGuestCartToUser reconciles a guest cart into the user's cart at login.
// Lines for products that are no longer active are dropped and their holds
// released. When the user has no cart yet the guest cart is re-owned instead
// of copied.
func (s *service) MergeGuestCartToUser(ctx context.Context, userID uuid.UUID, sessionID string) (*models.Cart, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id is required")
	}

	var result *models.Cart
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		guest, err := repo.FindBySession(ctx, sessionID)
		if err != nil {
			return err
		}

		userCart, err := repo.FindByUser(ctx, userID)
		if err != nil {
			if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
				return err
			}
			// No user cart: re-own the guest cart wholesale.
			if err := repo.ReassignToUser(ctx, guest.ID, userID); err != nil {
				return err
			}
			result, err = repo.FindByID(ctx, guest.ID)
			return err
		}

		for _, guestLine := range guest.Items {
			prod, err := s.products.FindByID(ctx, guestLine.ProductID)
			if err != nil || !prod.IsActive {
				if err != nil && !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
					return err
				}
				// Dropped line: give its hold back.
				if _, relErr := s.stock.Release(ctx, tx, inventory.Movement{
					ProductID: guestLine.ProductID,
					Qty:       guestLine.Quantity,
					Actor:     enums.ActorTypeSystem,
				}); relErr != nil {
					return relErr
				}
				continue
			}

			userLine := findLine(userCart, guestLine.ProductID)
			if userLine != nil {
				userLine.Quantity += guestLine.Quantity
				userLine.UnitPriceCents = prod.PriceCents
				userLine.LineSubtotalCents = prod.PriceCents * userLine.Quantity
				if err := repo.UpsertItem(ctx, userLine); err != nil {
					return err
				}
			} else {
				appended := models.CartItem{
					CartID:            userCart.ID,
					ProductID:         guestLine.ProductID,
					SKU:               guestLine.SKU,
					Title:             guestLine.Title,
					UnitPriceCents:    guestLine.UnitPriceCents,
					Quantity:          guestLine.Quantity,
					LineSubtotalCents: guestLine.LineSubtotalCents,
				}
				if err := repo.UpsertItem(ctx, &appended); err != nil {
					return err
				}
			}
		}

		if err := repo.Delete(ctx, guest.ID); err != nil {
			return err
		}

		result, err = s.recomputeAggregates(ctx, repo, userCart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ExpireGuestCarts drops guest carts idle past the cutoff, releasing their
// reservations. A failing cart does not stop the sweep; the failures come
// back combined alongside the count of carts removed.
func (s *service) ExpireGuestCarts(ctx context.Context, cutoff time.Time) (int, error) {
	carts, err := s.repo.ListGuestCartsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	var errs error
	for _, stale := range carts {
		stale := stale
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			// The sweep runs unattended, so its releases are audited as the
			// system, not a customer.
			if err := s.releaseLines(ctx, tx, stale.Items, enums.ActorTypeSystem, nil); err != nil {
				return err
			}
			return repo.Delete(ctx, stale.ID)
		})
		if err != nil {
			if s.logg != nil {
				s.logg.Error(s.logg.WithCartID(ctx, stale.ID.String()), "failed to expire guest cart", err)
			}
			errs = multierr.Append(errs, fmt.Errorf("cart %s: %w", stale.ID, err))
			continue
		}
		expired++
	}
	return expired, errs
}

func (s *service) releaseLines(ctx context.Context, tx *gorm.DB, items []models.CartItem, actor enums.ActorType, actorID *uuid.UUID) error {
	for _, line := range items {
		if line.Quantity <= 0 {
			continue
		}
		if _, err := s.stock.Release(ctx, tx, inventory.Movement{
			ProductID: line.ProductID,
			Qty:       line.Quantity,
			Actor:     actor,
			ActorID:   actorID,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) findOwned(ctx context.Context, repo Repository, owner Owner) (*models.Cart, error) {
	if owner.UserID != nil && *owner.UserID != uuid.Nil {
		return repo.FindByUser(ctx, *owner.UserID)
	}
	return repo.FindBySession(ctx, *owner.SessionID)
}

func (s *service) findOrCreate(ctx context.Context, repo Repository, owner Owner) (*models.Cart, error) {
	cart, err := s.findOwned(ctx, repo, owner)
	if err == nil {
		return cart, nil
	}
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		return nil, err
	}
	fresh := &models.Cart{
		UserID:    owner.UserID,
		SessionID: owner.SessionID,
	}
	return repo.Create(ctx, fresh)
}

func (s *service) recomputeAggregates(ctx context.Context, repo Repository, cartID uuid.UUID) (*models.Cart, error) {
	cart, err := repo.FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}

	subtotal := 0
	for _, line := range cart.Items {
		subtotal += line.LineSubtotalCents
	}
	cart.SubtotalCents = subtotal
	cart.TotalCents = subtotal + cart.TaxCents + cart.ShippingCents - cart.DiscountCents

	if err := repo.SaveAggregates(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func findLine(cart *models.Cart, productID uuid.UUID) *models.CartItem {
	for i := range cart.Items {
		if cart.Items[i].ProductID == productID {
			return &cart.Items[i]
		}
	}
	return nil
}
