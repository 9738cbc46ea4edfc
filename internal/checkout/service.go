package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/internal/cart"
	"github.com/cartloom/storefront/internal/inventory"
	"github.com/cartloom/storefront/internal/orders"
	product "github.com/cartloom/storefront/internal/products"
	"github.com/cartloom/storefront/internal/users"
	"github.com/cartloom/storefront/pkg/config"
	"github.com/cartloom/storefront/pkg/db"
	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
	"github.com/cartloom/storefront/pkg/logger"
	"github.com/cartloom/storefront/pkg/metrics"
	"github.com/cartloom/storefront/pkg/validate"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type retrier interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service turns a cart into an order in one atomic unit of work.
type Service interface {
	Execute(ctx context.Context, userID, cartID uuid.UUID, input CheckoutInput) (*models.Order, error)
}

// CheckoutInput carries the per-attempt parameters of a checkout.
type CheckoutInput struct {
	// IdempotencyKey makes the attempt exactly-once: a retried request with
	// the same key returns the order created by the first attempt.
	IdempotencyKey  string `json:"idempotency_key" validate:"required"`
	TaxCents        int    `json:"tax_cents" validate:"gte=0"`
	ShippingCents   int    `json:"shipping_cents" validate:"gte=0"`
	DiscountCents   int    `json:"discount_cents" validate:"gte=0"`
	ShippingAddress *models.Address `json:"shipping_address"`
	BillingAddress  *models.Address `json:"billing_address"`
}

type service struct {
	ordersRepo orders.Repository
	cartRepo   cart.Repository
	products   *product.Repository
	stock      inventory.Service
	users      users.Service
	tx         txRunner
	retries    retrier
	cfg        config.CheckoutConfig
	metrics    *metrics.CheckoutMetrics
	logg       *logger.Logger
}

// NewService builds a checkout service with the required dependencies.
func NewService(
	ordersRepo orders.Repository,
	cartRepo cart.Repository,
	products *product.Repository,
	stock inventory.Service,
	userSvc users.Service,
	tx txRunner,
	retries retrier,
	cfg config.CheckoutConfig,
	cm *metrics.CheckoutMetrics,
	logg *logger.Logger,
) (Service, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if cartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if products == nil {
		return nil, fmt.Errorf("products repository required")
	}
	if stock == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if userSvc == nil {
		return nil, fmt.Errorf("users service required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{
		ordersRepo: ordersRepo,
		cartRepo:   cartRepo,
		products:   products,
		stock:      stock,
		users:      userSvc,
		tx:         tx,
		retries:    retries,
		cfg:        cfg,
		metrics:    cm,
		logg:       logg,
	}, nil
}

func (s *service) Execute(ctx context.Context, userID, cartID uuid.UUID, input CheckoutInput) (*models.Order, error) {
	start := time.Now()
	order, err := s.execute(ctx, userID, cartID, input)
	s.metrics.ObserveDuration(time.Since(start))
	if err != nil {
		s.metrics.IncAttempt("failure")
		s.countConflict(err)
		return nil, err
	}
	s.metrics.IncAttempt("success")
	return order, nil
}

func (s *service) execute(ctx context.Context, userID, cartID uuid.UUID, input CheckoutInput) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	if cartID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart id required")
	}
	if err := validate.Struct(&input); err != nil {
		return nil, err
	}
	key := strings.TrimSpace(input.IdempotencyKey)
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}

	// The idempotency check runs before any transaction: a replayed request
	// returns the committed order without re-reserving anything.
	existing, err := s.ordersRepo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	var result *models.Order
	attempts := 0
	unit := func(ctx context.Context) error {
		attempts++
		if attempts > 1 {
			s.metrics.IncRetry()
		}
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			order, err := s.fulfill(ctx, tx, userID, cartID, key, input)
			if err != nil {
				return err
			}
			result = order
			return nil
		})
	}
	if s.retries != nil {
		err = s.retries.Do(ctx, unit)
	} else {
		err = unit(ctx)
	}
	if err != nil {
		// A concurrent attempt with the same key won the insert race after
		// the pre-transaction check; hand back the winner's order.
		if db.IsUniqueViolation(err, "idempotency_key") {
			winner, lookupErr := s.ordersRepo.FindByIdempotencyKey(ctx, key)
			if lookupErr == nil && winner != nil {
				return winner, nil
			}
		}
		return nil, err
	}
	return result, nil
}

// fulfill runs steps 2-9 of the checkout inside the open transaction: re-read
// the cart, validate every line, persist the order, convert the reservations
// to sales, clear the cart and update the user's address book and counters.
func (s *service) fulfill(ctx context.Context, tx *gorm.DB, userID, cartID uuid.UUID, key string, input CheckoutInput) (*models.Order, error) {
	cartRepo := s.cartRepo.WithTx(tx)
	ordersRepo := s.ordersRepo.WithTx(tx)

	// The re-read inside the transaction is what serializes concurrent
	// attempts against the same cart: the loser sees an emptied cart.
	record, err := cartRepo.FindByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if record.UserID == nil || *record.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart does not belong to the user")
	}
	if len(record.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cart is empty")
	}

	productCache := map[uuid.UUID]*models.Product{}
	subtotal := 0
	for _, item := range record.Items {
		prod, err := s.loadProduct(ctx, tx, item.ProductID, productCache)
		if err != nil {
			return nil, err
		}
		if !prod.IsActive {
			return nil, pkgerrors.New(pkgerrors.CodeConflict,
				fmt.Sprintf("product %s is no longer available", item.SKU))
		}
		if !priceWithinVariance(item.UnitPriceCents, prod.PriceCents, s.cfg.PriceVarianceBps) {
			return nil, pkgerrors.New(pkgerrors.CodePriceChanged,
				fmt.Sprintf("price of %s changed since it was added to the cart", item.SKU))
		}
		if inv := prod.Inventory; inv != nil && inv.TrackQuantity && !inv.AllowBackorder && inv.Quantity < item.Quantity {
			return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock,
				fmt.Sprintf("not enough stock for %s", item.SKU))
		}
		subtotal += item.UnitPriceCents * item.Quantity
	}

	totalCents := orderTotalCents(subtotal, input.TaxCents, input.ShippingCents, input.DiscountCents)
	if totalCents <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total must be positive")
	}

	order := &models.Order{
		OrderNumber:    generateOrderNumber(),
		UserID:         userID,
		IdempotencyKey: key,
		Status:         enums.OrderStatusPending,
		PaymentStatus:  enums.PaymentStatusPending,
		SubtotalCents:  subtotal,
		TaxCents:       input.TaxCents,
		ShippingCents:  input.ShippingCents,
		DiscountCents:  input.DiscountCents,
		TotalCents:     totalCents,
	}
	for _, item := range record.Items {
		order.Items = append(order.Items, models.OrderItem{
			ProductID:         item.ProductID,
			SKU:               item.SKU,
			Title:             item.Title,
			UnitPriceCents:    item.UnitPriceCents,
			Quantity:          item.Quantity,
			LineSubtotalCents: item.UnitPriceCents * item.Quantity,
		})
	}
	created, err := ordersRepo.Create(ctx, order)
	if err != nil {
		return nil, err
	}

	for _, item := range record.Items {
		if err := s.settleLine(ctx, tx, created.ID, userID, item); err != nil {
			return nil, err
		}
	}

	if err := cartRepo.DeleteItems(ctx, record.ID); err != nil {
		return nil, err
	}
	record.SubtotalCents = 0
	record.TaxCents = 0
	record.ShippingCents = 0
	record.DiscountCents = 0
	record.TotalCents = 0
	if err := cartRepo.SaveAggregates(ctx, record); err != nil {
		return nil, err
	}

	if input.ShippingAddress != nil {
		addr := *input.ShippingAddress
		if !addr.Kind.IsValid() {
			addr.Kind = enums.AddressKindShipping
		}
		if _, err := s.users.UpsertAddress(ctx, tx, userID, addr); err != nil {
			return nil, err
		}
	}
	if input.BillingAddress != nil {
		addr := *input.BillingAddress
		addr.Kind = enums.AddressKindBilling
		if _, err := s.users.UpsertAddress(ctx, tx, userID, addr); err != nil {
			return nil, err
		}
	}

	if err := s.users.RecordOrder(ctx, tx, userID, totalCents); err != nil {
		return nil, err
	}
	return created, nil
}

// settleLine converts the cart line's reservation into a sale. Lines normally
// carry a hold from add-to-cart; when the hold is missing or short the
// reservation is topped up first.
func (s *service) settleLine(ctx context.Context, tx *gorm.DB, orderID, userID uuid.UUID, item models.CartItem) error {
	mv := inventory.Movement{
		ProductID: item.ProductID,
		Qty:       item.Quantity,
		OrderID:   &orderID,
		Actor:     enums.ActorTypeCustomer,
		ActorID:   &userID,
	}
	_, err := s.stock.ConfirmSale(ctx, tx, mv)
	if pkgerrors.HasCode(err, pkgerrors.CodeInvariant) {
		if _, err := s.stock.Reserve(ctx, tx, mv); err != nil {
			return err
		}
		_, err = s.stock.ConfirmSale(ctx, tx, mv)
	}
	return err
}

func (s *service) loadProduct(ctx context.Context, tx *gorm.DB, productID uuid.UUID, cache map[uuid.UUID]*models.Product) (*models.Product, error) {
	if cached, ok := cache[productID]; ok {
		return cached, nil
	}
	prod, err := s.products.WithTx(tx).FindByIDWithInventory(ctx, productID)
	if err != nil {
		return nil, err
	}
	cache[productID] = prod
	return prod, nil
}

func (s *service) countConflict(err error) {
	switch {
	case pkgerrors.HasCode(err, pkgerrors.CodePriceChanged):
		s.metrics.IncConflict("price")
	case pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock):
		s.metrics.IncConflict("stock")
	case pkgerrors.HasCode(err, pkgerrors.CodeConflict), pkgerrors.HasCode(err, pkgerrors.CodeStateConflict):
		s.metrics.IncConflict("state")
	}
}

func generateOrderNumber() string {
	return fmt.Sprintf("ORD-%s-%s",
		time.Now().UTC().Format("20060102"),
		strings.ToUpper(uuid.NewString()[:8]))
}
