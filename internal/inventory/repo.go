package inventory

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/pkg/db/models"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
)

// StockSnapshot is the inventory state returned by a conditional mutation,
// read in the same statement that applied the write.
type StockSnapshot struct {
	Quantity          int  `gorm:"column:quantity"`
	ReservedQty       int  `gorm:"column:reserved_qty"`
	LowStockThreshold int  `gorm:"column:low_stock_threshold"`
	TrackQuantity     bool `gorm:"column:track_quantity"`
	AllowBackorder    bool `gorm:"column:allow_backorder"`
}

// AvailableQty is on-hand minus reserved, floored at zero.
func (s StockSnapshot) AvailableQty() int {
	available := s.Quantity - s.ReservedQty
	if available < 0 {
		return 0
	}
	return available
}

// Repository owns the conditional single-row writes that make stock
// mutations safe under concurrency. Every mutation evaluates its precondition
// in the UPDATE itself, so two racing callers can never both succeed when the
// sum would exceed availability.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Get(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error)
	Reserve(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, error)
	Release(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, error)
	// ConfirmSale also reports the on-hand quantity as it stood before the
	// sale, read under the same row lock, so audit rows stay accurate when
	// a backorder sale clamps on-hand at zero.
	ConfirmSale(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, int, error)
	AddQuantity(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Get(ctx context.Context, productID uuid.UUID) (*models.InventoryItem, error) {
	var item models.InventoryItem
	err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&item).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory item")
	}
	return &item, nil
}

func (r *repository) Reserve(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, error) {
	var rows []StockSnapshot
	err := r.db.WithContext(ctx).Raw(`
		UPDATE inventory_items
		SET reserved_qty = reserved_qty + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
			AND (track_quantity = FALSE OR allow_backorder = TRUE OR quantity - reserved_qty >= ?)
		RETURNING quantity, reserved_qty, low_stock_threshold, track_quantity, allow_backorder
	`, qty, productID, qty).Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve stock")
	}
	if len(rows) == 0 {
		return nil, r.conditionFailed(ctx, r.db, productID, pkgerrors.CodeInsufficientStock, "requested quantity is not available")
	}
	return &rows[0], nil
}

func (r *repository) Release(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, error) {
	var rows []StockSnapshot
	err := r.db.WithContext(ctx).Raw(`
		UPDATE inventory_items
		SET reserved_qty = reserved_qty - ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ? AND reserved_qty >= ?
		RETURNING quantity, reserved_qty, low_stock_threshold, track_quantity, allow_backorder
	`, qty, productID, qty).Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release reserved stock")
	}
	if len(rows) == 0 {
		return nil, r.conditionFailed(ctx, r.db, productID, pkgerrors.CodeInvariant, "release would drive reserved quantity negative")
	}
	return &rows[0], nil
}

func (r *repository) ConfirmSale(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, int, error) {
	// Two conditional updates in one unit: the reservation decrement checks
	// the precondition and returns on-hand untouched (the pre-sale value),
	// then the clamp applies to that same locked row. On-hand is clamped at
	// zero for backorder sales.
	var prev int
	var snap StockSnapshot
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var held []StockSnapshot
		err := tx.Raw(`
			UPDATE inventory_items
			SET reserved_qty = reserved_qty - ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE product_id = ? AND reserved_qty >= ?
			RETURNING quantity, reserved_qty, low_stock_threshold, track_quantity, allow_backorder
		`, qty, productID, qty).Scan(&held).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm sale")
		}
		if len(held) == 0 {
			return r.conditionFailed(ctx, tx, productID, pkgerrors.CodeInvariant, "sale exceeds reserved quantity")
		}
		prev = held[0].Quantity

		var rows []StockSnapshot
		err = tx.Raw(`
			UPDATE inventory_items
			SET quantity = CASE WHEN quantity >= ? THEN quantity - ? ELSE 0 END,
				updated_at = CURRENT_TIMESTAMP
			WHERE product_id = ?
			RETURNING quantity, reserved_qty, low_stock_threshold, track_quantity, allow_backorder
		`, qty, qty, productID).Scan(&rows).Error
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm sale")
		}
		snap = rows[0]
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return &snap, prev, nil
}

func (r *repository) AddQuantity(ctx context.Context, productID uuid.UUID, qty int) (*StockSnapshot, error) {
	var rows []StockSnapshot
	err := r.db.WithContext(ctx).Raw(`
		UPDATE inventory_items
		SET quantity = quantity + ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE product_id = ?
		RETURNING quantity, reserved_qty, low_stock_threshold, track_quantity, allow_backorder
	`, qty, productID).Scan(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "add stock quantity")
	}
	if len(rows) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
	}
	return &rows[0], nil
}

// conditionFailed distinguishes a failed precondition from a missing row.
func (r *repository) conditionFailed(ctx context.Context, db *gorm.DB, productID uuid.UUID, code pkgerrors.Code, message string) error {
	var count int64
	if err := db.WithContext(ctx).
		Model(&models.InventoryItem{}).
		Where("product_id = ?", productID).
		Count(&count).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check inventory item existence")
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory item not found")
	}
	return pkgerrors.New(code, message)
}
