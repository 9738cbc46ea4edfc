package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	"github.com/cartloom/storefront/pkg/pagination"
)

// Repository manages persistence for inventory log entries. Entries are
// append-only; the only destructive operation is the retention purge.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, entry *models.InventoryLogEntry) error
	ListByProductID(ctx context.Context, productID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.InventoryLogEntry, *pagination.Cursor, error)
	ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.InventoryLogEntry, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*models.InventoryLogEntry, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an audit repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, entry *models.InventoryLogEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListByProductID(ctx context.Context, productID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.InventoryLogEntry, *pagination.Cursor, error) {
	buffered := pagination.LimitWithBuffer(limit)
	normalized := pagination.NormalizeLimit(limit)
	query := r.db.WithContext(ctx).
		Model(&models.InventoryLogEntry{}).
		Where("product_id = ?", productID)
	if cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", cursor.CreatedAt, cursor.ID)
	}

	var entries []models.InventoryLogEntry
	if err := query.Order("created_at DESC, id DESC").Limit(buffered).Find(&entries).Error; err != nil {
		return nil, nil, err
	}

	if len(entries) > normalized {
		next := entries[normalized]
		entries = entries[:normalized]
		return entries, &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return entries, nil, nil
}

func (r *repository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.InventoryLogEntry, error) {
	var entries []models.InventoryLogEntry
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, key string) (*models.InventoryLogEntry, error) {
	var entry models.InventoryLogEntry
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		Order("created_at ASC").
		First(&entry).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

func (r *repository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.InventoryLogEntry{})
	return res.RowsAffected, res.Error
}

// hasMovement reports whether the order already has an entry of the given
// movement type.
func hasMovement(entries []models.InventoryLogEntry, movement enums.StockMovementType) bool {
	for _, entry := range entries {
		if entry.Type == movement {
			return true
		}
	}
	return false
}
