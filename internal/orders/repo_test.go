package orders

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cartloom/storefront/pkg/db/dbtest"
	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
)

func newOrder(userID uuid.UUID, number, key string) *models.Order {
	return &models.Order{
		OrderNumber:    number,
		UserID:         userID,
		IdempotencyKey: key,
		Status:         enums.OrderStatusPending,
		PaymentStatus:  enums.PaymentStatusPending,
		SubtotalCents:  2000,
		TaxCents:       200,
		TotalCents:     2200,
		Items: []models.OrderItem{
			{
				ProductID:         uuid.New(),
				SKU:               "SKU-1",
				Title:             "Widget",
				UnitPriceCents:    1000,
				Quantity:          2,
				LineSubtotalCents: 2000,
			},
		},
	}
}

func TestRepositoryCreateAndFind(t *testing.T) {
	t.Parallel()

	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()

	created, err := repo.Create(ctx, newOrder(userID, "ORD-1001", "key-1001"))
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)

	found, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "ORD-1001", found.OrderNumber)
	require.Len(t, found.Items, 1)
	assert.Equal(t, "SKU-1", found.Items[0].SKU)
	assert.Equal(t, created.ID, found.Items[0].OrderID)

	byNumber, err := repo.FindByOrderNumber(ctx, "ORD-1001")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byNumber.ID)

	_, err = repo.FindByID(ctx, uuid.New())
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestRepositoryFindByIdempotencyKey(t *testing.T) {
	t.Parallel()

	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	miss, err := repo.FindByIdempotencyKey(ctx, "never-used")
	require.NoError(t, err)
	assert.Nil(t, miss)

	created, err := repo.Create(ctx, newOrder(uuid.New(), "ORD-1002", "key-1002"))
	require.NoError(t, err)

	hit, err := repo.FindByIdempotencyKey(ctx, "key-1002")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, created.ID, hit.ID)
	assert.Len(t, hit.Items, 1)
}

func TestRepositoryListByUser(t *testing.T) {
	t.Parallel()

	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()
	userID := uuid.New()

	_, err := repo.Create(ctx, newOrder(userID, "ORD-1003", "key-1003"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newOrder(userID, "ORD-1004", "key-1004"))
	require.NoError(t, err)
	_, err = repo.Create(ctx, newOrder(uuid.New(), "ORD-1005", "key-1005"))
	require.NoError(t, err)

	listed, err := repo.ListByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, order := range listed {
		assert.Equal(t, userID, order.UserID)
		assert.Len(t, order.Items, 1)
	}
}

func TestRepositorySaveStatusFields(t *testing.T) {
	t.Parallel()

	repo := NewRepository(dbtest.Open(t))
	ctx := context.Background()

	created, err := repo.Create(ctx, newOrder(uuid.New(), "ORD-1006", "key-1006"))
	require.NoError(t, err)

	now := time.Now().UTC()
	tracking := "TRACK-99"
	created.Status = enums.OrderStatusShipped
	created.PaymentStatus = enums.PaymentStatusPaid
	created.TrackingNumber = &tracking
	created.ShippedAt = &now
	created.TotalCents = 999999 // not in the status column set, must not persist

	require.NoError(t, repo.SaveStatusFields(ctx, created))

	reloaded, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)
	require.NotNil(t, reloaded.TrackingNumber)
	assert.Equal(t, "TRACK-99", *reloaded.TrackingNumber)
	require.NotNil(t, reloaded.ShippedAt)
	assert.Equal(t, 2200, reloaded.TotalCents)
}
