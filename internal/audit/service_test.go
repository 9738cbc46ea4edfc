package audit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	"github.com/cartloom/storefront/pkg/pagination"
)

type fakeRepository struct {
	createFn       func(ctx context.Context, entry *models.InventoryLogEntry) error
	byOrder        []models.InventoryLogEntry
	byProduct      []models.InventoryLogEntry
	byKey          *models.InventoryLogEntry
	deletedBefore  time.Time
	deleteAffected int64
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, entry *models.InventoryLogEntry) error {
	if f.createFn != nil {
		return f.createFn(ctx, entry)
	}
	return nil
}

func (f *fakeRepository) ListByProductID(ctx context.Context, productID uuid.UUID, limit int, cursor *pagination.Cursor) ([]models.InventoryLogEntry, *pagination.Cursor, error) {
	normalized := pagination.NormalizeLimit(limit)
	if len(f.byProduct) > normalized {
		next := f.byProduct[normalized]
		return f.byProduct[:normalized], &pagination.Cursor{CreatedAt: next.CreatedAt, ID: next.ID}, nil
	}
	return f.byProduct, nil, nil
}

func (f *fakeRepository) ListByOrderID(ctx context.Context, orderID uuid.UUID) ([]models.InventoryLogEntry, error) {
	return f.byOrder, nil
}

func (f *fakeRepository) FindByIdempotencyKey(ctx context.Context, key string) (*models.InventoryLogEntry, error) {
	return f.byKey, nil
}

func (f *fakeRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.deletedBefore = cutoff
	return f.deleteAffected, nil
}

func TestService_Record(t *testing.T) {
	repo := &fakeRepository{}
	svc, err := NewService(repo)
	if err != nil {
		t.Fatalf("unexpected service error: %v", err)
	}

	orderID := uuid.New()
	key := "checkout:abc"
	input := RecordMovementInput{
		ProductID:        uuid.New(),
		Type:             enums.StockMovementSale,
		Quantity:         -3,
		PreviousQuantity: 10,
		NewQuantity:      7,
		OrderID:          &orderID,
		IdempotencyKey:   &key,
		PerformedByType:  enums.ActorTypeCustomer,
	}

	var created *models.InventoryLogEntry
	repo.createFn = func(ctx context.Context, entry *models.InventoryLogEntry) error {
		created = entry
		return nil
	}

	got, err := svc.Record(context.Background(), input)
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if created == nil {
		t.Fatal("expected log entry to be created")
	}
	if created.ProductID != input.ProductID || created.Type != input.Type || created.Quantity != -3 {
		t.Fatalf("unexpected entry data: %+v", created)
	}
	if created.PreviousQuantity != 10 || created.NewQuantity != 7 {
		t.Fatalf("quantity snapshot mismatch: %+v", created)
	}
	if created.OrderID == nil || *created.OrderID != orderID {
		t.Fatalf("missing order id: %+v", created)
	}
	if created.IdempotencyKey == nil || *created.IdempotencyKey != key {
		t.Fatalf("missing idempotency key: %+v", created)
	}
	if got != created {
		t.Fatal("service should return created entry")
	}
}

func TestService_RecordDefaultsToSystemActor(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)

	var created *models.InventoryLogEntry
	repo.createFn = func(ctx context.Context, entry *models.InventoryLogEntry) error {
		created = entry
		return nil
	}

	if _, err := svc.Record(context.Background(), RecordMovementInput{
		ProductID:        uuid.New(),
		Type:             enums.StockMovementRestock,
		Quantity:         5,
		PreviousQuantity: 0,
		NewQuantity:      5,
	}); err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if created.PerformedByType != enums.ActorTypeSystem {
		t.Fatalf("expected system actor, got %s", created.PerformedByType)
	}
}

func TestService_RecordValidation(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)

	tests := []struct {
		name  string
		input RecordMovementInput
	}{
		{
			name: "missing product id",
			input: RecordMovementInput{
				Type:     enums.StockMovementSale,
				Quantity: -1,
			},
		},
		{
			name: "invalid movement type",
			input: RecordMovementInput{
				ProductID: uuid.New(),
				Type:      enums.StockMovementType("not_real"),
				Quantity:  -1,
			},
		},
		{
			name: "zero quantity",
			input: RecordMovementInput{
				ProductID: uuid.New(),
				Type:      enums.StockMovementSale,
			},
		},
		{
			name: "invalid actor",
			input: RecordMovementInput{
				ProductID:       uuid.New(),
				Type:            enums.StockMovementSale,
				Quantity:        -1,
				PerformedByType: enums.ActorType("robot"),
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Record(context.Background(), tc.input); err == nil {
				t.Fatalf("expected validation error for %s", tc.name)
			}
		})
	}
}

func TestService_RecordRepoError(t *testing.T) {
	repo := &fakeRepository{}
	svc, _ := NewService(repo)

	expectedErr := errors.New("boom")
	repo.createFn = func(ctx context.Context, entry *models.InventoryLogEntry) error {
		return expectedErr
	}

	if _, err := svc.Record(context.Background(), RecordMovementInput{
		ProductID:        uuid.New(),
		Type:             enums.StockMovementReserved,
		Quantity:         2,
		PreviousQuantity: 0,
		NewQuantity:      0,
	}); !errors.Is(err, expectedErr) {
		t.Fatalf("expected repo error to bubble up, got %v", err)
	}
}

func TestService_HasMovement(t *testing.T) {
	orderID := uuid.New()
	repo := &fakeRepository{
		byOrder: []models.InventoryLogEntry{
			{OrderID: &orderID, Type: enums.StockMovementReserved},
			{OrderID: &orderID, Type: enums.StockMovementSale},
		},
	}
	svc, _ := NewService(repo)

	found, err := svc.HasMovement(context.Background(), orderID, enums.StockMovementSale)
	if err != nil {
		t.Fatalf("HasMovement error: %v", err)
	}
	if !found {
		t.Fatal("expected sale movement to be found")
	}

	found, err = svc.HasMovement(context.Background(), orderID, enums.StockMovementReturn)
	if err != nil {
		t.Fatalf("HasMovement error: %v", err)
	}
	if found {
		t.Fatal("expected no return movement")
	}
}

func TestService_HistoryPagesWithCursor(t *testing.T) {
	productID := uuid.New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entries := make([]models.InventoryLogEntry, 30)
	for i := range entries {
		entries[i] = models.InventoryLogEntry{
			ID:        uuid.New(),
			ProductID: productID,
			Type:      enums.StockMovementRestock,
			Quantity:  1,
			CreatedAt: base.Add(time.Duration(-i) * time.Minute),
		}
	}
	repo := &fakeRepository{byProduct: entries}
	svc, _ := NewService(repo)

	page, next, err := svc.History(context.Background(), productID, pagination.Params{})
	if err != nil {
		t.Fatalf("History error: %v", err)
	}
	if len(page) != pagination.DefaultLimit {
		t.Fatalf("expected %d entries, got %d", pagination.DefaultLimit, len(page))
	}
	if next == "" {
		t.Fatal("expected a next cursor with more entries remaining")
	}
	if _, err := pagination.ParseCursor(next); err != nil {
		t.Fatalf("next cursor must round-trip: %v", err)
	}
}

func TestService_PurgeOlderThan(t *testing.T) {
	repo := &fakeRepository{deleteAffected: 12}
	svc, _ := NewService(repo)

	cutoff := time.Now().AddDate(-1, 0, 0)
	n, err := svc.PurgeOlderThan(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeOlderThan error: %v", err)
	}
	if n != 12 {
		t.Fatalf("expected 12 purged, got %d", n)
	}
	if !repo.deletedBefore.Equal(cutoff) {
		t.Fatalf("unexpected cutoff passed to repo: %v", repo.deletedBefore)
	}
}
