package cart

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/cartloom/storefront/internal/audit"
	"github.com/cartloom/storefront/internal/inventory"
	product "github.com/cartloom/storefront/internal/products"
	"github.com/cartloom/storefront/pkg/db"
	"github.com/cartloom/storefront/pkg/db/dbtest"
	"github.com/cartloom/storefront/pkg/db/models"
	"github.com/cartloom/storefront/pkg/enums"
	pkgerrors "github.com/cartloom/storefront/pkg/errors"
)

func TestAddItemReservesStockAndSnapshotsPrice(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 2500, true, 10)
	owner := userOwner(env.seedUser(t))

	cart, err := env.svc.AddItem(ctx, owner, productID, 3)
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(cart.Items))
	}
	line := cart.Items[0]
	if line.UnitPriceCents != 2500 || line.Title != "Widget" {
		t.Fatalf("unexpected snapshot: %+v", line)
	}
	if line.LineSubtotalCents != 7500 || cart.SubtotalCents != 7500 || cart.TotalCents != 7500 {
		t.Fatalf("unexpected aggregates: %+v", cart)
	}

	item := env.loadInventory(t, productID)
	if item.ReservedQty != 3 {
		t.Fatalf("expected reserved 3, got %d", item.ReservedQty)
	}
}

func TestAddItemSumsExistingLine(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 1000, true, 10)
	owner := userOwner(env.seedUser(t))

	if _, err := env.svc.AddItem(ctx, owner, productID, 2); err != nil {
		t.Fatalf("first add: %v", err)
	}
	cart, err := env.svc.AddItem(ctx, owner, productID, 3)
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 5 {
		t.Fatalf("expected single line of qty 5, got %+v", cart.Items)
	}
	if env.loadInventory(t, productID).ReservedQty != 5 {
		t.Fatal("expected reservation to cover summed quantity")
	}
}

func TestAddItemInsufficientStockAborts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 1000, true, 2)
	owner := userOwner(env.seedUser(t))

	_, err := env.svc.AddItem(ctx, owner, productID, 5)
	if !pkgerrors.HasCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if env.loadInventory(t, productID).ReservedQty != 0 {
		t.Fatal("failed add must not leave a partial reservation")
	}
}

func TestAddItemInactiveProductRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Retired", 1000, false, 10)
	owner := userOwner(env.seedUser(t))

	if _, err := env.svc.AddItem(ctx, owner, productID, 1); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestUpdateItemQtyAdjustsReservation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 1000, true, 10)
	owner := userOwner(env.seedUser(t))

	if _, err := env.svc.AddItem(ctx, owner, productID, 2); err != nil {
		t.Fatalf("add: %v", err)
	}

	cart, err := env.svc.UpdateItemQty(ctx, owner, productID, 6)
	if err != nil {
		t.Fatalf("increase qty: %v", err)
	}
	if cart.Items[0].Quantity != 6 || env.loadInventory(t, productID).ReservedQty != 6 {
		t.Fatal("expected reservation topped up to 6")
	}

	cart, err = env.svc.UpdateItemQty(ctx, owner, productID, 1)
	if err != nil {
		t.Fatalf("decrease qty: %v", err)
	}
	if cart.Items[0].Quantity != 1 || env.loadInventory(t, productID).ReservedQty != 1 {
		t.Fatal("expected reservation released down to 1")
	}

	cart, err = env.svc.UpdateItemQty(ctx, owner, productID, 0)
	if err != nil {
		t.Fatalf("zero qty: %v", err)
	}
	if len(cart.Items) != 0 || env.loadInventory(t, productID).ReservedQty != 0 {
		t.Fatal("expected line removed and hold released")
	}
}

func TestClearReleasesEverything(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productA := env.seedProduct(t, "A", 1000, true, 10)
	productB := env.seedProduct(t, "B", 500, true, 10)
	owner := userOwner(env.seedUser(t))

	if _, err := env.svc.AddItem(ctx, owner, productA, 2); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if _, err := env.svc.AddItem(ctx, owner, productB, 4); err != nil {
		t.Fatalf("add b: %v", err)
	}

	cart, err := env.svc.Clear(ctx, owner)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(cart.Items) != 0 || cart.SubtotalCents != 0 || cart.TotalCents != 0 {
		t.Fatalf("expected empty cart, got %+v", cart)
	}
	if env.loadInventory(t, productA).ReservedQty != 0 || env.loadInventory(t, productB).ReservedQty != 0 {
		t.Fatal("expected all holds released")
	}
}

func TestMergeGuestCartSumsAndRefreshesPrice(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 1000, true, 20)
	userID := env.seedUser(t)
	session := "sess-" + uuid.NewString()

	if _, err := env.svc.AddItem(ctx, userOwner(userID), productID, 3); err != nil {
		t.Fatalf("seed user cart: %v", err)
	}
	if _, err := env.svc.AddItem(ctx, sessionOwner(session), productID, 2); err != nil {
		t.Fatalf("seed guest cart: %v", err)
	}

	// Price drifts between add and merge; merge must refresh to the
	// current catalog price.
	if err := env.gdb.Exec(`UPDATE products SET price_cents = 1200 WHERE id = ?`, productID).Error; err != nil {
		t.Fatalf("update price: %v", err)
	}

	merged, err := env.svc.MergeGuestCartToUser(ctx, userID, session)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Items) != 1 {
		t.Fatalf("expected single merged line, got %d", len(merged.Items))
	}
	line := merged.Items[0]
	if line.Quantity != 5 || line.UnitPriceCents != 1200 || line.LineSubtotalCents != 6000 {
		t.Fatalf("unexpected merged line: %+v", line)
	}

	if _, err := env.svc.GetCart(ctx, sessionOwner(session)); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected guest cart deleted, got %v", err)
	}
	if env.loadInventory(t, productID).ReservedQty != 5 {
		t.Fatal("merge must not change the total reservation")
	}
}

func TestMergeReownsGuestCartWhenUserHasNone(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 1000, true, 10)
	userID := env.seedUser(t)
	session := "sess-" + uuid.NewString()

	if _, err := env.svc.AddItem(ctx, sessionOwner(session), productID, 2); err != nil {
		t.Fatalf("seed guest cart: %v", err)
	}

	merged, err := env.svc.MergeGuestCartToUser(ctx, userID, session)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if merged.UserID == nil || *merged.UserID != userID || merged.SessionID != nil {
		t.Fatalf("expected cart re-owned to user, got %+v", merged)
	}
	if len(merged.Items) != 1 || merged.Items[0].Quantity != 2 {
		t.Fatalf("expected items intact after re-own, got %+v", merged.Items)
	}
}

func TestMergeDropsInactiveProductLines(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	keep := env.seedProduct(t, "Keep", 1000, true, 10)
	drop := env.seedProduct(t, "Drop", 500, true, 10)
	userID := env.seedUser(t)
	session := "sess-" + uuid.NewString()

	if _, err := env.svc.AddItem(ctx, userOwner(userID), keep, 1); err != nil {
		t.Fatalf("seed user cart: %v", err)
	}
	if _, err := env.svc.AddItem(ctx, sessionOwner(session), drop, 2); err != nil {
		t.Fatalf("seed guest cart: %v", err)
	}

	if err := env.gdb.Exec(`UPDATE products SET is_active = FALSE WHERE id = ?`, drop).Error; err != nil {
		t.Fatalf("deactivate product: %v", err)
	}

	merged, err := env.svc.MergeGuestCartToUser(ctx, userID, session)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(merged.Items) != 1 || merged.Items[0].ProductID != keep {
		t.Fatalf("expected only the active line to survive, got %+v", merged.Items)
	}
	if env.loadInventory(t, drop).ReservedQty != 0 {
		t.Fatal("dropped line must release its hold")
	}
}

func TestExpireGuestCarts(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	productID := env.seedProduct(t, "Widget", 1000, true, 10)
	session := "sess-" + uuid.NewString()

	if _, err := env.svc.AddItem(ctx, sessionOwner(session), productID, 4); err != nil {
		t.Fatalf("seed guest cart: %v", err)
	}

	// Nothing is stale yet.
	n, err := env.svc.ExpireGuestCarts(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 expired, got %d", n)
	}

	n, err = env.svc.ExpireGuestCarts(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	if _, err := env.svc.GetCart(ctx, sessionOwner(session)); !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected cart gone, got %v", err)
	}
	if env.loadInventory(t, productID).ReservedQty != 0 {
		t.Fatal("expired cart must release its holds")
	}

	// The unattended sweep is audited as the system.
	var entries []models.InventoryLogEntry
	err = env.gdb.Where("product_id = ? AND type = ?", productID, enums.StockMovementReleased).Find(&entries).Error
	if err != nil {
		t.Fatalf("load audit entries: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one release audit entry, got %d", len(entries))
	}
	if entries[0].PerformedByType != enums.ActorTypeSystem {
		t.Fatalf("expected system actor on sweep release, got %s", entries[0].PerformedByType)
	}
	if entries[0].PerformedByID != nil {
		t.Fatalf("expected no actor id on sweep release, got %v", entries[0].PerformedByID)
	}
}

func TestOwnerValidation(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.svc.GetCart(ctx, Owner{}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for empty owner, got %v", err)
	}
	uid := uuid.New()
	sess := "both"
	if _, err := env.svc.GetCart(ctx, Owner{UserID: &uid, SessionID: &sess}); !pkgerrors.HasCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error for dual owner, got %v", err)
	}
}

type testEnv struct {
	gdb *gorm.DB
	svc Service
}

func userOwner(id uuid.UUID) Owner      { return Owner{UserID: &id} }
func sessionOwner(session string) Owner { return Owner{SessionID: &session} }

func (e *testEnv) seedUser(t *testing.T) uuid.UUID {
	t.Helper()
	user := models.User{
		Email:     "u-" + uuid.NewString() + "@example.com",
		FirstName: "Test",
		LastName:  "Shopper",
	}
	if err := e.gdb.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user.ID
}

func (e *testEnv) seedProduct(t *testing.T, title string, priceCents int, active bool, qty int) uuid.UUID {
	t.Helper()
	productID := uuid.New()
	if err := e.gdb.Exec(`
		INSERT INTO products (id, sku, title, tags, price_cents, is_active)
		VALUES (?, ?, ?, '{}', ?, ?)
	`, productID, "SKU-"+productID.String()[:8], title, priceCents, active).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := e.gdb.Create(&models.InventoryItem{ProductID: productID, Quantity: qty}).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
	return productID
}

func (e *testEnv) loadInventory(t *testing.T, productID uuid.UUID) models.InventoryItem {
	t.Helper()
	var item models.InventoryItem
	if err := e.gdb.First(&item, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load inventory: %v", err)
	}
	return item
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gdb := dbtest.Open(t)
	client := db.NewWithConn(gdb)
	auditSvc, err := audit.NewService(audit.NewRepository(gdb))
	if err != nil {
		t.Fatalf("new audit service: %v", err)
	}
	stock, err := inventory.NewService(inventory.NewRepository(gdb), auditSvc, nil)
	if err != nil {
		t.Fatalf("new inventory service: %v", err)
	}
	svc, err := NewService(NewRepository(gdb), client, product.NewRepository(gdb), stock, nil)
	if err != nil {
		t.Fatalf("new cart service: %v", err)
	}
	return &testEnv{gdb: gdb, svc: svc}
}
