// Package dbtest opens throwaway sqlite databases with the storefront schema
// for repository and service tests.
package dbtest

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// The schema mirrors the Postgres migrations closely enough for tests. uuid
// and text[] columns become TEXT, and function defaults are dropped since the
// models generate ids before insert.
var schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		order_count INTEGER NOT NULL DEFAULT 0,
		total_spent_cents INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE addresses (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		kind TEXT NOT NULL DEFAULT 'shipping',
		full_name TEXT NOT NULL,
		line1 TEXT NOT NULL,
		line2 TEXT,
		city TEXT NOT NULL,
		region TEXT NOT NULL,
		postal_code TEXT NOT NULL,
		country TEXT NOT NULL,
		phone TEXT,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE products (
		id TEXT PRIMARY KEY,
		sku TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		subtitle TEXT,
		tags TEXT NOT NULL DEFAULT '{}',
		price_cents INTEGER NOT NULL,
		compare_at_price_cents INTEGER,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE inventory_items (
		product_id TEXT PRIMARY KEY REFERENCES products(id) ON DELETE CASCADE,
		quantity INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
		reserved_qty INTEGER NOT NULL DEFAULT 0 CHECK (reserved_qty >= 0),
		low_stock_threshold INTEGER NOT NULL DEFAULT 0,
		track_quantity BOOLEAN NOT NULL DEFAULT TRUE,
		allow_backorder BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at DATETIME
	)`,
	`CREATE TABLE inventory_log_entries (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		type TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		previous_quantity INTEGER NOT NULL,
		new_quantity INTEGER NOT NULL,
		order_id TEXT,
		idempotency_key TEXT,
		performed_by_type TEXT NOT NULL,
		performed_by_id TEXT,
		created_at DATETIME
	)`,
	`CREATE INDEX idx_inventory_log_entries_product_id ON inventory_log_entries(product_id)`,
	`CREATE INDEX idx_inventory_log_entries_order_id ON inventory_log_entries(order_id)`,
	`CREATE INDEX idx_inventory_log_entries_idempotency_key ON inventory_log_entries(idempotency_key)`,
	`CREATE TABLE carts (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		session_id TEXT,
		subtotal_cents INTEGER NOT NULL DEFAULT 0,
		tax_cents INTEGER NOT NULL DEFAULT 0,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		discount_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE cart_items (
		id TEXT PRIMARY KEY,
		cart_id TEXT NOT NULL REFERENCES carts(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		title TEXT NOT NULL,
		unit_price_cents INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		line_subtotal_cents INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE orders (
		id TEXT PRIMARY KEY,
		order_number TEXT NOT NULL UNIQUE,
		user_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		payment_status TEXT NOT NULL DEFAULT 'pending',
		subtotal_cents INTEGER NOT NULL DEFAULT 0,
		tax_cents INTEGER NOT NULL DEFAULT 0,
		shipping_cents INTEGER NOT NULL DEFAULT 0,
		discount_cents INTEGER NOT NULL DEFAULT 0,
		total_cents INTEGER NOT NULL DEFAULT 0,
		tracking_number TEXT,
		shipped_at DATETIME,
		delivered_at DATETIME,
		cancelled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL,
		sku TEXT NOT NULL,
		title TEXT NOT NULL,
		unit_price_cents INTEGER NOT NULL,
		quantity INTEGER NOT NULL,
		line_subtotal_cents INTEGER NOT NULL,
		created_at DATETIME
	)`,
}

// Open returns a gorm handle on a fresh in-memory sqlite database with every
// storefront table created.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:dbtest_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	for _, stmt := range schema {
		if err := gdb.Exec(stmt).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return gdb
}
