package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestStockAndMoneyConstraints(t *testing.T) {
	cases := map[string][]string{
		"*_create_products.sql": {
			"CREATE TABLE IF NOT EXISTS products",
			"CHECK (stock_qty >= 0)",
			"CHECK (price_cents >= 0)",
		},
		"*_create_orders.sql": {
			"CREATE TABLE IF NOT EXISTS orders",
			"CHECK (status IN ('pending', 'confirmed', 'shipped', 'delivered', 'cancelled'))",
			"CHECK (line_total_cents = unit_price_cents * quantity)",
			"DROP TABLE IF EXISTS order_status_events",
		},
		"*_create_payments.sql": {
			"CONSTRAINT payments_order_unique UNIQUE (order_id)",
			"CHECK (method IN ('card', 'qr', 'cod'))",
			"DROP TABLE IF EXISTS payments",
		},
	}

	for pattern, checks := range cases {
		matches, err := filepath.Glob(filepath.Join("migrations", pattern))
		if err != nil {
			t.Fatalf("glob migrations: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected one migration for %s, got %d", pattern, len(matches))
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			t.Fatalf("read migration file: %v", err)
		}
		content := string(data)
		for _, sub := range checks {
			if !strings.Contains(content, sub) {
				t.Errorf("%s missing expected statement %q", matches[0], sub)
			}
		}
	}
}

func TestCreateSQLMigration(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Refund Columns!")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_refund_columns.sql") {
		t.Fatalf("unexpected filename %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestValidateDirRejectsFloatMoney(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nALTER TABLE orders ADD COLUMN tip DOUBLE PRECISION;\n-- +goose Down\nALTER TABLE orders DROP COLUMN tip;\n"
	if err := os.WriteFile(filepath.Join(dir, "20261101000000_add_tip.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	err := migrate.ValidateDir(dir)
	if err == nil || !strings.Contains(err.Error(), "BIGINT cents") {
		t.Fatalf("expected float column rejection, got %v", err)
	}
}

func TestValidateDirRejectsSharedVersion(t *testing.T) {
	dir := t.TempDir()
	body := []byte("-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n")
	for _, name := range []string{"20261101000000_a.sql", "20261101000000_b.sql"} {
		if err := os.WriteFile(filepath.Join(dir, name), body, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := migrate.ValidateDir(dir); err == nil || !strings.Contains(err.Error(), "share version") {
		t.Fatalf("expected shared version error, got %v", err)
	}
}
