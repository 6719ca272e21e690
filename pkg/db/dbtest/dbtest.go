// Package dbtest opens throwaway sqlite databases with the storefront schema.
package dbtest

import (
	"io"
	"log"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// AllModels lists every table the engine owns.
func AllModels() []any {
	return []any{
		&models.Product{},
		&models.CartLine{},
		&models.Order{},
		&models.OrderLine{},
		&models.Payment{},
		&models.OrderStatusEvent{},
		&models.OutboxEvent{},
	}
}

// Open returns a migrated in-memory database. A single pooled connection
// serializes concurrent transactions the way row locks would in Postgres.
func Open(t testing.TB) *db.Client {
	t.Helper()

	dsn := "file:storefront_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.New(log.New(io.Discard, "", 0), gormlogger.Config{LogLevel: gormlogger.Silent}),
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	if err := conn.AutoMigrate(AllModels()...); err != nil {
		t.Fatalf("migrate sqlite: %v", err)
	}
	return db.NewFromConn(conn)
}

// SeedProduct inserts a product owned by storeID.
func SeedProduct(t testing.TB, client *db.Client, storeID uuid.UUID, name string, priceCents int64, stock int) models.Product {
	t.Helper()
	product := models.Product{
		StoreID:     storeID,
		Name:        name,
		PriceCents:  priceCents,
		StockQty:    stock,
		IsAvailable: true,
	}
	if err := client.DB().Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return product
}

// AddCartLine inserts a raw cart row, allowing duplicates on purpose.
func AddCartLine(t testing.TB, client *db.Client, buyerID, productID uuid.UUID, qty int) models.CartLine {
	t.Helper()
	line := models.CartLine{BuyerID: buyerID, ProductID: productID, Quantity: qty}
	if err := client.DB().Create(&line).Error; err != nil {
		t.Fatalf("seed cart line: %v", err)
	}
	return line
}

// StockOf reads the current stock count for a product.
func StockOf(t testing.TB, client *db.Client, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	if err := client.DB().First(&product, "id = ?", productID).Error; err != nil {
		t.Fatalf("load product: %v", err)
	}
	return product.StockQty
}
