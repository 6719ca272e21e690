package helpers

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/internal/cart"
	"github.com/angelmondragon/storefront-backend/internal/inventory"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// Reservations converts merged snapshot lines into ledger reservations.
func Reservations(lines []cart.SnapshotLine) []inventory.Reservation {
	out := make([]inventory.Reservation, 0, len(lines))
	for _, line := range lines {
		out = append(out, inventory.Reservation{ProductID: line.ProductID, Qty: line.Quantity})
	}
	return out
}

// BuildOrderLines freezes each snapshot line into an order line and returns
// the order total, which is exactly the sum of quantity x unit price.
func BuildOrderLines(lines []cart.SnapshotLine) ([]models.OrderLine, int64) {
	out := make([]models.OrderLine, 0, len(lines))
	var total int64
	for _, line := range lines {
		lineTotal := line.LineTotalCents()
		out = append(out, models.OrderLine{
			ProductID:      line.ProductID,
			StoreID:        line.StoreID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: lineTotal,
		})
		total += lineTotal
	}
	return out, total
}

// StoreTotals captures one seller's share of an order.
type StoreTotals struct {
	StoreID    uuid.UUID
	TotalCents int64
	ItemCount  int
}

// ComputeTotalsByStore returns per-store totals keyed by store id.
func ComputeTotalsByStore(lines []models.OrderLine) map[uuid.UUID]StoreTotals {
	results := make(map[uuid.UUID]StoreTotals)
	for _, line := range lines {
		totals := results[line.StoreID]
		totals.StoreID = line.StoreID
		totals.TotalCents += line.LineTotalCents
		totals.ItemCount += line.Quantity
		results[line.StoreID] = totals
	}
	return results
}

// PlacedLines shapes order lines for the order.placed event.
func PlacedLines(lines []models.OrderLine) []payloads.OrderPlacedLine {
	out := make([]payloads.OrderPlacedLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, payloads.OrderPlacedLine{
			ProductID:      line.ProductID,
			StoreID:        line.StoreID,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
		})
	}
	return out
}
