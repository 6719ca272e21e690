package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SnapshotLine is one merged (product, quantity) entry with the product data
// observed when the snapshot was taken.
type SnapshotLine struct {
	ProductID      uuid.UUID
	StoreID        uuid.UUID
	ProductName    string
	Quantity       int
	UnitPriceCents int64
	AvailableQty   int
	Available      bool
}

// LineTotalCents is quantity x frozen unit price.
func (l SnapshotLine) LineTotalCents() int64 {
	return int64(l.Quantity) * l.UnitPriceCents
}

// Snapshot is an immutable read of a buyer's cart.
type Snapshot struct {
	BuyerID uuid.UUID
	Lines   []SnapshotLine
	// LineIDs are the raw cart rows folded into Lines; checkout deletes exactly these.
	LineIDs []uuid.UUID
	TakenAt time.Time
}

func (s *Snapshot) IsEmpty() bool {
	return s == nil || len(s.Lines) == 0
}

// TotalCents sums the line totals in minor units.
func (s *Snapshot) TotalCents() int64 {
	var total int64
	for _, line := range s.Lines {
		total += line.LineTotalCents()
	}
	return total
}

// SnapshotReader turns cart rows into a merged Snapshot.
type SnapshotReader struct {
	repo CartRepository
	now  func() time.Time
}

func NewSnapshotReader(repo CartRepository) *SnapshotReader {
	return &SnapshotReader{repo: repo, now: time.Now}
}

// Take reads the cart inside tx with the buyer's cart rows locked, so a
// concurrent checkout for the same buyer waits and then sees an empty cart.
func (r *SnapshotReader) Take(ctx context.Context, tx *gorm.DB, buyerID uuid.UUID) (*Snapshot, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	return r.read(ctx, r.repo.WithTx(tx), buyerID, true)
}

// Peek reads the cart without locking, for display.
func (r *SnapshotReader) Peek(ctx context.Context, buyerID uuid.UUID) (*Snapshot, error) {
	return r.read(ctx, r.repo, buyerID, false)
}

func (r *SnapshotReader) read(ctx context.Context, repo CartRepository, buyerID uuid.UUID, lock bool) (*Snapshot, error) {
	rows, err := repo.SnapshotRows(ctx, buyerID, lock)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}

	snapshot := &Snapshot{BuyerID: buyerID, TakenAt: r.now().UTC()}
	index := make(map[uuid.UUID]int, len(rows))
	for _, row := range rows {
		snapshot.LineIDs = append(snapshot.LineIDs, row.LineID)
		if pos, ok := index[row.ProductID]; ok {
			snapshot.Lines[pos].Quantity += row.Quantity
			continue
		}
		index[row.ProductID] = len(snapshot.Lines)
		snapshot.Lines = append(snapshot.Lines, lineFromRow(row))
	}
	return snapshot, nil
}

func lineFromRow(row SnapshotRow) SnapshotLine {
	line := SnapshotLine{
		ProductID: row.ProductID,
		Quantity:  row.Quantity,
	}
	if row.StoreID == nil {
		return line
	}
	line.StoreID = *row.StoreID
	if row.ProductName != nil {
		line.ProductName = *row.ProductName
	}
	if row.PriceCents != nil {
		line.UnitPriceCents = *row.PriceCents
	}
	if row.StockQty != nil {
		line.AvailableQty = *row.StockQty
	}
	if row.IsAvailable != nil {
		line.Available = *row.IsAvailable
	}
	return line
}
