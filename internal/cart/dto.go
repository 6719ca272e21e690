package cart

import "github.com/google/uuid"

// ViewItem is one merged cart entry as shown to the buyer.
type ViewItem struct {
	ProductID      uuid.UUID `json:"product_id"`
	StoreID        uuid.UUID `json:"store_id"`
	Name           string    `json:"name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
	Available      bool      `json:"available"`
	InStock        bool      `json:"in_stock"`
}

// View is the buyer-facing cart.
type View struct {
	Items         []ViewItem `json:"items"`
	SubtotalCents int64      `json:"subtotal_cents"`
}

func NewView(snapshot *Snapshot) *View {
	view := &View{Items: []ViewItem{}}
	if snapshot == nil {
		return view
	}
	for _, line := range snapshot.Lines {
		view.Items = append(view.Items, ViewItem{
			ProductID:      line.ProductID,
			StoreID:        line.StoreID,
			Name:           line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: line.LineTotalCents(),
			Available:      line.Available,
			InStock:        line.Available && line.AvailableQty >= line.Quantity,
		})
	}
	view.SubtotalCents = snapshot.TotalCents()
	return view
}
