package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// LineView is an order line as shown to buyers and sellers.
type LineView struct {
	ID             uuid.UUID `json:"id"`
	ProductID      uuid.UUID `json:"product_id"`
	StoreID        uuid.UUID `json:"store_id"`
	ProductName    string    `json:"product_name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	LineTotalCents int64     `json:"line_total_cents"`
}

// PaymentView hides gateway bookkeeping the client never needs.
type PaymentView struct {
	Method            enums.PaymentMethod `json:"method"`
	Status            enums.PaymentStatus `json:"status"`
	AmountCents       int64               `json:"amount_cents"`
	ScannableImageURL *string             `json:"scannable_image_url,omitempty"`
	FailureReason     *string             `json:"failure_reason,omitempty"`
}

// OrderView is the order detail returned by the API.
type OrderView struct {
	ID              uuid.UUID           `json:"id"`
	BuyerID         uuid.UUID           `json:"buyer_id"`
	Status          enums.OrderStatus   `json:"status"`
	PaymentMethod   enums.PaymentMethod `json:"payment_method"`
	TotalCents      int64               `json:"total_cents"`
	Currency        string              `json:"currency"`
	ShippingAddress string              `json:"shipping_address"`
	Phone           string              `json:"phone"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	Lines           []LineView          `json:"lines"`
	Payment         *PaymentView        `json:"payment,omitempty"`
}

// OrderList wraps a page of orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderView `json:"orders"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// RevenueLine is the seller's per-line payout breakdown.
type RevenueLine struct {
	LineID         uuid.UUID `json:"line_id"`
	ProductID      uuid.UUID `json:"product_id"`
	ProductName    string    `json:"product_name"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	GrossCents     int64     `json:"gross_cents"`
	FeeRate        string    `json:"fee_rate"`
	FeeCents       int64     `json:"fee_cents"`
	NetCents       int64     `json:"net_cents"`
}

// RevenueReport covers the lines a store sold within one order.
type RevenueReport struct {
	OrderID    uuid.UUID         `json:"order_id"`
	StoreID    uuid.UUID         `json:"store_id"`
	Status     enums.OrderStatus `json:"status"`
	Lines      []RevenueLine     `json:"lines"`
	GrossCents int64             `json:"gross_cents"`
	FeeCents   int64             `json:"fee_cents"`
	NetCents   int64             `json:"net_cents"`
}

// RevenueSummary is a store's payout position across all of its sales.
type RevenueSummary struct {
	StoreID    uuid.UUID          `json:"store_id"`
	Status     *enums.OrderStatus `json:"status,omitempty"`
	OrderCount int                `json:"order_count"`
	LineCount  int                `json:"line_count"`
	UnitCount  int                `json:"unit_count"`
	GrossCents int64              `json:"gross_cents"`
	FeeCents   int64              `json:"fee_cents"`
	NetCents   int64              `json:"net_cents"`
}

// NewOrderView maps a stored order, and optionally its payment, to the API shape.
func NewOrderView(order *models.Order, payment *models.Payment) OrderView {
	view := OrderView{
		ID:              order.ID,
		BuyerID:         order.BuyerID,
		Status:          order.Status,
		PaymentMethod:   order.PaymentMethod,
		TotalCents:      order.TotalCents,
		Currency:        order.Currency,
		ShippingAddress: order.ShippingAddress,
		Phone:           order.Phone,
		CreatedAt:       order.CreatedAt,
		UpdatedAt:       order.UpdatedAt,
		Lines:           make([]LineView, 0, len(order.Lines)),
	}
	for _, line := range order.Lines {
		view.Lines = append(view.Lines, LineView{
			ID:             line.ID,
			ProductID:      line.ProductID,
			StoreID:        line.StoreID,
			ProductName:    line.ProductName,
			Quantity:       line.Quantity,
			UnitPriceCents: line.UnitPriceCents,
			LineTotalCents: line.LineTotalCents,
		})
	}
	if payment != nil {
		view.Payment = &PaymentView{
			Method:            payment.Method,
			Status:            payment.Status,
			AmountCents:       payment.AmountCents,
			ScannableImageURL: payment.ScannableImageURL,
			FailureReason:     payment.FailureReason,
		}
	}
	return view
}
