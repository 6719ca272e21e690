package payments

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// Outcome is the buyer-facing result of a settlement attempt.
type Outcome string

const (
	OutcomeSettled              Outcome = "settled"
	OutcomeAwaitingConfirmation Outcome = "awaiting_confirmation"
	OutcomeFailed               Outcome = "failed"
)

// CardPayload carries the single-use token produced by the gateway's
// client-side tokenizer.
type CardPayload struct {
	Token string
}

// Instruction is a tagged variant: Method selects the settler and only the
// payload for that method is read.
type Instruction struct {
	Method enums.PaymentMethod
	Card   *CardPayload
}

type SettleInput struct {
	OrderID     uuid.UUID
	BuyerID     uuid.UUID
	Instruction Instruction
}

// Settlement reports where an order's payment stands.
type Settlement struct {
	OrderID           uuid.UUID           `json:"order_id"`
	Method            enums.PaymentMethod `json:"method"`
	Outcome           Outcome             `json:"outcome"`
	OrderStatus       enums.OrderStatus   `json:"order_status"`
	PaymentStatus     enums.PaymentStatus `json:"payment_status"`
	ScannableImageURL string              `json:"scannable_image_url,omitempty"`
	FailureReason     string              `json:"failure_reason,omitempty"`
}

func settlementFor(order *models.Order, payment *models.Payment) *Settlement {
	out := &Settlement{
		OrderID:       order.ID,
		Method:        order.PaymentMethod,
		OrderStatus:   order.Status,
		PaymentStatus: payment.Status,
	}
	if payment.ScannableImageURL != nil {
		out.ScannableImageURL = *payment.ScannableImageURL
	}
	if payment.FailureReason != nil {
		out.FailureReason = *payment.FailureReason
	}
	// A cancelled order never reports settled, even when a late charge
	// succeeded at the gateway; that money is owed back to the buyer.
	switch {
	case order.Status == enums.OrderStatusCancelled:
		out.Outcome = OutcomeFailed
		if out.FailureReason == "" {
			out.FailureReason = "order was cancelled"
		}
	case order.Status.IsSettled() || payment.Status == enums.PaymentStatusSucceeded:
		out.Outcome = OutcomeSettled
	case payment.Status == enums.PaymentStatusFailed:
		out.Outcome = OutcomeFailed
	default:
		out.Outcome = OutcomeAwaitingConfirmation
	}
	return out
}

// ReconcileReport summarizes one pass of the stale payment sweep.
type ReconcileReport struct {
	Checked int
	Settled int
	Failed  int
	Expired int
	Pending int
	Skipped int
}
