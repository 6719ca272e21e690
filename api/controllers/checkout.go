package controllers

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	nextActionSubmitCard    = "submit_card_token"
	nextActionRequestQR     = "request_qr"
	nextActionAwaitDelivery = "await_delivery"
)

// Checkout turns the buyer's cart into a pending order.
func Checkout(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}

		buyerID, ok := middleware.UserUUIDFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing"))
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := checkoutsvc.PlaceOrderInput{
			BuyerID:         buyerID,
			ShippingAddress: validators.SanitizeString(payload.ShippingAddress, 0),
			Phone:           validators.SanitizeString(payload.Phone, 0),
			PaymentMethod:   payload.PaymentMethod,
		}
		if payload.Address != nil {
			input.Address = types.ShippingAddress{
				Address:    validators.SanitizeString(payload.Address.Address, 0),
				City:       validators.SanitizeString(payload.Address.City, 0),
				PostalCode: validators.SanitizeString(payload.Address.PostalCode, 0),
			}
		}

		order, err := svc.PlaceOrder(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			Order:      orders.NewOrderView(order, nil),
			NextAction: nextActionFor(order.PaymentMethod),
		})
	}
}

type checkoutRequest struct {
	ShippingAddress string                 `json:"shipping_address" validate:"omitempty,max=500"`
	Address         *types.ShippingAddress `json:"address,omitempty"`
	Phone           string                 `json:"phone" validate:"required,max=32"`
	PaymentMethod   string                 `json:"payment_method" validate:"required"`
}

type checkoutResponse struct {
	Order      orders.OrderView `json:"order"`
	NextAction string           `json:"next_action"`
}

func nextActionFor(method enums.PaymentMethod) string {
	switch method {
	case enums.PaymentMethodCard:
		return nextActionSubmitCard
	case enums.PaymentMethodQR:
		return nextActionRequestQR
	default:
		return nextActionAwaitDelivery
	}
}
