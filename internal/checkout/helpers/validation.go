package helpers

import (
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const (
	maxAddressLength = 500
	maxPhoneLength   = 32
)

// Contact is the validated delivery contact for an order.
type Contact struct {
	ShippingAddress string
	Phone           string
}

// ValidateContact trims and checks the delivery details. The free-text
// address wins; the split form is composed when it is blank.
func ValidateContact(address string, split types.ShippingAddress, phone string) (Contact, error) {
	address = strings.TrimSpace(address)
	if address == "" && !split.IsZero() {
		address = split.Compose()
	}
	phone = strings.TrimSpace(phone)

	if address == "" {
		return Contact{}, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is required")
	}
	if len(address) > maxAddressLength {
		return Contact{}, pkgerrors.New(pkgerrors.CodeValidation, "shipping address is too long")
	}
	if phone == "" {
		return Contact{}, pkgerrors.New(pkgerrors.CodeValidation, "phone is required")
	}
	if len(phone) > maxPhoneLength {
		return Contact{}, pkgerrors.New(pkgerrors.CodeValidation, "phone is too long")
	}
	return Contact{ShippingAddress: address, Phone: phone}, nil
}

// ValidatePaymentMethod accepts canonical names and the storefront aliases.
func ValidatePaymentMethod(raw string) (enums.PaymentMethod, error) {
	method, err := enums.ParsePaymentMethod(raw)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]any{"payment_method": raw})
	}
	return method, nil
}
