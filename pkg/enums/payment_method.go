package enums

import (
	"fmt"
	"strings"
)

// PaymentMethod describes how a buyer intends to settle an order.
type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodQR   PaymentMethod = "qr"
	PaymentMethodCOD  PaymentMethod = "cod"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCard,
	PaymentMethodQR,
	PaymentMethodCOD,
}

// paymentMethodAliases keeps the storefront checkout form values working.
var paymentMethodAliases = map[string]PaymentMethod{
	"credit_card":      PaymentMethodCard,
	"bank_transfer":    PaymentMethodQR,
	"promptpay":        PaymentMethodQR,
	"cash_on_delivery": PaymentMethodCOD,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// UsesGateway reports whether settlement involves the payment gateway.
func (p PaymentMethod) UsesGateway() bool {
	return p == PaymentMethodCard || p == PaymentMethodQR
}

// ParsePaymentMethod converts raw input (canonical or alias) into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentMethods {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	if alias, ok := paymentMethodAliases[normalized]; ok {
		return alias, nil
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
