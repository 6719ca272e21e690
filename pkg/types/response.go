package types

// SuccessEnvelope wraps every 2xx body: {"data": ...}. Carts, orders,
// settlements and revenue reports all travel inside it.
type SuccessEnvelope struct {
	Data any `json:"data"`
}

// APIError is the public half of a pkg/errors error. Code is the stable
// machine value clients branch on (INSUFFICIENT_STOCK, PAYMENT_DECLINED, ...);
// Message is safe to show a buyer. The X-Request-Id response header is
// what support asks for, so it is not repeated here.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// NewErrorEnvelope builds the 4xx/5xx body. Details is dropped when nil so
// the key is omitted rather than rendered as null.
func NewErrorEnvelope(code, message string, details any) ErrorEnvelope {
	env := ErrorEnvelope{Error: APIError{Code: code, Message: message}}
	if details != nil {
		env.Error.Details = details
	}
	return env
}
