package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorEnvelopeOmitsNilDetails(t *testing.T) {
	raw, err := json.Marshal(NewErrorEnvelope("EMPTY_CART", "cart is empty", nil))
	require.NoError(t, err)
	assert.JSONEq(t, `{"error":{"code":"EMPTY_CART","message":"cart is empty"}}`, string(raw))

	env := NewErrorEnvelope("INSUFFICIENT_STOCK", "insufficient stock", map[string]any{"product_id": "p1"})
	assert.Equal(t, map[string]any{"product_id": "p1"}, env.Error.Details)
}
