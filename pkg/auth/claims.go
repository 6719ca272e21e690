package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID  uuid.UUID
	Role    enums.Role
	StoreID *uuid.UUID
	JTI     string
}

// AccessTokenClaims represents the typed JWT presented by clients. Sellers
// carry the store they operate in StoreID.
type AccessTokenClaims struct {
	UserID  uuid.UUID  `json:"user_id"`
	Role    enums.Role `json:"role"`
	StoreID *uuid.UUID `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}
