package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// OperatorRole is the only role minted for dashboard tokens today.
const OperatorRole = "operator"

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	Operator string
	Role     string
	JTI      string
}

// AccessTokenClaims represents the typed JWT issued to dashboard operators.
type AccessTokenClaims struct {
	Operator string `json:"operator"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}
