package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cardmint/cardmint-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	OperatorID uuid.UUID
	Email      string
	Role       enums.OperatorRole
	JTI        string
}

// AccessTokenClaims represents the typed JWT issued to dashboard operators.
type AccessTokenClaims struct {
	OperatorID uuid.UUID          `json:"operator_id"`
	Email      string             `json:"email"`
	Role       enums.OperatorRole `json:"role"`
	jwt.RegisteredClaims
}
