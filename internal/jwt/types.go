package jwt

import (
	"github.com/golang-jwt/jwt/v5"
)

// Auth signs and verifies API tokens.
type Auth interface {
	Sign(userID string) (string, error)
	Verify(tokenString string) (*Payload, error)
}

// Payload is the token payload; UserID is the external identity id.
type Payload struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}
