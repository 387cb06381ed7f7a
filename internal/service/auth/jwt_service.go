package auth

import (
	"context"
	"time"
)

// JWTService issues and checks the bearer tokens of the control API.
// Tokens are bound to the Matrix session the outbox runs for, so a token
// minted for one account is useless against another deployment.
type JWTService interface {
	// GenerateToken creates a signed token for subject, typically an
	// operator or client name.
	GenerateToken(ctx context.Context, subject string) (string, error)

	// ValidateToken validates the token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid, ErrWrongSession or
	// ErrInvalidToken when validation fails.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the validated contents of a control API token.
type Claims struct {
	// Subject is the operator the token was issued to.
	Subject string `json:"sub,omitempty"`

	// Session is the Matrix user id the token grants access to.
	Session string `json:"session,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
