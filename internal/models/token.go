package models

import (
	"time"

	"github.com/google/uuid"
)

// Refresh token as it kept in the credential store
// Token is the signed string handed to the client
type RefreshToken struct {
	Token     string
	AccountID uuid.UUID
	CreatedAt time.Time
	ExpiresAt time.Time
}

type IssuedToken struct {
	Value     string
	ExpiresAt time.Time
}

// Token pair issued by TokenManager
// Both tokens carry the same nonce
type TokenPair struct {
	Access  IssuedToken
	Refresh IssuedToken
	Nonce   string
}
