package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devhub/internal/models"
)

type CreateAccountParams struct {
	Username     string
	Email        string
	PasswordHash string
	SkillLevel   string
	ProfileImage string
}

// Account repository interface
type AccountRepo interface {
	// Create account
	// Email and username are unique case-insensitively: on conflict must return
	// apperrors.ErrDuplicateEmail or apperrors.ErrDuplicateUsername
	CreateAccount(ctx context.Context, params CreateAccountParams) (models.Account, error)

	// Lookups are case-insensitive for email and username
	// If account not found must return apperrors.ErrAccountNotFound
	GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (models.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (models.Account, error)
}

// Refresh token set of an account
// The set is mutated only with the methods below; every one is atomic at the store
type RefreshTokenRepo interface {
	// Add token to the account set
	Add(ctx context.Context, token models.RefreshToken) error

	// Remove token from the account set if it is there and not expired at 'now'
	// Returns true only for the single caller that actually removed it
	Claim(ctx context.Context, accountID uuid.UUID, token string, now time.Time) (bool, error)

	// List tokens of the account that are still valid at 'now'
	List(ctx context.Context, accountID uuid.UUID, now time.Time) ([]models.RefreshToken, error)

	// Delete tokens of the account expired at 'now'
	DeleteExpired(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error)

	// Delete expired tokens of all accounts
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

type Storage interface {
	Account() AccountRepo
	Refresh() RefreshTokenRepo

	// Run fn with storage bound to one transaction
	// Commit if fn returns nil, rollback otherwise
	InTx(ctx context.Context, fn func(Storage) error) error
}
