package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/devhub/internal/apperrors"
	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/repository"
)

// Unique index names, see migrations
const (
	accountsEmailKey    = "accounts_email_key"
	accountsUsernameKey = "accounts_username_key"
)

type AccountRepo struct {
	DB      DBTX
	Timeout time.Duration
}

const createAccount = `-- name: CreateAccount
INSERT INTO accounts (id, username, email, password_hash, skill_level, profile_image)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at, username, email, password_hash, skill_level, profile_image
`

func (r *AccountRepo) CreateAccount(ctx context.Context, p repository.CreateAccountParams) (models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, createAccount, uuid.New(), p.Username, p.Email, p.PasswordHash, p.SkillLevel, p.ProfileImage)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			switch pgErr.ConstraintName {
			case accountsEmailKey:
				return account, apperrors.ErrDuplicateEmail
			case accountsUsernameKey:
				return account, apperrors.ErrDuplicateUsername
			}
		}

		return account, fmt.Errorf("db error: %w", err)
	}

	return account, nil
}

const getAccountByID = `-- name: GetAccountByID
SELECT id, created_at, username, email, password_hash, skill_level, profile_image
FROM accounts
WHERE id = $1
`

func (r *AccountRepo) GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return r.getOne(ctx, getAccountByID, id)
}

const getAccountByEmail = `-- name: GetAccountByEmail
SELECT id, created_at, username, email, password_hash, skill_level, profile_image
FROM accounts
WHERE lower(email) = lower($1)
`

func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	return r.getOne(ctx, getAccountByEmail, email)
}

const getAccountByUsername = `-- name: GetAccountByUsername
SELECT id, created_at, username, email, password_hash, skill_level, profile_image
FROM accounts
WHERE lower(username) = lower($1)
`

func (r *AccountRepo) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	return r.getOne(ctx, getAccountByUsername, username)
}

func (r *AccountRepo) getOne(ctx context.Context, query string, arg any) (models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, query, arg)
	account, err := pgx.CollectOneRow(rows, rowToAccount)

	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, pgx.ErrNoRows):
		return account, apperrors.ErrAccountNotFound
	default:
		return account, fmt.Errorf("db error: %w", err)
	}
}

func rowToAccount(row pgx.CollectableRow) (models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.CreatedAt, &a.Username, &a.Email, &a.PasswordHash, &a.SkillLevel, &a.ProfileImage)
	return a, err
}
