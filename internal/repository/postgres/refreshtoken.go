package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/nkiryanov/devhub/internal/models"
)

type RefreshTokenRepo struct {
	DB      DBTX
	Timeout time.Duration
}

const addToken = `-- name: AddRefreshToken
INSERT INTO refresh_tokens (token, account_id, created_at, expires_at)
VALUES ($1, $2, $3, $4)
`

func (r *RefreshTokenRepo) Add(ctx context.Context, token models.RefreshToken) error {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	_, err := r.DB.Exec(ctx, addToken, token.Token, token.AccountID, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Single statement: the row lock taken by DELETE makes concurrent claims of the
// same token wait for each other, only one of them sees the row
const claimToken = `-- name: ClaimRefreshToken
DELETE FROM refresh_tokens
WHERE account_id = $1 AND token = $2 AND expires_at > $3
`

func (r *RefreshTokenRepo) Claim(ctx context.Context, accountID uuid.UUID, token string, now time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	tag, err := r.DB.Exec(ctx, claimToken, accountID, token, now)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

const listTokens = `-- name: ListRefreshTokens
SELECT token, account_id, created_at, expires_at
FROM refresh_tokens
WHERE account_id = $1 AND expires_at > $2
ORDER BY created_at
`

func (r *RefreshTokenRepo) List(ctx context.Context, accountID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rows, _ := r.DB.Query(ctx, listTokens, accountID, now)
	tokens, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.RefreshToken, error) {
		var t models.RefreshToken
		err := row.Scan(&t.Token, &t.AccountID, &t.CreatedAt, &t.ExpiresAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return tokens, nil
}

const deleteExpired = `-- name: DeleteExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE account_id = $1 AND expires_at <= $2
`

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	tag, err := r.DB.Exec(ctx, deleteExpired, accountID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}

const purgeExpired = `-- name: PurgeExpiredRefreshTokens
DELETE FROM refresh_tokens
WHERE expires_at <= $1
`

func (r *RefreshTokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	tag, err := r.DB.Exec(ctx, purgeExpired, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return tag.RowsAffected(), nil
}
