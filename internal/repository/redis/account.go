package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/devhub/internal/apperrors"
	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/repository"
)

const (
	createStatusOK int64 = iota
	createStatusDuplicateEmail
	createStatusDuplicateUsername
)

// KEYS: email index, username index, account
// ARGV: account id, account json
var createAccountLua = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 1
end
if redis.call("EXISTS", KEYS[2]) == 1 then
  return 2
end
redis.call("SET", KEYS[3], ARGV[2])
redis.call("SET", KEYS[1], ARGV[1])
redis.call("SET", KEYS[2], ARGV[1])
return 0
`)

// Account as it stored, models.Account hides password hash from json
type accountRecord struct {
	ID           uuid.UUID `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	SkillLevel   string    `json:"skill_level"`
	ProfileImage string    `json:"profile_image"`
}

type AccountRepo struct {
	Client  *goredis.Client
	Timeout time.Duration
}

func accountKey(id uuid.UUID) string {
	return keyPrefix + id.String()
}

func emailKey(email string) string {
	return keyPrefix + "email:" + strings.ToLower(email)
}

func usernameKey(username string) string {
	return keyPrefix + "username:" + strings.ToLower(username)
}

func (r *AccountRepo) CreateAccount(ctx context.Context, p repository.CreateAccountParams) (models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	rec := accountRecord{
		ID:           uuid.New(),
		CreatedAt:    time.Now().UTC().Truncate(time.Microsecond),
		Username:     p.Username,
		Email:        p.Email,
		PasswordHash: p.PasswordHash,
		SkillLevel:   p.SkillLevel,
		ProfileImage: p.ProfileImage,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return models.Account{}, fmt.Errorf("redis encode error: %w", err)
	}

	keys := []string{emailKey(p.Email), usernameKey(p.Username), accountKey(rec.ID)}
	status, err := createAccountLua.Run(ctx, r.Client, keys, rec.ID.String(), data).Int64()
	if err != nil {
		return models.Account{}, fmt.Errorf("redis error: %w", err)
	}

	switch status {
	case createStatusOK:
		return rec.toModel(), nil
	case createStatusDuplicateEmail:
		return models.Account{}, apperrors.ErrDuplicateEmail
	case createStatusDuplicateUsername:
		return models.Account{}, apperrors.ErrDuplicateUsername
	default:
		return models.Account{}, fmt.Errorf("redis error: unknown create status %d", status)
	}
}

func (r *AccountRepo) GetAccountByID(ctx context.Context, id uuid.UUID) (models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	return r.get(ctx, id)
}

func (r *AccountRepo) GetAccountByEmail(ctx context.Context, email string) (models.Account, error) {
	return r.getByIndex(ctx, emailKey(email))
}

func (r *AccountRepo) GetAccountByUsername(ctx context.Context, username string) (models.Account, error) {
	return r.getByIndex(ctx, usernameKey(username))
}

func (r *AccountRepo) getByIndex(ctx context.Context, key string) (models.Account, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	raw, err := r.Client.Get(ctx, key).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		return models.Account{}, apperrors.ErrAccountNotFound
	case err != nil:
		return models.Account{}, fmt.Errorf("redis error: %w", err)
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return models.Account{}, fmt.Errorf("redis index %s is corrupted: %w", key, err)
	}

	return r.get(ctx, id)
}

func (r *AccountRepo) get(ctx context.Context, id uuid.UUID) (models.Account, error) {
	data, err := r.Client.Get(ctx, accountKey(id)).Bytes()
	switch {
	case errors.Is(err, goredis.Nil):
		return models.Account{}, apperrors.ErrAccountNotFound
	case err != nil:
		return models.Account{}, fmt.Errorf("redis error: %w", err)
	}

	var rec accountRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Account{}, fmt.Errorf("redis decode error: %w", err)
	}

	return rec.toModel(), nil
}

func (rec accountRecord) toModel() models.Account {
	return models.Account{
		ID:           rec.ID,
		CreatedAt:    rec.CreatedAt,
		Username:     rec.Username,
		Email:        rec.Email,
		PasswordHash: rec.PasswordHash,
		SkillLevel:   rec.SkillLevel,
		ProfileImage: rec.ProfileImage,
	}
}
