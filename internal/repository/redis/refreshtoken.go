package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/nkiryanov/devhub/internal/models"
)

// Account tokens live in two keys:
// sorted set token -> expiry (unix ms) and hash token -> creation time (unix ms)
func refreshSetKey(accountID uuid.UUID) string {
	return keyPrefix + accountID.String() + ":refresh"
}

func refreshMetaKey(accountID uuid.UUID) string {
	return keyPrefix + accountID.String() + ":refresh:created"
}

// KEYS: set, meta
// ARGV: token, now (unix ms)
var claimTokenLua = goredis.NewScript(`
local score = redis.call("ZSCORE", KEYS[1], ARGV[1])
if not score or tonumber(score) <= tonumber(ARGV[2]) then
  return 0
end
redis.call("ZREM", KEYS[1], ARGV[1])
redis.call("HDEL", KEYS[2], ARGV[1])
return 1
`)

// Expired members are removed in batches: Lua can't unpack an unbounded list.
// Metadata goes first, so a failed call never leaves orphan hash fields behind
//
// KEYS: set, meta
// ARGV: now (unix ms), batch size
var deleteExpiredLua = goredis.NewScript(`
local total = 0
while true do
  local batch = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1], "LIMIT", 0, ARGV[2])
  if #batch == 0 then
    return total
  end
  redis.call("HDEL", KEYS[2], unpack(batch))
  redis.call("ZREM", KEYS[1], unpack(batch))
  total = total + #batch
end
`)

const deleteBatchSize = 500

type RefreshTokenRepo struct {
	Client  *goredis.Client
	Timeout time.Duration
}

func (r *RefreshTokenRepo) Add(ctx context.Context, token models.RefreshToken) error {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	_, err := r.Client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.ZAdd(ctx, refreshSetKey(token.AccountID), goredis.Z{
			Score:  float64(token.ExpiresAt.UnixMilli()),
			Member: token.Token,
		})
		pipe.HSet(ctx, refreshMetaKey(token.AccountID), token.Token, token.CreatedAt.UnixMilli())
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis error: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepo) Claim(ctx context.Context, accountID uuid.UUID, token string, now time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	keys := []string{refreshSetKey(accountID), refreshMetaKey(accountID)}
	claimed, err := claimTokenLua.Run(ctx, r.Client, keys, token, now.UnixMilli()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis error: %w", err)
	}
	return claimed == 1, nil
}

func (r *RefreshTokenRepo) List(ctx context.Context, accountID uuid.UUID, now time.Time) ([]models.RefreshToken, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	entries, err := r.Client.ZRangeByScoreWithScores(ctx, refreshSetKey(accountID), &goredis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}
	if len(entries) == 0 {
		return nil, nil
	}

	members := make([]string, 0, len(entries))
	for _, e := range entries {
		members = append(members, e.Member.(string))
	}

	created, err := r.Client.HMGet(ctx, refreshMetaKey(accountID), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis error: %w", err)
	}

	tokens := make([]models.RefreshToken, 0, len(entries))
	for i, e := range entries {
		t := models.RefreshToken{
			Token:     members[i],
			AccountID: accountID,
			ExpiresAt: time.UnixMilli(int64(e.Score)).UTC(),
		}
		if raw, ok := created[i].(string); ok {
			ms, err := strconv.ParseInt(raw, 10, 64)
			if err == nil {
				t.CreatedAt = time.UnixMilli(ms).UTC()
			}
		}
		tokens = append(tokens, t)
	}

	return tokens, nil
}

func (r *RefreshTokenRepo) DeleteExpired(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, r.Timeout)
	defer cancel()

	return r.deleteExpired(ctx, accountID, now)
}

func (r *RefreshTokenRepo) deleteExpired(ctx context.Context, accountID uuid.UUID, now time.Time) (int64, error) {
	keys := []string{refreshSetKey(accountID), refreshMetaKey(accountID)}
	deleted, err := deleteExpiredLua.Run(ctx, r.Client, keys, now.UnixMilli(), deleteBatchSize).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis error: %w", err)
	}
	return deleted, nil
}

// Walks every refresh set with SCAN, so it never blocks the server for long
// An account that fails is reported in the returned error, the walk goes on
func (r *RefreshTokenRepo) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor uint64
		total  int64
		failed []error
	)

	for {
		keys, next, err := r.Client.Scan(ctx, cursor, keyPrefix+"*:refresh", 1000).Result()
		if err != nil {
			failed = append(failed, fmt.Errorf("redis error: %w", err))
			return total, errors.Join(failed...)
		}

		for _, key := range keys {
			accountID, ok := accountIDFromRefreshKey(key)
			if !ok {
				continue
			}

			callCtx, cancel := withTimeout(ctx, r.Timeout)
			deleted, err := r.deleteExpired(callCtx, accountID, now)
			cancel()
			if err != nil {
				failed = append(failed, fmt.Errorf("account %s: %w", accountID, err))
				continue
			}
			total += deleted
		}

		cursor = next
		if cursor == 0 {
			return total, errors.Join(failed...)
		}
		if err := ctx.Err(); err != nil {
			failed = append(failed, err)
			return total, errors.Join(failed...)
		}
	}
}

// Index keys (email:..., username:...) may also end with ":refresh", they are skipped
func accountIDFromRefreshKey(key string) (uuid.UUID, bool) {
	raw := strings.TrimSuffix(strings.TrimPrefix(key, keyPrefix), ":refresh")
	id, err := uuid.Parse(raw)
	return id, err == nil
}
