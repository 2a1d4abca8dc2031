package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/repository"
	"github.com/nkiryanov/devhub/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

func mustCreateAccount(t *testing.T, db DBTX, username string) models.Account {
	t.Helper()

	r := AccountRepo{DB: db}
	account, err := r.CreateAccount(t.Context(), repository.CreateAccountParams{
		Username:     username,
		Email:        username + "@x.com",
		PasswordHash: "hash",
		SkillLevel:   models.SkillLevelBeginner,
	})
	require.NoError(t, err)

	return account
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	now := mustParseTime("2025-01-01 12:00:00Z")

	newToken := func(accountID uuid.UUID, value string, expiresAt time.Time) models.RefreshToken {
		return models.RefreshToken{
			Token:     value,
			AccountID: accountID,
			CreatedAt: now.Add(-time.Minute),
			ExpiresAt: expiresAt,
		}
	}

	t.Run("add and list", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			account := mustCreateAccount(t, tx, "alice")
			repo := RefreshTokenRepo{DB: tx}

			token := newToken(account.ID, "r1", now.Add(time.Hour))
			err := repo.Add(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.List(t.Context(), account.ID, now)

			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "r1", got[0].Token)
			assert.Equal(t, account.ID, got[0].AccountID)
			assert.WithinDuration(t, token.CreatedAt, got[0].CreatedAt, 0)
			assert.WithinDuration(t, token.ExpiresAt, got[0].ExpiresAt, 0)
		})
	})

	t.Run("list skips expired tokens", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			account := mustCreateAccount(t, tx, "alice")
			repo := RefreshTokenRepo{DB: tx}
			require.NoError(t, repo.Add(t.Context(), newToken(account.ID, "live", now.Add(time.Hour))))
			require.NoError(t, repo.Add(t.Context(), newToken(account.ID, "dead", now.Add(-time.Second))))

			got, err := repo.List(t.Context(), account.ID, now)

			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "live", got[0].Token)
		})
	})

	t.Run("list empty for unknown account", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			got, err := repo.List(t.Context(), uuid.New(), now)

			require.NoError(t, err)
			assert.Empty(t, got)
		})
	})

	t.Run("claim removes token once", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			account := mustCreateAccount(t, tx, "alice")
			repo := RefreshTokenRepo{DB: tx}
			require.NoError(t, repo.Add(t.Context(), newToken(account.ID, "r1", now.Add(time.Hour))))

			claimed, err := repo.Claim(t.Context(), account.ID, "r1", now)
			require.NoError(t, err)
			assert.True(t, claimed, "first claim must succeed")

			claimed, err = repo.Claim(t.Context(), account.ID, "r1", now)
			require.NoError(t, err)
			assert.False(t, claimed, "token already claimed")

			got, err := repo.List(t.Context(), account.ID, now)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	})

	t.Run("claim fails for other account", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			alice := mustCreateAccount(t, tx, "alice")
			bob := mustCreateAccount(t, tx, "bob")
			repo := RefreshTokenRepo{DB: tx}
			require.NoError(t, repo.Add(t.Context(), newToken(alice.ID, "r1", now.Add(time.Hour))))

			claimed, err := repo.Claim(t.Context(), bob.ID, "r1", now)

			require.NoError(t, err)
			assert.False(t, claimed)
		})
	})

	t.Run("claim fails for expired token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			account := mustCreateAccount(t, tx, "alice")
			repo := RefreshTokenRepo{DB: tx}
			require.NoError(t, repo.Add(t.Context(), newToken(account.ID, "r1", now)))

			claimed, err := repo.Claim(t.Context(), account.ID, "r1", now)

			require.NoError(t, err)
			assert.False(t, claimed, "token expiring exactly at 'now' is expired")
		})
	})

	t.Run("delete expired of one account", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			alice := mustCreateAccount(t, tx, "alice")
			bob := mustCreateAccount(t, tx, "bob")
			repo := RefreshTokenRepo{DB: tx}
			require.NoError(t, repo.Add(t.Context(), newToken(alice.ID, "a-live", now.Add(time.Hour))))
			require.NoError(t, repo.Add(t.Context(), newToken(alice.ID, "a-dead", now.Add(-time.Hour))))
			require.NoError(t, repo.Add(t.Context(), newToken(bob.ID, "b-dead", now.Add(-time.Hour))))

			deleted, err := repo.DeleteExpired(t.Context(), alice.ID, now)
			require.NoError(t, err)
			assert.EqualValues(t, 1, deleted)

			// bob's expired token still there, claim at earlier time proves it
			claimed, err := repo.Claim(t.Context(), bob.ID, "b-dead", now.Add(-2*time.Hour))
			require.NoError(t, err)
			assert.True(t, claimed)
		})
	})

	t.Run("purge expired of all accounts", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			alice := mustCreateAccount(t, tx, "alice")
			bob := mustCreateAccount(t, tx, "bob")
			repo := RefreshTokenRepo{DB: tx}
			require.NoError(t, repo.Add(t.Context(), newToken(alice.ID, "a-live", now.Add(time.Hour))))
			require.NoError(t, repo.Add(t.Context(), newToken(alice.ID, "a-dead", now.Add(-time.Hour))))
			require.NoError(t, repo.Add(t.Context(), newToken(bob.ID, "b-dead", now.Add(-time.Hour))))

			purged, err := repo.PurgeExpired(t.Context(), now)
			require.NoError(t, err)
			assert.EqualValues(t, 2, purged)

			got, err := repo.List(t.Context(), alice.ID, now)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "a-live", got[0].Token)
		})
	})

	// Runs on pool directly: concurrent claims need separate connections
	t.Run("concurrent claims have single winner", func(t *testing.T) {
		account := mustCreateAccount(t, pg.Pool, "claim-race-"+uuid.NewString()[:8])
		repo := RefreshTokenRepo{DB: pg.Pool}
		require.NoError(t, repo.Add(t.Context(), newToken(account.ID, "race-"+account.ID.String(), time.Now().Add(time.Hour))))

		var (
			wg   sync.WaitGroup
			wins atomic.Int32
		)
		start := make(chan struct{})
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				claimed, err := repo.Claim(context.Background(), account.ID, "race-"+account.ID.String(), time.Now())
				if err == nil && claimed {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()

		assert.EqualValues(t, 1, wins.Load(), "exactly one claim must win")
	})
}

func Test_Storage(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("in tx commits", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx, WithTimeout(time.Second))

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Account().CreateAccount(t.Context(), repository.CreateAccountParams{
					Username: "alice", Email: "a@x.com", PasswordHash: "hash", SkillLevel: models.SkillLevelBeginner,
				})
				return err
			})
			require.NoError(t, err)

			_, err = s.Account().GetAccountByEmail(t.Context(), "a@x.com")
			require.NoError(t, err, "account must be visible after commit")
		})
	})

	t.Run("in tx rolls back on error", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			s := NewStorage(tx)
			boom := assert.AnError

			err := s.InTx(t.Context(), func(s repository.Storage) error {
				_, err := s.Account().CreateAccount(t.Context(), repository.CreateAccountParams{
					Username: "alice", Email: "a@x.com", PasswordHash: "hash", SkillLevel: models.SkillLevelBeginner,
				})
				require.NoError(t, err)
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, err = s.Account().GetAccountByEmail(t.Context(), "a@x.com")
			require.Error(t, err, "account must be rolled back")
		})
	})
}
