package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devhub/internal/apperrors"
	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/repository"
	"github.com/nkiryanov/devhub/internal/testutil"
)

func aliceParams() repository.CreateAccountParams {
	return repository.CreateAccountParams{
		Username:     "alice",
		Email:        "a@x.com",
		PasswordHash: "hashedpassword123",
		SkillLevel:   models.SkillLevelBeginner,
		ProfileImage: "https://cdn.example.com/alice.png",
	}
}

func Test_AccountRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	t.Run("create account ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}

			account, err := r.CreateAccount(t.Context(), aliceParams())

			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, account.ID, "id must be assigned on creation")
			assert.Equal(t, "alice", account.Username)
			assert.Equal(t, "a@x.com", account.Email)
			assert.Equal(t, "hashedpassword123", account.PasswordHash)
			assert.Equal(t, models.SkillLevelBeginner, account.SkillLevel)
			assert.Equal(t, "https://cdn.example.com/alice.png", account.ProfileImage)
			assert.WithinDuration(t, time.Now(), account.CreatedAt, time.Second, "CreatedAt should be recent")
		})
	})

	t.Run("duplicate email fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			_, err := r.CreateAccount(t.Context(), aliceParams())
			require.NoError(t, err)

			params := aliceParams()
			params.Username = "bob"
			params.Email = "A@X.COM"
			_, err = r.CreateAccount(t.Context(), params)

			require.ErrorIs(t, err, apperrors.ErrDuplicateEmail, "email uniqueness is case-insensitive")
		})
	})

	t.Run("duplicate username fails", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			_, err := r.CreateAccount(t.Context(), aliceParams())
			require.NoError(t, err)

			params := aliceParams()
			params.Username = "Alice"
			params.Email = "other@x.com"
			_, err = r.CreateAccount(t.Context(), params)

			require.ErrorIs(t, err, apperrors.ErrDuplicateUsername, "username uniqueness is case-insensitive")
		})
	})

	t.Run("get account by id ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), aliceParams())
			require.NoError(t, err)

			got, err := r.GetAccountByID(t.Context(), created.ID)

			require.NoError(t, err)
			assert.Equal(t, created, got)
		})
	})

	t.Run("get account by email ignores case", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), aliceParams())
			require.NoError(t, err)

			got, err := r.GetAccountByEmail(t.Context(), "A@x.Com")

			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
		})
	})

	t.Run("get account by username ignores case", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}
			created, err := r.CreateAccount(t.Context(), aliceParams())
			require.NoError(t, err)

			got, err := r.GetAccountByUsername(t.Context(), "ALICE")

			require.NoError(t, err)
			assert.Equal(t, created.ID, got.ID)
		})
	})

	t.Run("not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			r := AccountRepo{DB: tx}

			_, err := r.GetAccountByID(t.Context(), uuid.New())
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)

			_, err = r.GetAccountByEmail(t.Context(), "nobody@x.com")
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)

			_, err = r.GetAccountByUsername(t.Context(), "nobody")
			assert.ErrorIs(t, err, apperrors.ErrAccountNotFound)
		})
	})
}
