package tokenmanager

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/devhub/internal/apperrors"
)

func newManager(t *testing.T) *TokenManager {
	t.Helper()

	m, err := New(Config{SecretKey: "test-secret-key", AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour})
	require.NoError(t, err, "token manager should be created without errors")

	return m
}

func Test_TokenManager(t *testing.T) {
	accountID := uuid.New()

	t.Run("new defaults", func(t *testing.T) {
		m, err := New(Config{SecretKey: "secret"})
		require.NoError(t, err, "token manager should be created without errors")

		require.Equal(t, []byte("secret"), m.key, "secret key should be set")
		require.Equal(t, defaultAccessTokenTTL, m.accessTTL, "default access token TTL should be set")
		require.Equal(t, defaultRefreshTokenTTL, m.refreshTTL, "default refresh token TTL")
		require.Equal(t, defaultSigningMethod, m.alg.Alg(), "default signing method should be set")
	})

	t.Run("new fails", func(t *testing.T) {
		cases := map[string]Config{
			"empty secret":               {},
			"not hmac alg":               {SecretKey: "secret", Alg: "RS256"},
			"unknown alg":                {SecretKey: "secret", Alg: "none"},
			"access longer than refresh": {SecretKey: "secret", AccessTTL: time.Hour, RefreshTTL: time.Minute},
			"access equal to refresh":    {SecretKey: "secret", AccessTTL: time.Hour, RefreshTTL: time.Hour},
		}

		for name, cfg := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := New(cfg)
				require.Error(t, err)
			})
		}
	})

	t.Run("Issue", func(t *testing.T) {
		t.Run("return token pair", func(t *testing.T) {
			m := newManager(t)

			pair, err := m.Issue(accountID)

			require.NoError(t, err)
			assert.NotEmpty(t, pair.Access.Value, "access token should not be empty")
			assert.WithinDuration(t, time.Now().Add(15*time.Minute), pair.Access.ExpiresAt, time.Second)
			assert.NotEmpty(t, pair.Refresh.Value, "refresh token should not be empty")
			assert.WithinDuration(t, time.Now().Add(24*time.Hour), pair.Refresh.ExpiresAt, time.Second)
			assert.Len(t, pair.Nonce, 2*nonceBytes)
		})

		t.Run("pair shares nonce", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			refresh, err := m.ParseRefresh(pair.Refresh.Value)
			require.NoError(t, err)
			access := &Claims{}
			_, _, err = jwt.NewParser().ParseUnverified(pair.Access.Value, access)
			require.NoError(t, err)

			assert.Equal(t, pair.Nonce, refresh.Nonce)
			assert.Equal(t, pair.Nonce, access.Nonce)
			assert.NotEqual(t, access.ID, refresh.ID, "every token has its own jti")
			assert.Equal(t, TypeAccess, access.Type)
			assert.Equal(t, TypeRefresh, refresh.Type)
		})

		t.Run("generate different tokens", func(t *testing.T) {
			m := newManager(t)
			frozen := time.Now()
			m.now = func() time.Time { return frozen }

			first, err := m.Issue(accountID)
			require.NoError(t, err)
			second, err := m.Issue(accountID)
			require.NoError(t, err)

			assert.NotEqual(t, first.Nonce, second.Nonce)
			assert.NotEqual(t, first.Access.Value, second.Access.Value, "issued in same instant must differ")
			assert.NotEqual(t, first.Refresh.Value, second.Refresh.Value, "issued in same instant must differ")
		})
	})

	t.Run("ParseAccess", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			got, err := m.ParseAccess(pair.Access.Value)

			require.NoError(t, err)
			assert.Equal(t, accountID, got)
		})

		t.Run("not a token", func(t *testing.T) {
			m := newManager(t)

			_, err := m.ParseAccess("garbage")

			require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
			assert.Equal(t, apperrors.KindInvalidToken, apperrors.KindOf(err))
		})

		t.Run("refresh token is not access", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			_, err = m.ParseAccess(pair.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
		})

		t.Run("expired token", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			m.now = func() time.Time { return time.Now().Add(16 * time.Minute) }
			_, err = m.ParseAccess(pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})

		t.Run("signed with other key", func(t *testing.T) {
			m := newManager(t)
			other, err := New(Config{SecretKey: "other-key"})
			require.NoError(t, err)
			pair, err := other.Issue(accountID)
			require.NoError(t, err)

			_, err = m.ParseAccess(pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenBadSignature)
		})

		t.Run("not signed token", func(t *testing.T) {
			m := newManager(t)
			token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
				RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))},
				AccountID:        accountID,
				Type:             TypeAccess,
			})
			unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
			require.NoError(t, err)

			_, err = m.ParseAccess(unsigned)

			require.Error(t, err, "alg none must be rejected")
			assert.Equal(t, apperrors.KindInvalidToken, apperrors.KindOf(err))
		})

		t.Run("token without expiry", func(t *testing.T) {
			m := newManager(t)
			token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{AccountID: accountID, Type: TypeAccess})
			signed, err := token.SignedString(m.key)
			require.NoError(t, err)

			_, err = m.ParseAccess(signed)

			require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
		})
	})

	t.Run("ParseRefresh", func(t *testing.T) {
		t.Run("valid token", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			claims, err := m.ParseRefresh(pair.Refresh.Value)

			require.NoError(t, err)
			assert.Equal(t, accountID, claims.AccountID)
			assert.NotEmpty(t, claims.ID)
		})

		t.Run("access token is not refresh", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			_, err = m.ParseRefresh(pair.Access.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenMalformed)
		})

		t.Run("expired token", func(t *testing.T) {
			m := newManager(t)
			pair, err := m.Issue(accountID)
			require.NoError(t, err)

			m.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
			_, err = m.ParseRefresh(pair.Refresh.Value)

			require.ErrorIs(t, err, apperrors.ErrTokenExpired)
		})
	})
}
