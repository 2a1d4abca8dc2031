package tokenmanager

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nkiryanov/devhub/internal/apperrors"
	"github.com/nkiryanov/devhub/internal/models"
)

const (
	defaultAccessTokenTTL  = 15 * time.Minute
	defaultSigningMethod   = "HS256"
	defaultRefreshTokenTTL = 24 * time.Hour

	nonceBytes = 16
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	jwt.RegisteredClaims
	AccountID uuid.UUID `json:"uid"`
	Nonce     string    `json:"nonce"`
	Type      string    `json:"typ"`
}

// Token manager with sensible default
type Config struct {
	// Secret key to sign tokens
	// Required to be set
	SecretKey string

	// JWT MAC (Message Authentication Code) algorithm: HS256, HS384 or HS512
	// If not set than default is used
	Alg string

	// Access and refresh token lifetimes
	// If not set than default is used
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

type TokenManager struct {
	// Secret key to sign tokens
	key []byte

	// JWT MAC (Message Authentication Code) algorithm
	alg jwt.SigningMethod

	// Access and refresh token lifetimes
	accessTTL  time.Duration
	refreshTTL time.Duration

	now func() time.Time
}

func New(cfg Config) (*TokenManager, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("secret key must not be empty")
	}

	if cfg.Alg == "" {
		cfg.Alg = defaultSigningMethod
	}
	alg, ok := jwt.GetSigningMethod(cfg.Alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("signing method %q is not supported, use one of HS256, HS384, HS512", cfg.Alg)
	}

	setDefaultDuration := func(field *time.Duration, def time.Duration) {
		if *field == 0 {
			*field = def
		}
	}
	setDefaultDuration(&cfg.AccessTTL, defaultAccessTokenTTL)
	setDefaultDuration(&cfg.RefreshTTL, defaultRefreshTokenTTL)

	if cfg.AccessTTL < 0 || cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, fmt.Errorf("access ttl (%s) must be positive and shorter than refresh ttl (%s)", cfg.AccessTTL, cfg.RefreshTTL)
	}

	return &TokenManager{
		key:        []byte(cfg.SecretKey),
		alg:        alg,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        time.Now,
	}, nil
}

func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// Issue signed access and refresh tokens for account
// Both share one random nonce, every token has its own jti
func (m *TokenManager) Issue(accountID uuid.UUID) (models.TokenPair, error) {
	var pair models.TokenPair

	b := make([]byte, nonceBytes)
	if _, err := rand.Read(b); err != nil {
		return pair, fmt.Errorf("error while generating nonce. Err: %w", err)
	}
	nonce := hex.EncodeToString(b)

	now := m.now().Truncate(time.Second)

	access, err := m.sign(accountID, nonce, TypeAccess, now, now.Add(m.accessTTL))
	if err != nil {
		return pair, err
	}
	refresh, err := m.sign(accountID, nonce, TypeRefresh, now, now.Add(m.refreshTTL))
	if err != nil {
		return pair, err
	}

	return models.TokenPair{Access: access, Refresh: refresh, Nonce: nonce}, nil
}

func (m *TokenManager) sign(accountID uuid.UUID, nonce string, typ string, now time.Time, expiresAt time.Time) (models.IssuedToken, error) {
	token := jwt.NewWithClaims(m.alg, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		AccountID: accountID,
		Nonce:     nonce,
		Type:      typ,
	})

	signed, err := token.SignedString(m.key)
	if err != nil {
		return models.IssuedToken{}, fmt.Errorf("error while signing %s token. Err: %w", typ, err)
	}

	return models.IssuedToken{Value: signed, ExpiresAt: expiresAt}, nil
}

// Parse and validate access token, return account it was issued for
func (m *TokenManager) ParseAccess(access string) (uuid.UUID, error) {
	claims, err := m.parse(access, TypeAccess)
	if err != nil {
		return uuid.Nil, err
	}
	return claims.AccountID, nil
}

// Parse and validate refresh token
// Full claims are returned: jti is needed to report token reuse
func (m *TokenManager) ParseRefresh(refresh string) (*Claims, error) {
	return m.parse(refresh, TypeRefresh)
}

func (m *TokenManager) parse(value string, typ string) (*Claims, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(
		value,
		claims,
		func(t *jwt.Token) (any, error) {
			return m.key, nil
		},
		jwt.WithValidMethods([]string{m.alg.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)

	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, apperrors.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return nil, apperrors.ErrTokenBadSignature
	default:
		return nil, apperrors.ErrTokenMalformed
	}

	// Claims are trusted only now, after signature and expiry passed
	if claims.Type != typ || claims.AccountID == uuid.Nil {
		return nil, apperrors.ErrTokenMalformed
	}

	return claims, nil
}
