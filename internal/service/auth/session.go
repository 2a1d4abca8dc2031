package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/devhub/internal/apperrors"
	"github.com/nkiryanov/devhub/internal/logger"
	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/repository"
	"github.com/nkiryanov/devhub/internal/service/auth/tokenmanager"
)

const DefaultProfileImage = "https://cdn-icons-png.flaticon.com/512/3135/3135715.png"

// Hashed once at start, verified against on unknown email so that
// login takes the same time whether account exists or not
const dummyPassword = "devhub-dummy-password"

type tokenManager interface {
	Issue(accountID uuid.UUID) (models.TokenPair, error)
	ParseAccess(access string) (uuid.UUID, error)
	ParseRefresh(refresh string) (*tokenmanager.Claims, error)
}

type sweepQueue interface {
	Enqueue(accountID uuid.UUID)
}

type identityVerifier interface {
	Verify(ctx context.Context, credential string) (email string, err error)
}

// Values for optional registration fields
type ProfileDefaults struct {
	SkillLevel   string
	ProfileImage string
}

var DefaultProfile = ProfileDefaults{
	SkillLevel:   models.SkillLevelBeginner,
	ProfileImage: DefaultProfileImage,
}

func (d ProfileDefaults) Resolve(p RegisterParams) RegisterParams {
	if p.SkillLevel == "" {
		p.SkillLevel = d.SkillLevel
	}
	if p.ProfileImage == "" {
		p.ProfileImage = d.ProfileImage
	}
	return p
}

type RegisterParams struct {
	Username     string
	Email        string
	Password     string
	SkillLevel   string // optional
	ProfileImage string // optional
}

type AuthService struct {
	storage repository.Storage
	hasher  PasswordHasher
	tokens  tokenManager
	logger  logger.Logger

	defaults ProfileDefaults
	sweeper  sweepQueue
	identity identityVerifier

	dummyHash string
	now       func() time.Time
}

type Option func(*AuthService)

func WithProfileDefaults(d ProfileDefaults) Option {
	return func(s *AuthService) {
		s.defaults = d
	}
}

// Enqueue account for expired token cleanup after every issued session
func WithSweeper(q sweepQueue) Option {
	return func(s *AuthService) {
		s.sweeper = q
	}
}

// Enable login with external identity provider
func WithIdentityVerifier(v identityVerifier) Option {
	return func(s *AuthService) {
		s.identity = v
	}
}

func NewService(storage repository.Storage, hasher PasswordHasher, tokens tokenManager, logger logger.Logger, opts ...Option) (*AuthService, error) {
	if hasher == nil {
		hasher = BcryptHasher{}
	}

	s := &AuthService{
		storage:  storage,
		hasher:   hasher,
		tokens:   tokens,
		logger:   logger,
		defaults: DefaultProfile,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	dummyHash, err := s.hasher.Hash(dummyPassword)
	if err != nil {
		return nil, fmt.Errorf("hasher is not usable. Err: %w", err)
	}
	s.dummyHash = dummyHash

	return s, nil
}

func (s *AuthService) Register(ctx context.Context, params RegisterParams) (models.Account, error) {
	params = s.defaults.Resolve(params)
	if err := validateRegister(params); err != nil {
		return models.Account{}, err
	}

	// Fast path checks, unique indexes at the store are the real guard
	_, err := s.storage.Account().GetAccountByEmail(ctx, params.Email)
	switch {
	case err == nil:
		return models.Account{}, apperrors.ErrDuplicateEmail
	case !errors.Is(err, apperrors.ErrAccountNotFound):
		return models.Account{}, fmt.Errorf("can't check email. Err: %w", err)
	}

	_, err = s.storage.Account().GetAccountByUsername(ctx, params.Username)
	switch {
	case err == nil:
		return models.Account{}, apperrors.ErrDuplicateUsername
	case !errors.Is(err, apperrors.ErrAccountNotFound):
		return models.Account{}, fmt.Errorf("can't check username. Err: %w", err)
	}

	hash, err := s.hasher.Hash(params.Password)
	if err != nil {
		return models.Account{}, fmt.Errorf("can't use this as password. Err: %w", err)
	}

	account, err := s.storage.Account().CreateAccount(ctx, repository.CreateAccountParams{
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		SkillLevel:   params.SkillLevel,
		ProfileImage: params.ProfileImage,
	})
	// Concurrent registration may win between the checks and the insert
	switch {
	case errors.Is(err, apperrors.ErrDuplicateEmail):
		return models.Account{}, apperrors.ErrDuplicateEmail
	case errors.Is(err, apperrors.ErrDuplicateUsername):
		return models.Account{}, apperrors.ErrDuplicateUsername
	case err != nil:
		return models.Account{}, fmt.Errorf("can't create account. Err: %w", err)
	}

	s.logger.Info("Account registered", "account_id", account.ID)
	return account, nil
}

func validateRegister(p RegisterParams) error {
	switch {
	case strings.TrimSpace(p.Username) == "":
		return fmt.Errorf("%w: username is required", apperrors.ErrInvalidInput)
	case strings.TrimSpace(p.Email) == "":
		return fmt.Errorf("%w: email is required", apperrors.ErrInvalidInput)
	case p.Password == "":
		return fmt.Errorf("%w: password is required", apperrors.ErrInvalidInput)
	}

	if _, err := mail.ParseAddress(p.Email); err != nil {
		return fmt.Errorf("%w: email is malformed", apperrors.ErrInvalidInput)
	}

	switch p.SkillLevel {
	case models.SkillLevelBeginner, models.SkillLevelIntermediate, models.SkillLevelAdvanced:
	default:
		return fmt.Errorf("%w: unknown skill level %q", apperrors.ErrInvalidInput, p.SkillLevel)
	}

	return nil
}

// Login with email and password
// Unknown email and wrong password are the same ErrInvalidCredentials
func (s *AuthService) Login(ctx context.Context, email string, password string) (models.Account, models.TokenPair, error) {
	account, err := s.storage.Account().GetAccountByEmail(ctx, email)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		s.hasher.Verify(password, s.dummyHash)
		return models.Account{}, models.TokenPair{}, apperrors.ErrInvalidCredentials
	case err != nil:
		return models.Account{}, models.TokenPair{}, fmt.Errorf("can't get account. Err: %w", err)
	}

	if !s.hasher.Verify(password, account.PasswordHash) {
		return models.Account{}, models.TokenPair{}, apperrors.ErrInvalidCredentials
	}

	pair, err := s.startSession(ctx, s.storage, account.ID)
	if err != nil {
		return models.Account{}, models.TokenPair{}, err
	}

	return account, pair, nil
}

// Exchange refresh token for a new pair; the presented token is consumed
func (s *AuthService) Refresh(ctx context.Context, refresh string) (models.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		s.logger.Debug("Refresh token rejected", "reason", err)
		return models.TokenPair{}, apperrors.ErrInvalidToken
	}

	var pair models.TokenPair
	err = s.storage.InTx(ctx, func(storage repository.Storage) error {
		if err := s.claim(ctx, storage, refresh, claims); err != nil {
			return err
		}

		pair, err = s.startSession(ctx, storage, claims.AccountID)
		return err
	})
	if err != nil {
		return models.TokenPair{}, err
	}

	return pair, nil
}

// Revoke refresh token, issued access tokens live until expiry
func (s *AuthService) Logout(ctx context.Context, refresh string) error {
	claims, err := s.tokens.ParseRefresh(refresh)
	if err != nil {
		s.logger.Debug("Refresh token rejected", "reason", err)
		return apperrors.ErrInvalidToken
	}

	if err := s.claim(ctx, s.storage, refresh, claims); err != nil {
		return err
	}

	s.logger.Info("Session closed", "account_id", claims.AccountID)
	return nil
}

// Remove presented refresh token from account set
// Only one caller wins, the rest get ErrInvalidToken. Other tokens of the account stay valid
func (s *AuthService) claim(ctx context.Context, storage repository.Storage, refresh string, claims *tokenmanager.Claims) error {
	now := s.now()

	claimed, err := storage.Refresh().Claim(ctx, claims.AccountID, refresh, now)
	if err != nil {
		return fmt.Errorf("can't claim refresh token. Err: %w", err)
	}
	if !claimed {
		s.logger.Warn("Refresh token reuse or unknown token",
			"account_id", claims.AccountID,
			"jti", claims.ID,
			"at", now.UTC(),
		)
		return apperrors.ErrInvalidToken
	}

	return nil
}

func (s *AuthService) startSession(ctx context.Context, storage repository.Storage, accountID uuid.UUID) (models.TokenPair, error) {
	pair, err := s.tokens.Issue(accountID)
	if err != nil {
		return pair, fmt.Errorf("can't issue tokens. Err: %w", err)
	}

	err = storage.Refresh().Add(ctx, models.RefreshToken{
		Token:     pair.Refresh.Value,
		AccountID: accountID,
		CreatedAt: s.now(),
		ExpiresAt: pair.Refresh.ExpiresAt,
	})
	if err != nil {
		return models.TokenPair{}, fmt.Errorf("can't save refresh token. Err: %w", err)
	}

	if s.sweeper != nil {
		s.sweeper.Enqueue(accountID)
	}

	return pair, nil
}

// Resolve access token to account id
func (s *AuthService) Authenticate(_ context.Context, access string) (uuid.UUID, error) {
	accountID, err := s.tokens.ParseAccess(access)
	if err != nil {
		s.logger.Debug("Access token rejected", "reason", err)
		return uuid.Nil, apperrors.ErrUnauthorized
	}
	return accountID, nil
}

func (s *AuthService) GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error) {
	account, err := s.storage.Account().GetAccountByID(ctx, accountID)
	switch {
	case errors.Is(err, apperrors.ErrAccountNotFound):
		return account, apperrors.ErrUnauthorized
	case err != nil:
		return account, fmt.Errorf("can't get account. Err: %w", err)
	}
	return account, nil
}

// Count of refresh tokens still valid for account
func (s *AuthService) ActiveSessions(ctx context.Context, accountID uuid.UUID) (int, error) {
	tokens, err := s.storage.Refresh().List(ctx, accountID, s.now())
	if err != nil {
		return 0, fmt.Errorf("can't list sessions. Err: %w", err)
	}
	return len(tokens), nil
}

// Login with credential of external identity provider
// Account is created on first login, password is random and unknown to anybody
func (s *AuthService) LoginExternal(ctx context.Context, credential string) (models.Account, models.TokenPair, error) {
	if s.identity == nil {
		return models.Account{}, models.TokenPair{}, errors.New("external identity provider is not configured")
	}

	email, err := s.identity.Verify(ctx, credential)
	if err != nil {
		return models.Account{}, models.TokenPair{}, fmt.Errorf("can't verify credential. Err: %w", err)
	}

	account, err := s.storage.Account().GetAccountByEmail(ctx, email)
	if errors.Is(err, apperrors.ErrAccountNotFound) {
		account, err = s.registerExternal(ctx, email)
	}
	if err != nil {
		return models.Account{}, models.TokenPair{}, fmt.Errorf("can't get account. Err: %w", err)
	}

	pair, err := s.startSession(ctx, s.storage, account.ID)
	if err != nil {
		return models.Account{}, models.TokenPair{}, err
	}

	return account, pair, nil
}

const maxUsernameAttempts = 5

func (s *AuthService) registerExternal(ctx context.Context, email string) (models.Account, error) {
	password, err := randomHex(32)
	if err != nil {
		return models.Account{}, err
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return models.Account{}, fmt.Errorf("can't hash password. Err: %w", err)
	}

	base := usernameFromEmail(email)
	username := base

	for range maxUsernameAttempts {
		account, err := s.storage.Account().CreateAccount(ctx, repository.CreateAccountParams{
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			SkillLevel:   s.defaults.SkillLevel,
			ProfileImage: s.defaults.ProfileImage,
		})

		switch {
		case err == nil:
			s.logger.Info("Account registered with external identity", "account_id", account.ID)
			return account, nil
		case errors.Is(err, apperrors.ErrDuplicateEmail):
			// Concurrent first login with the same identity
			return s.storage.Account().GetAccountByEmail(ctx, email)
		case errors.Is(err, apperrors.ErrDuplicateUsername):
			suffix, err := randomHex(2)
			if err != nil {
				return models.Account{}, err
			}
			username = base + suffix
		default:
			return models.Account{}, err
		}
	}

	return models.Account{}, fmt.Errorf("can't find free username for %q", base)
}

func usernameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")

	var b strings.Builder
	for _, r := range local {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		}
	}

	if b.Len() == 0 {
		return "user"
	}
	return b.String()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("random error: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func (s *AuthService) ExternalLoginEnabled() bool {
	return s.identity != nil
}
