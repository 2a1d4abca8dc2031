package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/devhub/internal/handlers/middleware"
	"github.com/nkiryanov/devhub/internal/logger"
	"github.com/nkiryanov/devhub/internal/models"
	"github.com/nkiryanov/devhub/internal/service/auth"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(authService authService, logger logger.Logger) http.Handler {
	withAuth := middleware.AuthMiddleware(authService)

	apiauth := http.NewServeMux()

	apiauth.Handle("POST /register", handleRegister(authService, logger))
	apiauth.Handle("POST /login", handleLogin(authService, logger))
	apiauth.Handle("POST /refresh", handleRefresh(authService, logger))
	apiauth.Handle("POST /logout", handleLogout(authService, logger))
	apiauth.Handle("POST /google", handleGoogleLogin(authService, logger))

	apiauth.Handle("GET /me", withAuth(handleMe(authService, logger)))

	root := http.NewServeMux()
	root.Handle("/auth/", http.StripPrefix("/auth", apiauth))

	handler := chain(root,
		middleware.LoggerMiddleware(logger),
	)

	return handler
}

type authService interface {
	// Create account, optional profile fields get defaults
	// Has to return error of kind apperrors.KindDuplicateAccount if email or username taken
	Register(ctx context.Context, params auth.RegisterParams) (models.Account, error)

	// Has to return apperrors.ErrInvalidCredentials both for unknown email and wrong password
	Login(ctx context.Context, email string, password string) (models.Account, models.TokenPair, error)

	// Exchange refresh token for new pair
	// Any token problem has to be apperrors.KindInvalidToken
	Refresh(ctx context.Context, refresh string) (models.TokenPair, error)

	// Revoke refresh token
	Logout(ctx context.Context, refresh string) error

	// Login with external identity provider credential
	LoginExternal(ctx context.Context, credential string) (models.Account, models.TokenPair, error)
	ExternalLoginEnabled() bool

	Authenticate(ctx context.Context, access string) (uuid.UUID, error)
	GetAccount(ctx context.Context, accountID uuid.UUID) (models.Account, error)
	ActiveSessions(ctx context.Context, accountID uuid.UUID) (int, error)
}
