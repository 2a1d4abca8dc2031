package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nkiryanov/devhub/internal/db"
	"github.com/nkiryanov/devhub/internal/handlers"
	"github.com/nkiryanov/devhub/internal/logger"
	"github.com/nkiryanov/devhub/internal/repository"
	"github.com/nkiryanov/devhub/internal/repository/postgres"
	"github.com/nkiryanov/devhub/internal/repository/redis"
	"github.com/nkiryanov/devhub/internal/service/auth"
	"github.com/nkiryanov/devhub/internal/service/auth/tokenmanager"
	"github.com/nkiryanov/devhub/internal/service/identity"
	"github.com/nkiryanov/devhub/internal/service/sweeper"
)

const shutdownTimeout = 5 * time.Second

type ServerApp struct {
	ListenAddr string
	Handler    http.Handler

	sweeper *sweeper.Sweeper
	logger  logger.Logger

	// Release store connections
	close func()
}

func NewServerApp(ctx context.Context, c *Config) (*ServerApp, error) {
	// Initialize logger
	logger, err := logger.New(c.Environment, c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("error while initializing logger: %w", err)
	}

	storage, closeStorage, err := newStorage(ctx, c)
	if err != nil {
		return nil, err
	}

	app, err := newServerApp(c, storage, logger)
	if err != nil {
		closeStorage()
		return nil, err
	}
	app.close = closeStorage

	return app, nil
}

// Connect to configured credential store
func newStorage(ctx context.Context, c *Config) (repository.Storage, func(), error) {
	switch c.Backend {
	case BackendRedis:
		client, err := redis.Connect(ctx, c.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to redis. Err: %w", err)
		}
		return redis.NewStorage(client, redis.WithTimeout(c.StoreTimeout)), func() { _ = client.Close() }, nil
	default:
		// Connect to the database and run migrations
		pool, err := db.ConnectAndMigrate(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("error while connecting to db. Err: %w", err)
		}
		return postgres.NewStorage(pool, postgres.WithTimeout(c.StoreTimeout)), pool.Close, nil
	}
}

func newServerApp(c *Config, storage repository.Storage, logger logger.Logger) (*ServerApp, error) {
	hasher, err := auth.NewHasher(c.Hasher)
	if err != nil {
		return nil, err
	}

	tokenManager, err := tokenmanager.New(tokenmanager.Config{
		SecretKey:  c.SecretKey,
		AccessTTL:  c.AccessTTL,
		RefreshTTL: c.RefreshTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("error while creating token manager. Err: %w", err)
	}

	sw := sweeper.New(sweeper.Config{Interval: c.SweepInterval}, storage.Refresh(), logger)

	opts := []auth.Option{auth.WithSweeper(sw)}
	if c.GoogleClientID != "" {
		verifier := identity.NewGoogleVerifier(c.GoogleTokenURL, c.GoogleClientID, logger)
		opts = append(opts, auth.WithIdentityVerifier(verifier))
	}

	authService, err := auth.NewService(storage, hasher, tokenManager, logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("error while creating auth service. Err: %w", err)
	}

	return &ServerApp{
		ListenAddr: c.ListenAddr,
		Handler:    handlers.NewRouter(authService, logger),
		sweeper:    sw,
		logger:     logger,
		close:      func() {},
	}, nil
}

// Run starts http server and closes gracefully on context cancellation
func (s *ServerApp) Run(ctx context.Context) error {
	defer s.close()

	httpServer := &http.Server{
		Addr:    s.ListenAddr,
		Handler: s.Handler,
	}

	idleConnsClosed := make(chan struct{})
	srvCtx, srvCtxCancel := context.WithCancel(ctx)
	defer srvCtxCancel()

	sweeperDone := s.sweeper.Run(srvCtx)

	go func() {
		<-srvCtx.Done()

		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(timeoutCtx); errors.Is(err, context.DeadlineExceeded) {
			s.logger.Error("HTTP server shutdown timeout exceeded, forcing shutdown...")
		}
		s.logger.Info("HTTP server stopped")
		close(idleConnsClosed)
	}()

	// Listen and serve until context is cancelled; then close gracefully connections
	s.logger.Info("Starting server", "address", s.ListenAddr)
	err := httpServer.ListenAndServe()
	srvCtxCancel()
	<-idleConnsClosed
	<-sweeperDone

	return err
}
