package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nkiryanov/devhub/internal/repository"
)

// Anything that can run queries: *pgxpool.Pool, *pgx.Conn or pgx.Tx
// Begin on pgx.Tx creates savepoint, so storages nest freely
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Storage struct {
	db      DBTX
	timeout time.Duration
}

type Option func(*Storage)

// Limit every repository call with timeout
// Zero means the call uses caller context as is
func WithTimeout(d time.Duration) Option {
	return func(s *Storage) {
		s.timeout = d
	}
}

func NewStorage(db DBTX, opts ...Option) *Storage {
	s := &Storage{db: db}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Storage) Account() repository.AccountRepo {
	return &AccountRepo{DB: s.db, Timeout: s.timeout}
}

func (s *Storage) Refresh() repository.RefreshTokenRepo {
	return &RefreshTokenRepo{DB: s.db, Timeout: s.timeout}
}

// Begin and commit (or rollback) are limited with the storage timeout as any query
func (s *Storage) InTx(ctx context.Context, fn func(repository.Storage) error) (err error) {
	beginCtx, cancel := withTimeout(ctx, s.timeout)
	tx, err := s.db.Begin(beginCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("db tx error: %w", err)
	}

	defer func() {
		endCtx, cancel := withTimeout(ctx, s.timeout)
		defer cancel()

		switch err {
		case nil:
			err = tx.Commit(endCtx)
		default:
			_ = tx.Rollback(endCtx)
		}
	}()

	err = fn(&Storage{db: tx, timeout: s.timeout})

	return err
}

// withTimeout bounds single query with repo timeout
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}
