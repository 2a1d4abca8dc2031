// Package testutil starts the stores used by package tests.
package testutil

import (
	"context"
	"net"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nkiryanov/devhub/internal/db"
)

const postgresImage = "postgres:17-alpine"

// Free tcp port on loopback
func RandomPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close() // nolint:errcheck

	return ln.Addr().(*net.TCPAddr).Port, nil
}

type PostgresContainer struct {
	DSN  string
	Pool *pgxpool.Pool

	// Close pool and remove container
	Terminate func()
}

// Start postgres in docker with migrated schema
// Test is skipped when docker is not available
func StartPostgresContainer(t *testing.T) PostgresContainer {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	container, err := postgres.Run(t.Context(),
		postgresImage,
		postgres.WithDatabase("devhub-test"),
		postgres.WithUsername("devhub"),
		postgres.WithPassword("pwd"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "can't start postgres container")

	dsn, err := container.ConnectionString(t.Context(), "sslmode=disable")
	require.NoError(t, err, "can't get postgres connection string")
	t.Logf("Postgres container started, DSN=%v", dsn)

	pool, err := db.ConnectAndMigrate(t.Context(), dsn)
	require.NoError(t, err, "can't connect to postgres or migrate schema")

	return PostgresContainer{
		DSN:  dsn,
		Pool: pool,
		Terminate: func() {
			pool.Close()
			testcontainers.CleanupContainer(t, container)
		},
	}
}

type beginner interface {
	Begin(context.Context) (pgx.Tx, error)
}

// Run testFunc in transaction rolled back afterwards
// Every subtest sees the schema empty
func WithTx(conn beginner, t *testing.T, testFunc func(tx pgx.Tx)) {
	t.Helper()

	tx, err := conn.Begin(t.Context())
	require.NoError(t, err)

	defer func() {
		require.NoError(t, tx.Rollback(context.Background()))
	}()

	testFunc(tx)
}

// In-process redis and a client connected to it, both closed on test end
func StartRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}
