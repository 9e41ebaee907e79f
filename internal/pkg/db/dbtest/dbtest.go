// Package dbtest starts a disposable PostgreSQL container for integration
// tests and applies the schema. Tests are skipped when Docker is missing.
package dbtest

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"reflex-arena/internal/pkg/db"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	return cmd.Run() == nil
}

// Setup creates a PostgreSQL container, migrates it and returns a pool.
// The container is terminated through t.Cleanup.
func Setup(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	require.NoError(t, db.Migrate(ctx, pool))

	t.Cleanup(func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	})

	return pool
}

// SeedEvent inserts an event that is active around now.
func SeedEvent(t *testing.T, pool *pgxpool.Pool, id string, prizePoolWLD string) {
	t.Helper()
	_, err := pool.Exec(context.Background(), `
		INSERT INTO events (id, starts_at, ends_at, prize_pool_wld)
		VALUES ($1, NOW() - INTERVAL '1 hour', NOW() + INTERVAL '1 day', $2)
	`, id, prizePoolWLD)
	require.NoError(t, err)
}
