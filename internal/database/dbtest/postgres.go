//go:build integration

// Package dbtest provides migrated Postgres databases for integration tests.
package dbtest

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	testpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dejobratic/orderflow/internal/database"
)

const defaultImage = "postgres:16-alpine"

// Postgres returns a pool connected to a migrated database. TEST_DATABASE_URL points
// tests at an existing server; otherwise a throwaway container is started, using
// POSTGRES_TEST_IMAGE when set.
func Postgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	connStr := os.Getenv("TEST_DATABASE_URL")
	if connStr == "" {
		connStr = startContainer(ctx, t)
	}

	if err := database.RunMigrations(connStr); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	pool, err := database.NewPool(ctx, connStr)
	if err != nil {
		t.Fatalf("failed to create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	return pool
}

func startContainer(ctx context.Context, t *testing.T) string {
	t.Helper()

	image := os.Getenv("POSTGRES_TEST_IMAGE")
	if image == "" {
		image = defaultImage
	}

	container, err := testpostgres.Run(ctx, image,
		testpostgres.WithDatabase("orderflow_test"),
		testpostgres.WithUsername("orderflow"),
		testpostgres.WithPassword("orderflow"),
		testcontainers.WithWaitStrategy(wait.ForLog("database system is ready to accept connections").WithOccurrence(2)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get connection string: %v", err)
	}
	return connStr
}
