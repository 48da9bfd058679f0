//go:build integration

// Package containers manages shared test infrastructure for integration
// tests. Containers are started once per test binary and shared across
// suites; Ryuk reaps them when the binary exits.
package containers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// schema mirrors the production DDL. Kept inline so the test binary is
// self-contained.
const schema = `
CREATE TABLE IF NOT EXISTS service_config (
	service    TEXT PRIMARY KEY,
	record     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS marketplace_listings (
	asset          TEXT PRIMARY KEY,
	listing_id     BIGINT NOT NULL,
	seller         TEXT NOT NULL,
	price          BIGINT NOT NULL,
	active         BOOLEAN NOT NULL,
	escrow_account TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS marketplace_listings_active_idx
	ON marketplace_listings (active) WHERE active;

CREATE TABLE IF NOT EXISTS patent_registry (
	discriminant  TEXT PRIMARY KEY,
	asset         TEXT NOT NULL,
	token_id      BIGINT NOT NULL,
	patent_number TEXT NOT NULL,
	owner         TEXT NOT NULL,
	issued_at     TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS credit_spenders (
	spender     TEXT PRIMARY KEY,
	authorized  BOOLEAN NOT NULL,
	total_spent BIGINT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS payment_user_stats (
	user_identity     TEXT PRIMARY KEY,
	total_native      BIGINT NOT NULL,
	total_stable      BIGINT NOT NULL,
	total_credit      BIGINT NOT NULL,
	payment_count     BIGINT NOT NULL,
	credits_purchased BIGINT NOT NULL,
	last_paid_at      TIMESTAMPTZ
);
`

// PostgresContainer wraps a testcontainers Postgres instance with an open
// connection pool and the schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// TruncateTables empties the given tables between tests.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx,
		fmt.Sprintf("TRUNCATE TABLE %s", strings.Join(tables, ", ")))
	return err
}

// Manager hands out shared containers. Starting Postgres takes seconds, so
// every suite in the binary reuses one instance.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
}

var (
	managerOnce sync.Once
	manager     *Manager
)

func GetManager() *Manager {
	managerOnce.Do(func() {
		manager = &Manager{}
	})
	return manager
}

// GetPostgres returns the shared Postgres container, starting it on first use.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.postgres != nil {
		return m.postgres
	}

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("custodia_test"),
		tcpostgres.WithUsername("custodia"),
		tcpostgres.WithPassword("custodia"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres connection: %v", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to ping postgres: %v", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to apply schema: %v", err)
	}

	m.postgres = &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
	return m.postgres
}
