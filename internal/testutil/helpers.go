// Package testutil holds helpers shared by Postgres- and NATS-backed tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"OptionLedger/internal/persistence"

	_ "github.com/lib/pq"
)

// TestPostgresDSN returns the Postgres DSN for integration tests, or "" when
// OPTL_TEST_DB_URL is unset.
func TestPostgresDSN() string {
	return os.Getenv("OPTL_TEST_DB_URL")
}

// TestNATSURL returns the NATS URL for integration tests, or "" when
// OPTL_TEST_NATS_URL is unset.
func TestNATSURL() string {
	return os.Getenv("OPTL_TEST_NATS_URL")
}

// MigrationsDir is the repository's migrations directory, located relative
// to this file so tests work from any package directory.
func MigrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

// SetupTestDB connects to the test database, applies migrations and returns
// a cleanup function that truncates every table. Skips the test when no
// database is configured or reachable.
func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()

	dsn := TestPostgresDSN()
	if dsn == "" {
		t.Skip("OPTL_TEST_DB_URL not set, skipping Postgres test")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("test postgres not available: %v", err)
	}
	if err := persistence.NewMigrator(db, MigrationsDir()).Up(ctx); err != nil {
		db.Close()
		t.Fatalf("migrate test db: %v", err)
	}

	tables := []string{
		"event_log.protocol_events",
		"event_log.journals",
		"event_log.transactions",
		"event_log.snapshots",
		"projections.balances",
		"projections.pools",
		"projections.tranches",
		"projections.options",
		"projections.watermark",
	}
	truncate := func() {
		for _, table := range tables {
			db.Exec(fmt.Sprintf("TRUNCATE %s CASCADE", table))
		}
	}
	truncate()

	cleanup := func() {
		truncate()
		db.Close()
	}
	return db, cleanup
}

// RequireNATS returns the NATS URL or skips the test.
func RequireNATS(t *testing.T) string {
	t.Helper()
	url := TestNATSURL()
	if url == "" {
		t.Skip("OPTL_TEST_NATS_URL not set, skipping NATS test")
	}
	return url
}
