package testutil

import (
	"context"
	"database/sql"
	"net"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/target/reclaim/internal/migrate"
)

const (
	defaultTestDBHost = "localhost"
	// Matches the test profile of the local compose setup; CI sets TEST_DB_PORT=5432.
	defaultTestDBPort = "55432"
	defaultTestDBCred = "reclaim"
)

// TestDatabaseURL returns the Postgres URL integration tests connect to. TEST_DATABASE_URL
// wins; otherwise the URL is assembled from TEST_DB_HOST, TEST_DB_PORT, TEST_DB_USER,
// TEST_DB_PASSWORD and TEST_DB_NAME.
func TestDatabaseURL() string {
	if raw := strings.TrimSpace(os.Getenv("TEST_DATABASE_URL")); raw != "" {
		return raw
	}
	u := url.URL{
		Scheme: "postgres",
		User: url.UserPassword(
			envOr("TEST_DB_USER", defaultTestDBCred),
			envOr("TEST_DB_PASSWORD", defaultTestDBCred),
		),
		Host:     net.JoinHostPort(envOr("TEST_DB_HOST", defaultTestDBHost), envOr("TEST_DB_PORT", defaultTestDBPort)),
		Path:     "/" + envOr("TEST_DB_NAME", defaultTestDBCred),
		RawQuery: "sslmode=" + envOr("TEST_DB_SSLMODE", "disable"),
	}
	return u.String()
}

var (
	probeOnce sync.Once
	probeErr  error
)

// SkipIfNoTestDB skips t when Postgres is unreachable, or fails it when TEST_REQUIRE_DB
// (or TEST_REQUIRE_INFRA) is set. The probe runs once per test binary.
func SkipIfNoTestDB(t testing.TB) {
	t.Helper()
	probeOnce.Do(func() {
		db, err := sql.Open("pgx", TestDatabaseURL())
		if err != nil {
			probeErr = err
			return
		}
		defer func() { _ = db.Close() }()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		probeErr = db.PingContext(ctx)
	})
	if probeErr == nil {
		return
	}
	if envBool("TEST_REQUIRE_DB") || envBool("TEST_REQUIRE_INFRA") {
		t.Fatalf("test database not available: %v", probeErr)
	}
	t.Skipf("test database not available: %v", probeErr)
}

// WithAutoDB runs fn against a migrated schema private to t. The schema is dropped
// when t finishes.
func WithAutoDB(t testing.TB, fn func(*sql.DB)) {
	t.Helper()
	fn(NewTestDB(t))
}

// NewTestDB creates a throwaway schema, points search_path at it and applies migrations.
func NewTestDB(t testing.TB) *sql.DB {
	t.Helper()
	SkipIfNoTestDB(t)

	admin, err := sql.Open("pgx", TestDatabaseURL())
	if err != nil {
		t.Fatalf("open admin db: %v", err)
	}
	schema := "t_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := admin.ExecContext(ctx, "CREATE SCHEMA "+schema); err != nil {
		_ = admin.Close()
		t.Fatalf("create schema %s: %v", schema, err)
	}

	db, err := sql.Open("pgx", withSearchPath(t, TestDatabaseURL(), schema))
	if err != nil {
		_ = admin.Close()
		t.Fatalf("open schema db: %v", err)
	}
	db.SetMaxOpenConns(10)

	t.Cleanup(func() {
		_ = db.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := admin.ExecContext(ctx, "DROP SCHEMA IF EXISTS "+schema+" CASCADE"); err != nil {
			t.Logf("drop schema %s: %v", schema, err)
		}
		_ = admin.Close()
	})

	if err := migrate.Run(ctx, db); err != nil {
		t.Fatalf("migrate schema %s: %v", schema, err)
	}
	return db
}

func withSearchPath(t testing.TB, raw, schema string) string {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse TEST_DATABASE_URL: %v", err)
	}
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()
	return u.String()
}

// JobState is a row of the jobs table as seen by assertions.
type JobState struct {
	ID         string
	Status     string
	EntityType string
	EntityID   string
	RetryCount int
	LastError  *string
}

// InspectJobStates returns every job in creation order.
func InspectJobStates(t testing.TB, db *sql.DB) []JobState {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rows, err := db.QueryContext(ctx, `
		SELECT id, status, entity_type, entity_id, retry_count, last_error
		FROM jobs ORDER BY created_at, id`)
	if err != nil {
		t.Fatalf("query job states: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var out []JobState
	for rows.Next() {
		var s JobState
		if err := rows.Scan(&s.ID, &s.Status, &s.EntityType, &s.EntityID, &s.RetryCount, &s.LastError); err != nil {
			t.Fatalf("scan job state: %v", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("iterate job states: %v", err)
	}
	return out
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	default:
		return false
	}
}
