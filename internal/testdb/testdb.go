package testdb

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/phrazzld/matrix-outbox/internal/platform/logger"
	"github.com/phrazzld/matrix-outbox/internal/platform/postgres"
)

// DatabaseURLEnv names the variable that points integration tests at a
// disposable PostgreSQL database.
const DatabaseURLEnv = "OUTBOX_TEST_DATABASE_URL"

// txTimeout bounds a single WithTx body.
const txTimeout = 30 * time.Second

// DatabaseURL returns the configured test database URL, or "" when
// integration tests should be skipped.
func DatabaseURL() string {
	return os.Getenv(DatabaseURLEnv)
}

// ShouldSkip reports whether no test database is configured.
func ShouldSkip() bool {
	return DatabaseURL() == ""
}

// Open connects to the test database and brings its schema up to date. It
// skips t when no database is configured.
func Open(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := DatabaseURL()
	if dbURL == "" {
		t.Skipf("%s not set, skipping PostgreSQL integration test", DatabaseURLEnv)
	}

	log, _ := logger.NewTestLogger(t)
	ctx := context.Background()

	db, err := postgres.Open(ctx, dbURL, log)
	if err != nil {
		t.Fatalf("failed to connect to test database %s: %v", MaskURL(dbURL), err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("failed to close test database: %v", err)
		}
	})

	if err := postgres.Migrate(ctx, db, log); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

// WithTx runs fn inside a transaction and rolls it back afterwards, whatever
// fn did.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), txTimeout)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("failed to begin transaction: %v", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Errorf("failed to roll back transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// MaskURL hides the password of a database URL for log output.
func MaskURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "[unparseable database URL]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
