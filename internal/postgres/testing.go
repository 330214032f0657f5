package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
)

// TestDB connects to TEST_DATABASE_URL, migrates it and truncates all
// tables. The test is skipped when no database is configured or reachable.
func TestDB(t testing.TB) *sql.DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("skipping: TEST_DATABASE_URL not set")
	}
	db, err := Open(context.Background(), url, 4)
	if err != nil {
		t.Skipf("skipping: PostgreSQL not available: %v", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		t.Fatalf("migrate: %v", err)
	}
	if _, err := db.Exec(`TRUNCATE profiles, likes, matches`); err != nil {
		db.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
