// Package testutil provides shared helpers for Postgres-backed tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/onnwee/bracket-live/backend/db"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SeedMatch registers a match's two contestants so that vote validation
// accepts them. Tests use unique tournament ids to stay isolated.
func SeedMatch(t *testing.T, database *sql.DB, tournamentID string, matchIndex int, item1, item2 string) {
	t.Helper()
	_, err := database.Exec(`
		INSERT INTO matches (tournament_id, match_index, item1_id, item2_id)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tournament_id, match_index)
		DO UPDATE SET item1_id=EXCLUDED.item1_id, item2_id=EXCLUDED.item2_id, updated_at=NOW()`,
		tournamentID, matchIndex, item1, item2)
	if err != nil {
		t.Fatalf("failed to seed match: %v", err)
	}
}
