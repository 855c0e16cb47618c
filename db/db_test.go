package db

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set; skipping postgres test")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close db: %v", err)
		}
	})
	return db
}

func TestMigrate(t *testing.T) {
	db := openTestDB(t)
	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

// TestMigrateIdempotency verifies Migrate can run repeatedly without error and
// that the vote dedup constraint survives re-runs.
func TestMigrateIdempotency(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := Migrate(ctx, db); err != nil {
			t.Fatalf("migrate run %d: %v", i+1, err)
		}
	}

	// The (tournament_id, match_index, voter_key) uniqueness is what makes
	// re-votes collapse to last-write-wins; verify the index exists.
	var count int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM   pg_index i
		JOIN   pg_class c ON c.oid = i.indrelid
		WHERE  c.relname = 'votes' AND i.indisunique
	`).Scan(&count)
	if err != nil {
		t.Fatalf("failed to query votes indexes: %v", err)
	}
	if count < 1 {
		t.Error("votes table has no unique index; re-vote upsert would not work")
	}

	for _, table := range []string{"votes", "matches", "tournament_sessions", "tournament_progress"} {
		var exists bool
		err := db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("table %s missing after migration", table)
		}
	}
}
