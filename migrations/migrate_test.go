package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func TestRunMigrations(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	defer db.Close() //nolint:errcheck // Test cleanup
	db.SetMaxOpenConns(1)

	if err := RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(db, zerolog.Nop()); err != nil {
		t.Fatalf("second run should be a no-op: %v", err)
	}

	for _, table := range []string{"cost_types", "costs", "usage_records"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s missing: %v", table, err)
		}
	}
}
