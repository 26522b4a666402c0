package store

import (
	"testing"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenMemory(t *testing.T) {
	db := testDB(t)
	if db.Path != ":memory:" {
		t.Errorf("Path = %q, want :memory:", db.Path)
	}
}

func TestOpenFile(t *testing.T) {
	path := t.TempDir() + "/nested/foresight.db"
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion = %d, want %d", v, len(migrations))
	}
}

func TestTablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"schema_versions", "content", "access_events", "patterns", "tier_state", "device_contexts"}
	for _, table := range tables {
		var name string
		err := db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q not found: %v", table, err)
		}
	}
}

func TestTierStateConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`INSERT INTO tier_state (content_id, tier, last_transition_at) VALUES ('c1', 'fast', 1000)`)
	if err != nil {
		t.Fatalf("valid insert failed: %v", err)
	}

	_, err = db.Exec(`INSERT INTO tier_state (content_id, tier, last_transition_at) VALUES ('c2', 'lukewarm', 1000)`)
	if err == nil {
		t.Error("expected error for invalid tier, got nil")
	}
}

func TestPatternConstraints(t *testing.T) {
	db := testDB(t)

	_, err := db.Exec(`
		INSERT INTO patterns (user_id, period_hours, type, confidence, formed_at, stable_at)
		VALUES ('u1', 24, 'daily', 1.5, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for confidence > 1, got nil")
	}

	_, err = db.Exec(`
		INSERT INTO patterns (user_id, period_hours, type, confidence, formed_at, stable_at)
		VALUES ('u1', 24, 'hourly', 0.5, 1000, 1000)
	`)
	if err == nil {
		t.Error("expected error for invalid type, got nil")
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	v, err := db.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion after re-migrate = %d, want %d", v, len(migrations))
	}
}

func TestWALMode(t *testing.T) {
	db := testDB(t)

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("PRAGMA journal_mode: %v", err)
	}
	// In-memory databases may use "memory" mode instead of WAL
	if mode != "wal" && mode != "memory" {
		t.Errorf("journal_mode = %q, want wal or memory", mode)
	}
}

func TestCloseCheckpoints(t *testing.T) {
	path := t.TempDir() + "/foresight.db"
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO content (id, user_id, body, context, created_at, updated_at, last_access) VALUES ('a', 'u', x'', '{}', 1, 1, 1)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM content`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("rows after reopen = %d, want 1", n)
	}
}
