package database

import (
	"context"
	"testing"
	"testing/fstest"
)

func registerTestMigrations(t *testing.T, fsys fstest.MapFS) {
	t.Helper()
	sourceMu.RLock()
	origFS, origDir := migrationsFS, migrationsDir
	sourceMu.RUnlock()
	t.Cleanup(func() { RegisterMigrations(origFS, origDir) })

	RegisterMigrations(fsys, ".")
}

var testMigrations = fstest.MapFS{
	"20260301_090000_samples.up.sql":   {Data: []byte("CREATE TABLE samples (id INTEGER PRIMARY KEY, value REAL);")},
	"20260301_090000_samples.down.sql": {Data: []byte("DROP TABLE samples;")},
	"20260302_090000_notes.up.sql":     {Data: []byte("ALTER TABLE samples ADD COLUMN note TEXT;")},
	"README.md":                        {Data: []byte("not a migration")},
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	if err != nil {
		t.Fatalf("querying sqlite_master: %v", err)
	}
	return count == 1
}

func TestMigrate(t *testing.T) {
	registerTestMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "samples") {
		t.Fatal("samples table not created")
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending migrations, got %d", len(pending))
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	registerTestMigrations(t, fstest.MapFS{
		"20260301_090000_samples.up.sql":   testMigrations["20260301_090000_samples.up.sql"],
		"20260301_090000_samples.down.sql": testMigrations["20260301_090000_samples.down.sql"],
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error = %v", err)
	}
	if tableExists(t, db, "samples") {
		t.Error("samples table still exists after rollback")
	}

	// Nothing left to roll back.
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() on empty history error = %v", err)
	}
}

func TestMigrateDown_NoDownSQL(t *testing.T) {
	registerTestMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if err := db.MigrateDown(ctx); err == nil {
		t.Error("expected error rolling back migration without down SQL")
	}
}

func TestMigrate_FailureStopsRun(t *testing.T) {
	registerTestMigrations(t, fstest.MapFS{
		"20260301_090000_good.up.sql": {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20260302_090000_bad.up.sql":  {Data: []byte("CREATE TABLE nope (")},
	})
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("expected Migrate() to fail on broken SQL")
	}
	if !tableExists(t, db, "good") {
		t.Error("earlier migration should stay committed")
	}

	pending, err := db.PendingMigrations(ctx)
	if err != nil {
		t.Fatalf("PendingMigrations() error = %v", err)
	}
	if len(pending) != 1 || pending[0].Name != "bad" {
		t.Errorf("pending = %+v, want only the bad migration", pending)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		up       bool
		ok       bool
	}{
		{"20260301_090000_response_history.up.sql", "20260301_090000", "response_history", true, true},
		{"20260301_090000_response_history.down.sql", "20260301_090000", "response_history", false, true},
		{"20260301_090000.up.sql", "20260301_090000", "20260301_090000", true, true},
		{"20260301_090000_x.sql", "", "", false, false},
		{"notes.txt", "", "", false, false},
		{"single.up.sql", "", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, up, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok || version != tt.version || name != tt.name || up != tt.up {
				t.Errorf("parseMigrationFilename(%q) = (%q, %q, %v, %v), want (%q, %q, %v, %v)",
					tt.filename, version, name, up, ok, tt.version, tt.name, tt.up, tt.ok)
			}
		})
	}
}
