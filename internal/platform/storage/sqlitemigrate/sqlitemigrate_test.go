package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTempDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate-test.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

func TestApplyRequiresDB(t *testing.T) {
	if err := Apply(nil, fstest.MapFS{}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestApplyRunsMigrationsInOrder(t *testing.T) {
	sqlDB := openTempDB(t)

	migrations := fstest.MapFS{
		"0001_create.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
		},
		"0002_add_column.sql": &fstest.MapFile{
			Data: []byte("ALTER TABLE items ADD COLUMN label TEXT;"),
		},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO items (id, label) VALUES ('a', 'first')"); err != nil {
		t.Fatalf("expected both migrations applied: %v", err)
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	sqlDB := openTempDB(t)

	migrations := fstest.MapFS{
		"0001_create.sql": &fstest.MapFile{
			Data: []byte("CREATE TABLE items (id TEXT PRIMARY KEY);"),
		},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("second apply should be a no-op: %v", err)
	}

	var count int
	row := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 recorded migration, got %d", count)
	}
}

func TestApplySkipsEmptyMigrations(t *testing.T) {
	sqlDB := openTempDB(t)

	migrations := fstest.MapFS{
		"0001_empty.sql": &fstest.MapFile{Data: []byte("   \n")},
	}

	if err := Apply(sqlDB, migrations); err != nil {
		t.Fatalf("apply empty migration: %v", err)
	}
}
