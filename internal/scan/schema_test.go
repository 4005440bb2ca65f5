package scan_test

import (
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"cardscan/internal/imagestore"
	"cardscan/internal/scan"
)

func TestOpenPathRejectsOtherSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "scans.db")
	blobs, err := imagestore.NewLocal(filepath.Join(dir, "uploads"), 0, 1<<20)
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	store, err := scan.OpenPath(dbPath, blobs, 5)
	if err != nil {
		t.Fatalf("OpenPath: %v", err)
	}
	_ = store.Close()

	// Reopening the same version is fine.
	store, err = scan.OpenPath(dbPath, blobs, 5)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	_ = store.Close()

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if _, err := db.Exec("PRAGMA user_version = 99"); err != nil {
		t.Fatalf("set user_version: %v", err)
	}
	_ = db.Close()

	_, err = scan.OpenPath(dbPath, blobs, 5)
	if !errors.Is(err, scan.ErrSchemaMismatch) {
		t.Fatalf("expected ErrSchemaMismatch, got %v", err)
	}
}
