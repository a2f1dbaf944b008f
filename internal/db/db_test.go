package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestOpen_CreatesDatabaseInWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(context.Background(), Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(filepath.Join(dir, ".plantdash", "plantdash.db")); err != nil {
		t.Fatalf("db file not created: %v", err)
	}
	var mode string
	if err := conn.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("expected wal journal mode, got %s", mode)
	}
}

func TestOpen_UnusablePathIsStorageUnavailable(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Open(context.Background(), Config{Path: filepath.Join(blocker, "sub", "x.db")})
	var sue *StorageUnavailableError
	if !errors.As(err, &sue) {
		t.Fatalf("expected StorageUnavailableError, got %v", err)
	}
}
