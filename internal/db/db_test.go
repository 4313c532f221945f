package db

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printer_data", "database", DefaultName)
	conn, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("directory not created: %v", err)
	}
}

func TestOpenFailsOnUnusablePath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	// parent is a regular file, so the directory cannot be created
	if _, err := Open(Config{Path: filepath.Join(blocker, "sub", DefaultName)}); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := Open(Config{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
