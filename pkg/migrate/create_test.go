package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestCreateSQLMigrationBumpsTakenVersion(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	if err := os.WriteFile(filepath.Join(dir, "20260304100000_existing.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	path, err := createSQLMigration(dir, "index processing status", now)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if base := filepath.Base(path); base != "20260304100001_index_processing_status.sql" {
		t.Fatalf("unexpected filename %q", base)
	}
	if err := ValidateDir(dir); err != nil {
		t.Fatalf("dir should stay valid: %v", err)
	}
}

func TestSanitizeName(t *testing.T) {
	cases := map[string]string{
		"Add Anchor Index": "add_anchor_index",
		"  --ipfs/cid--  ": "ipfs_cid",
		"!!!":              "",
	}
	for in, want := range cases {
		if got := sanitizeName(in); got != want {
			t.Errorf("sanitizeName(%q) = %q, want %q", in, got, want)
		}
	}
	if _, err := createSQLMigration(t.TempDir(), "!!!", time.Now()); err == nil || !strings.Contains(err.Error(), "empty") {
		t.Fatalf("expected empty name error, got %v", err)
	}
}
