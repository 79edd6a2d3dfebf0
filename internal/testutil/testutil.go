// Package testutil provides shared test helpers for source directories,
// databases and snapshot files.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "linkgraph-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestSource creates a temporary source directory with a storage provider.
func TestSource(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Snapshot renders a minimal snapshot file for pageURL observed on date
// (YYYY-MM-DD) that links to every URL in links.
func Snapshot(pageURL, date string, links ...string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "---\nurl: %s\ndate: %s\n---\n", pageURL, date)
	for _, l := range links {
		fmt.Fprintf(&b, "- <%s>\n", l)
	}
	return []byte(b.String())
}

// WriteSnapshot writes a snapshot file at rel under dir.
func WriteSnapshot(t *testing.T, dir, rel string, data []byte) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}
