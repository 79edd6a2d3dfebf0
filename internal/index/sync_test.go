package index

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func page(rawURL, date string, links ...string) []byte {
	body := "---\nurl: " + rawURL + "\ndate: " + date + "\n---\n"
	for _, l := range links {
		body += "See [link](" + l + ").\n"
	}
	return []byte(body)
}

func sourceEnv(t *testing.T) (string, *storage.FS, *DB) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store, testDB(t)
}

func TestSync_IngestsAndSkipsUnchanged(t *testing.T) {
	dir, store, db := sourceEnv(t)
	ctx := context.Background()
	svc := graphservice.New()

	_ = os.WriteFile(filepath.Join(dir, "a.md"), page("https://example.com/a", "2020-01-10", "https://example.com/b"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "bad.md"), []byte("no frontmatter"), 0o644)
	_ = os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not a snapshot"), 0o644)

	res, err := Sync(ctx, NewPersister(db, svc), store, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Ingested != 1 || res.Failed != 1 {
		t.Errorf("result = %+v, want 1 ingested and 1 failed", res)
	}
	if st := svc.Stats(ctx); st.Entities != 2 || st.Edges != 1 {
		t.Errorf("stats = %+v", st)
	}
	if cs, _ := checksumOf(ctx, db, "a.md"); cs == "" {
		t.Error("a.md checksum not recorded")
	}

	res, err = Sync(ctx, NewPersister(db, svc), store, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Ingested != 0 || res.Unchanged != 1 {
		t.Errorf("second result = %+v, want a.md unchanged", res)
	}

	loaded, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entities) != 2 {
		t.Errorf("persisted %d entities, want 2", len(loaded.Entities))
	}
}

func TestSync_RemovedSourceKeepsEntities(t *testing.T) {
	dir, store, db := sourceEnv(t)
	ctx := context.Background()
	svc := graphservice.New()

	path := filepath.Join(dir, "gone.md")
	_ = os.WriteFile(path, page("https://example.com/gone", "2020-01-10"), 0o644)
	if _, err := Sync(ctx, NewPersister(db, svc), store, quietLogger()); err != nil {
		t.Fatal(err)
	}
	_ = os.Remove(path)

	res, err := Sync(ctx, NewPersister(db, svc), store, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if res.Forgotten != 1 {
		t.Errorf("forgotten = %d, want 1", res.Forgotten)
	}
	if cs, _ := checksumOf(ctx, db, "gone.md"); cs != "" {
		t.Error("removed source still in ledger")
	}
	u, _ := url.Parse("https://example.com/gone")
	if _, err := svc.Lookup(ctx, u); err != nil {
		t.Errorf("entity dropped with its source: %v", err)
	}
}

func TestSync_ChangedFileMerges(t *testing.T) {
	dir, store, db := sourceEnv(t)
	ctx := context.Background()
	svc := graphservice.New()

	path := filepath.Join(dir, "x.md")
	_ = os.WriteFile(path, page("https://x", "2020-01-10"), 0o644)
	if _, err := Sync(ctx, NewPersister(db, svc), store, quietLogger()); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(path, page("https://x", "2020-01-05", "https://y"), 0o644)
	if _, err := Sync(ctx, NewPersister(db, svc), store, quietLogger()); err != nil {
		t.Fatal(err)
	}

	u, _ := url.Parse("https://x")
	x, err := svc.Lookup(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if x.CreatedAt.String() != "2020-01-05" {
		t.Errorf("created_at = %s, want 2020-01-05", x.CreatedAt)
	}
	if len(x.UpdatedAt) != 1 || x.UpdatedAt[0].String() != "2020-01-10" {
		t.Errorf("updated_at = %v, want [2020-01-10]", x.UpdatedAt)
	}
	if st := svc.Stats(ctx); st.Entities != 2 {
		t.Errorf("entities = %d, want 2", st.Entities)
	}
}
