package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/storage"
)

func TestPersister_UnsavedIngestIsRedoneAfterRestart(t *testing.T) {
	dir, store, db := sourceEnv(t)
	ctx := context.Background()

	data := page("https://example.com/a", "2020-01-10", "https://example.com/b")
	if err := os.WriteFile(filepath.Join(dir, "a.md"), data, 0o644); err != nil {
		t.Fatal(err)
	}

	// Ingest without saving, as if the process died before the debounce fired.
	svc := graphservice.New()
	p := NewPersister(db, svc)
	if _, err := IngestSource(ctx, p, svc, "a.md", data); err != nil {
		t.Fatalf("IngestSource: %v", err)
	}
	if cs, _ := checksumOf(ctx, db, "a.md"); cs != "" {
		t.Fatalf("checksum committed before any snapshot: %q", cs)
	}

	restarted := graphservice.New()
	snap, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := restarted.Restore(snap); err != nil {
		t.Fatal(err)
	}
	res, err := Sync(ctx, NewPersister(db, restarted), store, quietLogger())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Ingested != 1 || res.Unchanged != 0 {
		t.Errorf("result = %+v, want a.md ingested again", res)
	}
	if st := restarted.Stats(ctx); st.Entities != 2 || st.Edges != 1 {
		t.Errorf("stats = %+v, want 2 entities and 1 edge", st)
	}
}

func TestPersister_SaveCommitsLedgerWithGraph(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	svc := graphservice.New()
	p := NewPersister(db, svc)

	data := page("https://example.com/a", "2020-01-10", "https://example.com/b")
	if _, err := IngestSource(ctx, p, svc, "a.md", data); err != nil {
		t.Fatal(err)
	}
	staged, err := p.Checksums(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if staged["a.md"] != storage.Checksum(data) {
		t.Errorf("staged checksum = %q", staged["a.md"])
	}

	info, err := p.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if info.Entities != 2 {
		t.Errorf("saved %d entities, want 2", info.Entities)
	}
	if cs, _ := checksumOf(ctx, db, "a.md"); cs != storage.Checksum(data) {
		t.Errorf("committed checksum = %q", cs)
	}
	loaded, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded.Entities) != 2 {
		t.Errorf("persisted %d entities, want 2", len(loaded.Entities))
	}
	latest, err := p.LatestSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID != info.ID {
		t.Errorf("latest = %s, want %s", latest.ID, info.ID)
	}
}

func TestPersister_ForgetDropsStaged(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := NewPersister(db, graphservice.New())

	p.Stage("a.md", "1")
	if err := p.Forget(ctx, "a.md"); err != nil {
		t.Fatalf("Forget: %v", err)
	}
	if _, err := p.Save(ctx); err != nil {
		t.Fatal(err)
	}
	if cs, _ := checksumOf(ctx, db, "a.md"); cs != "" {
		t.Errorf("forgotten source committed with checksum %q", cs)
	}
}

func TestPersister_FailedSaveKeepsStaged(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	p := NewPersister(db, graphservice.New())

	p.Stage("a.md", "1")
	db.Close()
	if _, err := p.Save(ctx); err == nil {
		t.Fatal("expected error saving to a closed database")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending["a.md"] != "1" {
		t.Errorf("pending = %v, want a.md kept for retry", p.pending)
	}
}
