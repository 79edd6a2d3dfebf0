package index

import (
	"context"
	"errors"
	"net/url"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "linkgraph-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// sampleService builds a small graph:
// a(2020-01-03, seen again 01-01 and 01-05) -> b, c; c -> a.
func sampleService(t *testing.T) *graphservice.Service {
	t.Helper()
	svc := graphservice.New()
	ingest := func(page string, d int, names, labels []string, links ...string) {
		u, _ := url.Parse(page)
		o := models.Observation{URL: u, Date: collection.NewDate(2020, time.January, d), Names: names, Labels: labels}
		for _, l := range links {
			lu, _ := url.Parse(l)
			o.Links = append(o.Links, lu)
		}
		if _, err := svc.Ingest(context.Background(), o); err != nil {
			t.Fatalf("Ingest: %v", err)
		}
	}
	ingest("https://example.com/a", 3, []string{"Alpha"}, []string{"news"}, "https://example.com/b", "https://example.com/c")
	ingest("https://example.com/a", 1, []string{"A"}, nil)
	ingest("https://example.com/a", 5, nil, []string{"go"})
	ingest("https://example.com/c", 2, nil, nil, "https://example.com/a")
	return svc
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"entities", "entity_dates", "entity_names", "entity_labels", "edges", "sources", "snapshots"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
	if err := db.PingContext(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	snap := sampleService(t).Snapshot()

	info, err := db.SaveSnapshot(ctx, snap)
	if err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if info.ID == "" || info.Entities != 3 || info.Edges != 3 {
		t.Errorf("info = %+v, want 3 entities and 3 edges", info)
	}

	loaded, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if !reflect.DeepEqual(loaded, snap) {
		t.Errorf("loaded snapshot differs\n got: %+v\nwant: %+v", loaded, snap)
	}

	restored := graphservice.New()
	if err := restored.Restore(loaded); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !reflect.DeepEqual(restored.Snapshot(), snap) {
		t.Error("restored service does not match the original")
	}
}

func TestSaveSnapshot_ReplacesPrevious(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.SaveSnapshot(ctx, sampleService(t).Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	small := graphservice.New()
	u, _ := url.Parse("https://only.example")
	if _, err := small.Ingest(ctx, models.Observation{URL: u, Date: collection.NewDate(2021, time.March, 1)}); err != nil {
		t.Fatal(err)
	}
	if _, err := db.SaveSnapshot(ctx, small.Snapshot()); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	loaded, err := db.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(loaded.Entities) != 1 || loaded.Entities[0].URL != "https://only.example" {
		t.Errorf("entities = %+v", loaded.Entities)
	}

	var snapshots int
	if err := db.conn.QueryRow(`SELECT count(*) FROM snapshots`).Scan(&snapshots); err != nil {
		t.Fatal(err)
	}
	if snapshots != 2 {
		t.Errorf("snapshot rows = %d, want 2", snapshots)
	}
}

func TestLoadSnapshot_Empty(t *testing.T) {
	db := testDB(t)
	snap, err := db.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap.Entities) != 0 {
		t.Errorf("expected empty snapshot, got %d entities", len(snap.Entities))
	}
}

func TestLatestSnapshot(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.LatestSnapshot(ctx); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	saved, err := db.SaveSnapshot(ctx, sampleService(t).Snapshot())
	if err != nil {
		t.Fatal(err)
	}
	latest, err := db.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != saved.ID || latest.Entities != 3 {
		t.Errorf("latest = %+v, want id %s", latest, saved.ID)
	}
}

func checksumOf(ctx context.Context, db *DB, path string) (string, error) {
	all, err := db.AllChecksums(ctx)
	if err != nil {
		return "", err
	}
	return all[path], nil
}

func TestLatestSnapshot_BackToBack(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	snap := sampleService(t).Snapshot()

	var last *SnapshotInfo
	for range 3 {
		info, err := db.SaveSnapshot(ctx, snap)
		if err != nil {
			t.Fatal(err)
		}
		last = info
	}
	latest, err := db.LatestSnapshot(ctx)
	if err != nil {
		t.Fatalf("LatestSnapshot: %v", err)
	}
	if latest.ID != last.ID {
		t.Errorf("latest = %s, want last saved %s", latest.ID, last.ID)
	}
}

func TestChecksums(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	snap := sampleService(t).Snapshot()

	cs, err := checksumOf(ctx, db, "nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}

	if _, err := db.SaveSnapshot(ctx, snap, SourceChecksum{"a.md", "1"}, SourceChecksum{"b.md", "3"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	if _, err := db.SaveSnapshot(ctx, snap, SourceChecksum{"a.md", "2"}); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}

	all, err := db.AllChecksums(ctx)
	if err != nil {
		t.Fatalf("AllChecksums: %v", err)
	}
	if len(all) != 2 || all["a.md"] != "2" || all["b.md"] != "3" {
		t.Errorf("all = %v", all)
	}

	if err := db.DeleteSource(ctx, "a.md"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	if cs, _ := checksumOf(ctx, db, "a.md"); cs != "" {
		t.Errorf("deleted source still has checksum %q", cs)
	}
}
