package internal

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/starford/linkgraph/internal/export"
	"github.com/starford/linkgraph/internal/testutil"
)

func testConfig(t *testing.T) (*Config, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := NewDefaultConfig()
	cfg.Source.Path = filepath.Join(dir, "sources")
	cfg.SQLite.Path = filepath.Join(dir, "linkgraph.db")
	return cfg, cfg.Source.Path
}

func quietOpts(cfg *Config) []Option {
	return []Option{WithConfig(cfg), WithLogOutput(io.Discard)}
}

func TestRun_RequiresConfig(t *testing.T) {
	if err := Run(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestIngest_PersistsAcrossRuns(t *testing.T) {
	ctx := context.Background()
	cfg, dir := testConfig(t)
	testutil.WriteSnapshot(t, dir, "a.md", testutil.Snapshot("https://a.example/", "2022-06-01", "https://b.example/"))
	testutil.WriteSnapshot(t, dir, "sub/b.md", testutil.Snapshot("https://b.example/", "2022-05-01"))

	res, err := Ingest(ctx, quietOpts(cfg)...)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Ingested != 2 || res.Failed != 0 {
		t.Fatalf("first pass = %+v", res)
	}

	res, err = Ingest(ctx, quietOpts(cfg)...)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Ingested != 0 || res.Unchanged != 2 {
		t.Fatalf("second pass = %+v", res)
	}

	var buf bytes.Buffer
	if err := Export(ctx, &buf, export.Options{}, quietOpts(cfg)...); err != nil {
		t.Fatalf("Export: %v", err)
	}
	doc, err := export.Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Nodes) != 2 || len(doc.Edges) != 1 {
		t.Fatalf("doc = %+v", doc)
	}
	if got := doc.Nodes[1].CreatedAt.String(); got != "2022-05-01" {
		t.Errorf("b created_at = %s, want earliest date", got)
	}
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src, dir := testConfig(t)
	testutil.WriteSnapshot(t, dir, "a.md", testutil.Snapshot("https://a.example/", "2022-06-01", "https://b.example/", "https://c.example/"))
	if _, err := Ingest(ctx, quietOpts(src)...); err != nil {
		t.Fatal(err)
	}

	var archive bytes.Buffer
	if err := Export(ctx, &archive, export.Options{Compress: true}, quietOpts(src)...); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst, _ := testConfig(t)
	if err := Import(ctx, bytes.NewReader(archive.Bytes()), quietOpts(dst)...); err != nil {
		t.Fatalf("Import: %v", err)
	}

	var out bytes.Buffer
	if err := Export(ctx, &out, export.Options{}, quietOpts(dst)...); err != nil {
		t.Fatal(err)
	}
	doc, err := export.Read(&out)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Nodes) != 3 || len(doc.Edges) != 2 {
		t.Fatalf("imported doc = %+v", doc)
	}
	if doc.Nodes[0].URL != "https://a.example/" || doc.Edges[1].Target != 2 {
		t.Errorf("imported doc = %+v", doc)
	}
}

func TestImport_RejectsGarbage(t *testing.T) {
	cfg, _ := testConfig(t)
	err := Import(context.Background(), bytes.NewReader([]byte("nope")), quietOpts(cfg)...)
	if err == nil {
		t.Fatal("expected error")
	}
}
