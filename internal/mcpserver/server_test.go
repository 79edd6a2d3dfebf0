package mcpserver

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/storage"
	"github.com/starford/linkgraph/internal/testutil"
)

func testServer(t *testing.T) (*Server, storage.Provider) {
	t.Helper()
	_, store := testutil.TestSource(t)
	srv := New(graphservice.New(), store, "test")
	return srv, store
}

func callTool(t *testing.T, srv *Server, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no direct "call tool" test helper, so dispatch to the
	// handlers by name.
	var (
		result *mcp.CallToolResult
		err    error
	)
	switch name {
	case "lookup_url":
		result, err = srv.lookupURL(ctx, req)
	case "get_entity":
		result, err = srv.getEntity(ctx, req)
	case "get_edges":
		result, err = srv.getEdges(ctx, req)
	case "record_observation":
		result, err = srv.recordObservation(ctx, req)
	case "graph_stats":
		result, err = srv.graphStats(ctx, req)
	case "list_sources":
		result, err = srv.listSources(ctx, req)
	case "read_source":
		result, err = srv.readSource(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func TestRecordAndLookup(t *testing.T) {
	srv, _ := testServer(t)

	r := callTool(t, srv, "record_observation", map[string]any{
		"url":    "https://example.com/a",
		"date":   "2020-01-10",
		"names":  "Alpha, A",
		"labels": "news",
		"links":  "https://example.com/b\n/c",
	})
	if r.IsError {
		t.Fatalf("record failed: %s", resultText(r))
	}
	var res graphservice.IngestResult
	if err := json.Unmarshal([]byte(resultText(r)), &res); err != nil {
		t.Fatal(err)
	}
	if !res.Created || res.EdgesAdded != 2 {
		t.Errorf("result = %+v", res)
	}

	r = callTool(t, srv, "lookup_url", map[string]any{"url": "https://example.com/a#top"})
	if r.IsError {
		t.Fatalf("lookup failed: %s", resultText(r))
	}
	var e graphservice.EntityView
	if err := json.Unmarshal([]byte(resultText(r)), &e); err != nil {
		t.Fatal(err)
	}
	if len(e.Names) != 2 || e.Names[0] != "A" || e.Names[1] != "Alpha" {
		t.Errorf("names = %v", e.Names)
	}
	if len(e.Labels) != 1 || e.Labels[0] != "news" {
		t.Errorf("labels = %v", e.Labels)
	}
}

func TestRecordObservation_SavesWithLedger(t *testing.T) {
	_, store := testutil.TestSource(t)
	db := testutil.TestDB(t)
	graph := graphservice.New()
	srv := New(graph, store, "test", WithLedger(index.NewPersister(db, graph)))

	r := callTool(t, srv, "record_observation", map[string]any{
		"url": "https://example.com/a", "date": "2020-01-10", "links": "https://example.com/b",
	})
	if r.IsError {
		t.Fatalf("record failed: %s", resultText(r))
	}
	snap, err := db.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(snap.Entities) != 2 {
		t.Errorf("persisted %d entities, want 2", len(snap.Entities))
	}
}

func TestRecordObservation_Invalid(t *testing.T) {
	srv, _ := testServer(t)
	cases := map[string]map[string]any{
		"missing date": {"url": "https://a"},
		"bad date":     {"url": "https://a", "date": "tomorrow"},
		"relative url": {"url": "/a", "date": "2020-01-10"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if r := callTool(t, srv, "record_observation", args); !r.IsError {
				t.Errorf("expected error, got %q", resultText(r))
			}
		})
	}
}

func TestGetEntityAndEdges(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "record_observation", map[string]any{
		"url": "https://a", "date": "2020-01-10", "links": "https://b",
	})

	r := callTool(t, srv, "get_entity", map[string]any{"id": "1"})
	if r.IsError || !strings.Contains(resultText(r), `"url": "https://b"`) {
		t.Errorf("get_entity = %q", resultText(r))
	}

	r = callTool(t, srv, "get_edges", map[string]any{"id": "0"})
	if r.IsError {
		t.Fatalf("get_edges failed: %s", resultText(r))
	}
	var edges struct {
		Links     []edgeRef `json:"links"`
		Backlinks []edgeRef `json:"backlinks"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &edges); err != nil {
		t.Fatal(err)
	}
	if len(edges.Links) != 1 || edges.Links[0].URL != "https://b" || len(edges.Backlinks) != 0 {
		t.Errorf("edges = %+v", edges)
	}

	for _, id := range []string{"7", "-1", "x"} {
		if r := callTool(t, srv, "get_entity", map[string]any{"id": id}); !r.IsError {
			t.Errorf("id %s: expected error", id)
		}
	}
}

func TestGraphStats(t *testing.T) {
	srv, _ := testServer(t)
	callTool(t, srv, "record_observation", map[string]any{
		"url": "https://a", "date": "2020-01-10", "links": "https://a, https://b",
	})
	r := callTool(t, srv, "graph_stats", map[string]any{})
	var st graphservice.Stats
	if err := json.Unmarshal([]byte(resultText(r)), &st); err != nil {
		t.Fatal(err)
	}
	if st.Entities != 2 || st.Edges != 2 {
		t.Errorf("stats = %+v", st)
	}
}

func TestSources(t *testing.T) {
	srv, store := testServer(t)
	_ = store.Write("a.md", testutil.Snapshot("https://a", "2020-01-10"))
	_ = store.Write("sub/b.md", testutil.Snapshot("https://b", "2020-01-10"))

	r := callTool(t, srv, "list_sources", map[string]any{})
	if text := resultText(r); text != "a.md\nsub/b.md" {
		t.Errorf("list = %q", text)
	}

	r = callTool(t, srv, "read_source", map[string]any{"path": "a.md"})
	if !strings.Contains(resultText(r), "url: https://a") {
		t.Errorf("read = %q", resultText(r))
	}

	r = callTool(t, srv, "read_source", map[string]any{"path": "nope.md"})
	if !r.IsError {
		t.Error("expected error for missing source")
	}
}

func TestLookupUnknown(t *testing.T) {
	srv, _ := testServer(t)
	r := callTool(t, srv, "lookup_url", map[string]any{"url": "https://nowhere"})
	if !r.IsError || resultText(r) != "not found" {
		t.Errorf("lookup unknown = %q (error=%v)", resultText(r), r.IsError)
	}
}

func TestFormatResource(t *testing.T) {
	srv, _ := testServer(t)
	contents, err := srv.readFormatResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != formatURI || !strings.Contains(tc.Text, "created_at") {
		t.Errorf("resource = %+v", contents[0])
	}
}
