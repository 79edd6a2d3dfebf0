// Package mcpserver exposes the link graph as MCP (Model Context Protocol)
// tools over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/storage"
)

const formatURI = "linkgraph://observation-format"

// Server wraps the MCP server with linkgraph tools.
type Server struct {
	mcp    *server.MCPServer
	graph  *graphservice.Service
	store  storage.Provider
	ledger index.SourceLedger
}

// Option configures a Server.
type Option func(*Server)

// WithLedger makes record_observation save the graph before it reports
// success.
func WithLedger(ledger index.SourceLedger) Option {
	return func(s *Server) {
		s.ledger = ledger
	}
}

// New creates a new MCP server with all tools registered. store may be nil,
// in which case the source tools are omitted.
func New(graph *graphservice.Service, store storage.Provider, version string, opts ...Option) *Server {
	s := &Server{graph: graph, store: store}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = server.NewMCPServer(
		"linkgraph",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("lookup_url",
		mcp.WithDescription("Find the entity recorded for a page URL, with its dates, names, labels, links and backlinks."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http(s) URL")),
	), s.lookupURL)

	s.mcp.AddTool(mcp.NewTool("get_entity",
		mcp.WithDescription("Get an entity by its numeric id."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id (non-negative integer)")),
	), s.getEntity)

	s.mcp.AddTool(mcp.NewTool("get_edges",
		mcp.WithDescription("List the URLs an entity links to and the URLs linking to it."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Entity id (non-negative integer)")),
	), s.getEdges)

	s.mcp.AddTool(mcp.NewTool("record_observation",
		mcp.WithDescription("Record one sighting of a page. Read the "+formatURI+
			" resource for the merge rules."),
		mcp.WithString("url", mcp.Required(), mcp.Description("Absolute http(s) URL of the page")),
		mcp.WithString("date", mcp.Required(), mcp.Description("Observation day, YYYY-MM-DD")),
		mcp.WithString("names", mcp.Description("Comma-separated names")),
		mcp.WithString("labels", mcp.Description("Comma-separated labels")),
		mcp.WithString("links", mcp.Description("Whitespace- or comma-separated outgoing link URLs")),
	), s.recordObservation)

	s.mcp.AddTool(mcp.NewTool("graph_stats",
		mcp.WithDescription("Number of entities and edges in the graph."),
	), s.graphStats)

	if store != nil {
		s.mcp.AddTool(mcp.NewTool("list_sources",
			mcp.WithDescription("List snapshot files in the source directory."),
			mcp.WithString("folder", mcp.Description("Optional folder to list (empty for all)")),
		), s.listSources)

		s.mcp.AddTool(mcp.NewTool("read_source",
			mcp.WithDescription("Read a raw snapshot file."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Relative path to the snapshot (e.g. folder/page.md)")),
		), s.readSource)
	}

	s.mcp.AddResource(
		mcp.NewResource(formatURI, "Observation Format",
			mcp.WithResourceDescription("Fields and merge rules for recording observations."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

func errorResult(err error) *mcp.CallToolResult {
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError("not found")
	}
	return mcp.NewToolResultError(err.Error())
}

func (s *Server) lookupURL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid url: %v", err)), nil
	}
	u.Fragment = ""
	e, err := s.graph.Lookup(ctx, u)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(e), nil
}

func requireID(req mcp.CallToolRequest) (int, error) {
	raw, err := req.RequireString("id")
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("id must be an integer: %q", raw)
	}
	return n, nil
}

func (s *Server) getEntity(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := requireID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.graph.Get(ctx, n)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(e), nil
}

type edgeRef struct {
	ID  int    `json:"id"`
	URL string `json:"url"`
}

func (s *Server) getEdges(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := requireID(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	e, err := s.graph.Get(ctx, n)
	if err != nil {
		return errorResult(err), nil
	}
	resolve := func(ids []int) ([]edgeRef, error) {
		out := make([]edgeRef, 0, len(ids))
		for _, id := range ids {
			t, err := s.graph.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			out = append(out, edgeRef{ID: id, URL: t.URL})
		}
		return out, nil
	}
	links, err := resolve(e.Links)
	if err != nil {
		return errorResult(err), nil
	}
	backlinks, err := resolve(e.Backlinks)
	if err != nil {
		return errorResult(err), nil
	}
	return jsonResult(map[string]any{
		"id":        e.ID,
		"url":       e.URL,
		"links":     links,
		"backlinks": backlinks,
	}), nil
}

func (s *Server) recordObservation(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawDate, err := req.RequireString("date")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	optional := func(key string) string {
		v, _ := req.RequireString(key)
		return v
	}

	page, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid url: %v", err)), nil
	}
	page.Fragment = ""
	date, err := collection.ParseDate(strings.TrimSpace(rawDate))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	obs := models.Observation{
		URL:    page,
		Date:   date,
		Names:  splitList(optional("names"), ","),
		Labels: splitList(optional("labels"), ","),
	}
	for _, raw := range splitList(optional("links"), ", \t\n") {
		ref, err := url.Parse(raw)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid link %q: %v", raw, err)), nil
		}
		target := page.ResolveReference(ref)
		target.Fragment = ""
		obs.Links = append(obs.Links, target)
	}

	res, err := s.graph.Ingest(ctx, obs)
	if err != nil {
		return errorResult(err), nil
	}
	if s.ledger != nil {
		if _, err := s.ledger.Save(ctx); err != nil {
			return errorResult(err), nil
		}
	}
	return jsonResult(res), nil
}

func (s *Server) graphStats(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.graph.Stats(ctx)), nil
}

func (s *Server) listSources(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	folder := ""
	if f, err := req.RequireString("folder"); err == nil {
		folder = f
	}

	metas, err := s.store.List(folder)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(metas) == 0 {
		return mcp.NewToolResultText("no sources found"), nil
	}
	paths := make([]string, 0, len(metas))
	for _, m := range metas {
		paths = append(paths, m.Path)
	}
	return mcp.NewToolResultText(strings.Join(paths, "\n")), nil
}

func (s *Server) readSource(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	data, err := s.store.Read(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func (s *Server) readFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      formatURI,
			MIMEType: "text/markdown",
			Text:     ObservationFormat,
		},
	}, nil
}

// splitList splits s on any of seps, trimming and dropping empty items.
func splitList(s, seps string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return strings.ContainsRune(seps, r)
	})
	out := fields[:0]
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
