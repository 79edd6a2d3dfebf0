// Package export writes the link graph as a portable JSON document,
// optionally zstd-compressed, and reads it back.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/starford/linkgraph/internal/collection"
	"github.com/starford/linkgraph/internal/graphservice"
)

// FormatVersion is written into every document.
const FormatVersion = 1

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Options controls Write.
type Options struct {
	// Compress wraps the JSON stream in zstd.
	Compress bool
	// Level is the zstd level (1-22); zero means the library default.
	Level int
}

// Node is one entity in an exported document.
type Node struct {
	ID        int               `json:"id"`
	URL       string            `json:"url"`
	CreatedAt collection.Date   `json:"created_at"`
	UpdatedAt []collection.Date `json:"updated_at,omitempty"`
	Names     []string          `json:"names,omitempty"`
	Labels    []string          `json:"labels,omitempty"`
}

// Edge is one directed link. Edges of the same source keep insertion order.
type Edge struct {
	Source int `json:"source"`
	Target int `json:"target"`
}

// Document is the exported graph.
type Document struct {
	Version    int       `json:"version"`
	ExportedAt time.Time `json:"exported_at"`
	Nodes      []Node    `json:"nodes"`
	Edges      []Edge    `json:"edges"`
}

// NewDocument converts a snapshot into a document.
func NewDocument(snap *graphservice.Snapshot) *Document {
	doc := &Document{
		Version:    FormatVersion,
		ExportedAt: time.Now().UTC(),
		Nodes:      make([]Node, 0, len(snap.Entities)),
		Edges:      make([]Edge, 0, snap.EdgeCount()),
	}
	for _, e := range snap.Entities {
		doc.Nodes = append(doc.Nodes, Node{
			ID:        e.ID,
			URL:       e.URL,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
			Names:     e.Names,
			Labels:    e.Labels,
		})
		for _, t := range e.Links {
			doc.Edges = append(doc.Edges, Edge{Source: e.ID, Target: t})
		}
	}
	return doc
}

// Snapshot converts the document back into a snapshot suitable for
// graphservice.Service.Restore.
func (d *Document) Snapshot() (*graphservice.Snapshot, error) {
	snap := &graphservice.Snapshot{Entities: make([]graphservice.EntityView, len(d.Nodes))}
	for i, n := range d.Nodes {
		if n.ID != i {
			return nil, fmt.Errorf("export: node at position %d has id %d", i, n.ID)
		}
		snap.Entities[i] = graphservice.EntityView{
			ID:        n.ID,
			URL:       n.URL,
			CreatedAt: n.CreatedAt,
			UpdatedAt: orEmpty(n.UpdatedAt),
			Names:     orEmpty(n.Names),
			Labels:    orEmpty(n.Labels),
			Links:     []int{},
		}
	}
	for _, e := range d.Edges {
		if e.Source < 0 || e.Source >= len(snap.Entities) {
			return nil, fmt.Errorf("export: edge from unknown node %d", e.Source)
		}
		src := &snap.Entities[e.Source]
		src.Links = append(src.Links, e.Target)
	}
	return snap, nil
}

// Write encodes snap to w.
func Write(w io.Writer, snap *graphservice.Snapshot, opts Options) error {
	out := w
	var enc *zstd.Encoder
	if opts.Compress {
		var zopts []zstd.EOption
		if opts.Level > 0 {
			zopts = append(zopts, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(opts.Level)))
		}
		var err error
		enc, err = zstd.NewWriter(w, zopts...)
		if err != nil {
			return fmt.Errorf("export: create compressor: %w", err)
		}
		out = enc
	}

	jenc := json.NewEncoder(out)
	jenc.SetIndent("", "  ")
	if err := jenc.Encode(NewDocument(snap)); err != nil {
		if enc != nil {
			_ = enc.Close()
		}
		return fmt.Errorf("export: encode: %w", err)
	}
	if enc != nil {
		if err := enc.Close(); err != nil {
			return fmt.Errorf("export: flush compressor: %w", err)
		}
	}
	return nil
}

// Read decodes a document written by Write. Compression is detected from
// the zstd frame magic.
func Read(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("export: read header: %w", err)
	}

	var in io.Reader = br
	if bytes.Equal(head, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("export: create decompressor: %w", err)
		}
		defer dec.Close()
		in = dec
	}

	var doc Document
	if err := json.NewDecoder(in).Decode(&doc); err != nil {
		return nil, fmt.Errorf("export: decode: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("export: unsupported version %d", doc.Version)
	}
	return &doc, nil
}

func orEmpty[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
