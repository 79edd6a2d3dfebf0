package index

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/starford/linkgraph/internal/graphservice"
)

// Persister writes the in-memory graph to the database together with the
// checksums of the sources folded into it since the previous save. A source
// only counts as ingested once a snapshot that contains it has committed, so
// a crash between ingest and save makes the next Sync ingest it again.
type Persister struct {
	db  *DB
	svc *graphservice.Service

	saveMu sync.Mutex // serializes Save and Forget

	mu      sync.Mutex
	pending map[string]string
}

// NewPersister returns a Persister that saves svc into db.
func NewPersister(db *DB, svc *graphservice.Service) *Persister {
	return &Persister{
		db:      db,
		svc:     svc,
		pending: make(map[string]string),
	}
}

// Stage records that the content with checksum has been folded into the
// graph. It becomes durable with the next Save.
func (p *Persister) Stage(path, checksum string) {
	p.mu.Lock()
	p.pending[path] = checksum
	p.mu.Unlock()
}

// Checksums returns the committed ledger overlaid with staged entries.
func (p *Persister) Checksums(ctx context.Context) (map[string]string, error) {
	out, err := p.db.AllChecksums(ctx)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	for path, cs := range p.pending {
		out[path] = cs
	}
	p.mu.Unlock()
	return out, nil
}

// Forget drops path from the ledger, staged or committed.
func (p *Persister) Forget(ctx context.Context, path string) error {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	delete(p.pending, path)
	p.mu.Unlock()
	return p.db.DeleteSource(ctx, path)
}

// Save persists the current graph and every staged checksum in one
// transaction. On failure the staged entries are kept for the next attempt.
func (p *Persister) Save(ctx context.Context) (*SnapshotInfo, error) {
	p.saveMu.Lock()
	defer p.saveMu.Unlock()

	p.mu.Lock()
	staged := p.pending
	p.pending = make(map[string]string)
	p.mu.Unlock()

	// Staging happens after ingest, so the snapshot taken here already
	// contains every drained source.
	info, err := p.db.SaveSnapshot(ctx, p.svc.Snapshot(), sourceList(staged)...)
	if err != nil {
		p.mu.Lock()
		for path, cs := range staged {
			if _, ok := p.pending[path]; !ok {
				p.pending[path] = cs
			}
		}
		p.mu.Unlock()
		return nil, err
	}
	return info, nil
}

// LatestSnapshot reports the most recent committed snapshot.
func (p *Persister) LatestSnapshot(ctx context.Context) (*SnapshotInfo, error) {
	return p.db.LatestSnapshot(ctx)
}

func sourceList(m map[string]string) []SourceChecksum {
	out := make([]SourceChecksum, 0, len(m))
	for path, cs := range m {
		out = append(out, SourceChecksum{Path: path, Checksum: cs})
	}
	slices.SortFunc(out, func(a, b SourceChecksum) int { return cmp.Compare(a.Path, b.Path) })
	return out
}
