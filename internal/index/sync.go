package index

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/parser"
	"github.com/starford/linkgraph/internal/storage"
)

// SyncResult counts what one Sync pass did.
type SyncResult struct {
	Ingested  int `json:"ingested"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
	Forgotten int `json:"forgotten"`
}

// Sync walks the source directory and folds every new or changed snapshot
// into the graph p persists:
//   - files whose checksum matches the ledger are skipped
//   - files removed from disk are dropped from the ledger; their entities stay
//   - the resulting graph is saved together with the ingested checksums
func Sync(ctx context.Context, p *Persister, store storage.Provider, logger *slog.Logger) (SyncResult, error) {
	var res SyncResult

	metas, err := store.List("")
	if err != nil {
		return res, fmt.Errorf("index: sync: %w", err)
	}

	checksums, err := p.Checksums(ctx)
	if err != nil {
		return res, fmt.Errorf("index: sync: %w", err)
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if checksums[m.Path] == m.Checksum {
			res.Unchanged++
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			res.Failed++
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if _, err := IngestSource(ctx, p, p.svc, m.Path, data); err != nil {
			res.Failed++
			logger.Warn("sync: ingest failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		res.Ingested++
		logger.Debug("sync: ingested", slog.String("path", m.Path))
	}

	for path := range checksums {
		if _, ok := disk[path]; ok {
			continue
		}
		if err := p.Forget(ctx, path); err != nil {
			logger.Warn("sync: forget failed", slog.String("path", path), slog.String("error", err.Error()))
			continue
		}
		res.Forgotten++
		logger.Debug("sync: forgot removed source", slog.String("path", path))
	}

	info, err := p.Save(ctx)
	if err != nil {
		return res, err
	}
	logger.Info("sync: complete",
		slog.Int("ingested", res.Ingested),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("failed", res.Failed),
		slog.Int("forgotten", res.Forgotten),
		slog.String("snapshot", info.ID))
	return res, nil
}

// IngestSource parses a snapshot file, folds it into svc and stages its
// checksum in the ledger. The checksum is committed by the next Save.
func IngestSource(ctx context.Context, ledger SourceLedger, svc *graphservice.Service, path string, data []byte) (graphservice.IngestResult, error) {
	res, err := parser.Parse(data)
	if err != nil {
		return graphservice.IngestResult{}, fmt.Errorf("index: %s: %w", path, err)
	}
	out, err := svc.Ingest(ctx, res.Observation)
	if err != nil {
		return out, err
	}
	ledger.Stage(path, storage.Checksum(data))
	return out, nil
}
