package api

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/starford/linkgraph/internal/apperr"
	"github.com/starford/linkgraph/internal/graphservice"
	"github.com/starford/linkgraph/internal/index"
	"github.com/starford/linkgraph/internal/models"
	"github.com/starford/linkgraph/internal/parser"
	"github.com/starford/linkgraph/internal/storage"
)

// SourceService coordinates the source directory, the ingest ledger and the
// graph for uploads made through the API.
type SourceService struct {
	store  storage.Provider
	ledger index.SourceLedger
	graph  *graphservice.Service
}

// NewSourceService creates a new source service.
func NewSourceService(store storage.Provider, ledger index.SourceLedger, graph *graphservice.Service) *SourceService {
	return &SourceService{store: store, ledger: ledger, graph: graph}
}

// List returns every snapshot file in the source directory.
func (s *SourceService) List() ([]models.SourceMetadata, error) {
	metas, err := s.store.List("")
	if err != nil {
		return nil, err
	}
	if metas == nil {
		metas = []models.SourceMetadata{}
	}
	return metas, nil
}

// Read returns the raw snapshot at path.
func (s *SourceService) Read(path string) ([]byte, error) {
	data, err := s.store.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("api: read source %s: %w", path, apperr.ErrNotFound)
	}
	return data, err
}

// Put validates data as a snapshot, stores it at path and ingests it. The
// graph and ledger are saved before Put returns. Invalid content is rejected
// before anything is written.
func (s *SourceService) Put(ctx context.Context, path string, data []byte) (graphservice.IngestResult, error) {
	if !storage.IsSnapshot(path) {
		return graphservice.IngestResult{}, fmt.Errorf("%w: source path must end in %s", apperr.ErrInvalidObservation, storage.SnapshotExt)
	}
	if _, err := parser.Parse(data); err != nil {
		return graphservice.IngestResult{}, err
	}
	if err := s.store.Write(path, data); err != nil {
		return graphservice.IngestResult{}, err
	}
	res, err := index.IngestSource(ctx, s.ledger, s.graph, path, data)
	if err != nil {
		return res, err
	}
	if _, err := s.ledger.Save(ctx); err != nil {
		return res, fmt.Errorf("api: put source %s: %w", path, err)
	}
	return res, nil
}

// Delete removes the snapshot file and forgets it in the ledger. Entities it
// contributed stay in the graph.
func (s *SourceService) Delete(ctx context.Context, path string) error {
	if err := s.store.Delete(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("api: delete source %s: %w", path, apperr.ErrNotFound)
		}
		return err
	}
	return s.ledger.Forget(ctx, path)
}
