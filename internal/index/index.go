package index

import (
	"context"
)

// SourceLedger tracks which source files the persisted graph reflects.
// Staged checksums become durable together with the next saved snapshot.
// Consumers outside this package should depend on it rather than on *DB.
type SourceLedger interface {
	Stage(path, checksum string)
	Forget(ctx context.Context, path string) error
	Save(ctx context.Context) (*SnapshotInfo, error)
	LatestSnapshot(ctx context.Context) (*SnapshotInfo, error)
}

var _ SourceLedger = (*Persister)(nil)
