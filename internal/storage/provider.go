// Package storage abstracts the source directory holding page snapshot files.
package storage

import "github.com/starford/linkgraph/internal/models"

// Provider is the interface for snapshot file operations. Paths are relative
// to the source root.
type Provider interface {
	// List returns metadata for every snapshot (.md) file under dir.
	List(dir string) ([]models.SourceMetadata, error)
	// Read returns the raw bytes of the snapshot at path.
	Read(path string) ([]byte, error)
	// Write atomically stores content at path.
	Write(path string, content []byte) error
	// Delete removes the snapshot at path.
	Delete(path string) error
}
