// Package storage defines the data-area file system abstraction.
package storage

import "github.com/starford/annostore/internal/models"

// Provider is the interface for data-area file operations.
type Provider interface {
	// Root returns the absolute path of the data area.
	Root() string
	// List returns metadata for every document under dir (relative to root).
	List(dir string) ([]models.DocumentMetadata, error)
	// Resolve locates and reads the backing file(s) of a document.
	Resolve(doc string) (*Document, error)
	// WriteVerified atomically replaces path (relative to root) with
	// content once verify accepts the written temporary file.
	WriteVerified(path string, content []byte, verify func(tmpPath string) error) error
}

// Verify *FS satisfies Provider at compile time.
var _ Provider = (*FS)(nil)
