// Package storage defines the project file-system abstraction.
package storage

import "github.com/starford/folio/internal/models"

// Provider is the interface for content file operations. Paths are
// relative to the project root.
type Provider interface {
	// List returns metadata for every content file under dir.
	List(dir string) ([]models.EntryMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Stat returns the checksum and modification time of the file at path.
	Stat(path string) (models.FileInfo, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}
