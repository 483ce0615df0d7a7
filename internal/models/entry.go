// Package models defines the domain types shared by storage, index and the
// transports.
package models

import (
	"time"

	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/meta"
)

// Entry is a content document as read from disk.
type Entry struct {
	Path        string    `json:"path"`
	Collection  string    `json:"collection,omitempty"`
	Content     []byte    `json:"-"`
	Meta        *meta.Map `json:"meta"`
	Body        string    `json:"body"`
	Unknown     []string  `json:"unknown,omitempty"`
	Title       string    `json:"title,omitempty"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
	Diagnostics diag.List `json:"diagnostics,omitempty"`
}

// EntryMetadata is a lightweight representation returned by list operations.
type EntryMetadata struct {
	Path       string    `json:"path"`
	Collection string    `json:"collection,omitempty"`
	Checksum   string    `json:"checksum"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FileInfo is the on-disk identity of a file.
type FileInfo struct {
	Path     string    `json:"path"`
	Checksum string    `json:"checksum"`
	ModTime  time.Time `json:"mod_time"`
}
