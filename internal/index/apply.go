package index

import (
	"errors"
	"io/fs"

	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/watch"
)

// Event kinds reported by Apply.
const (
	KindCreated = "created"
	KindUpdated = "updated"
	KindDeleted = "deleted"
)

// Apply brings the index in line with one change notification and returns
// what happened to the entry, or "" when the index already matched.
func Apply(db *DB, store storage.Provider, read ReadFunc, n watch.Notification) (string, error) {
	stored, err := db.GetChecksum(n.Path)
	if err != nil {
		return "", err
	}

	remove := func() (string, error) {
		if stored == "" {
			return "", nil
		}
		if err := db.DeleteEntry(n.Path); err != nil {
			return "", err
		}
		return KindDeleted, nil
	}

	if n.Op == watch.OpRemove {
		return remove()
	}
	data, err := store.Read(n.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return remove()
	}
	if err != nil {
		return "", err
	}
	if stored == checksum.Sum(data) {
		return "", nil
	}
	if err := indexFile(db, read, n.Path, data); err != nil {
		return "", err
	}
	if stored == "" {
		return KindCreated, nil
	}
	return KindUpdated, nil
}
