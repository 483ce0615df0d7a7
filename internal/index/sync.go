package index

import (
	"log/slog"

	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/storage"
)

// ReadFunc turns the content of a file into its index row. Path and
// Checksum are filled in by the caller.
type ReadFunc func(path string, data []byte) (EntryRow, error)

// Sync walks the project and brings the index up to date:
//   - new/changed files are read and upserted
//   - files removed from disk are deleted from the index
func Sync(db *DB, store storage.Provider, read ReadFunc, logger *slog.Logger) error {
	return walk(db, store, read, logger, false)
}

// Rebuild is Sync without the checksum shortcut. It is used after the
// schema changed, when unchanged files may still index differently.
func Rebuild(db *DB, store storage.Provider, read ReadFunc, logger *slog.Logger) error {
	return walk(db, store, read, logger, true)
}

func walk(db *DB, store storage.Provider, read ReadFunc, logger *slog.Logger, force bool) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}

	checksums, err := db.AllChecksums()
	if err != nil {
		return err
	}

	disk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		disk[m.Path] = struct{}{}

		if !force && checksums[m.Path] == m.Checksum {
			continue
		}

		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := indexFile(db, read, m.Path, data); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
		} else {
			logger.Debug("sync: indexed", slog.String("path", m.Path))
		}
	}

	// Remove stale entries.
	for p := range checksums {
		if _, ok := disk[p]; !ok {
			if err := db.DeleteEntry(p); err != nil {
				logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			} else {
				logger.Debug("sync: removed stale", slog.String("path", p))
			}
		}
	}

	return nil
}

// indexFile reads data into a row and upserts it.
func indexFile(db *DB, read ReadFunc, path string, data []byte) error {
	row, err := read(path, data)
	if err != nil {
		return err
	}
	row.Path = path
	row.Checksum = checksum.Sum(data)
	return db.UpsertEntry(row)
}
