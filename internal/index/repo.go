package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/folio/internal/apperr"
)

// EntryRow represents a row in the entries table. Meta is the entry's
// metadata as a JSON object.
type EntryRow struct {
	Path       string          `json:"path"`
	Collection string          `json:"collection,omitempty"`
	Title      string          `json:"title,omitempty"`
	Checksum   string          `json:"checksum"`
	Meta       json.RawMessage `json:"meta,omitempty"`
	Body       string          `json:"-"`
	Errors     int             `json:"errors"`
	Warnings   int             `json:"warnings"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// SearchResult represents one search hit.
type SearchResult struct {
	Path       string `json:"path"`
	Collection string `json:"collection,omitempty"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
}

// UpsertEntry inserts or replaces an entry and its FTS row within a transaction.
func (db *DB) UpsertEntry(e EntryRow) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	metaJSON := string(e.Meta)
	if metaJSON == "" {
		metaJSON = "{}"
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}

	_, err = tx.Exec(`
		INSERT INTO entries (path, collection, title, checksum, meta, body, errors, warnings, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			collection = excluded.collection,
			title      = excluded.title,
			checksum   = excluded.checksum,
			meta       = excluded.meta,
			body       = excluded.body,
			errors     = excluded.errors,
			warnings   = excluded.warnings,
			updated_at = excluded.updated_at
	`, e.Path, e.Collection, e.Title, e.Checksum, metaJSON, e.Body, e.Errors, e.Warnings, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert entry: %w", err)
	}

	// FTS upsert (no-op when FTS5 tag is absent).
	if err := ftsUpsert(tx, e.Path, e.Collection, e.Title, e.Body); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteEntry removes an entry and its FTS row.
func (db *DB) DeleteEntry(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	if _, err := tx.Exec(`DELETE FROM entries WHERE path = ?`, path); err != nil {
		return fmt.Errorf("index: delete entry: %w", err)
	}
	return tx.Commit()
}

// GetChecksum returns the stored checksum for an entry, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM entries WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

const entryColumns = `path, collection, title, checksum, meta, body, errors, warnings, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (EntryRow, error) {
	var e EntryRow
	var metaJSON string
	if err := s.Scan(&e.Path, &e.Collection, &e.Title, &e.Checksum, &metaJSON, &e.Body, &e.Errors, &e.Warnings, &e.UpdatedAt); err != nil {
		return e, err
	}
	e.Meta = json.RawMessage(metaJSON)
	return e, nil
}

// GetEntry returns one entry.
func (db *DB) GetEntry(path string) (*EntryRow, error) {
	e, err := scanEntry(db.conn.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("index: get %s: %w", path, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("index: get %s: %w", path, err)
	}
	return &e, nil
}

// ListEntries returns a page of entries ordered by path, optionally limited
// to one collection, together with the total count.
func (db *DB) ListEntries(collection string, limit, offset int) ([]EntryRow, int, error) {
	if limit <= 0 {
		limit = 50
	}
	where, args := "", []any{}
	if collection != "" {
		where = ` WHERE collection = ?`
		args = append(args, collection)
	}

	var total int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count entries: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+entryColumns+` FROM entries`+where+` ORDER BY path LIMIT ? OFFSET ?`,
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list entries: %w", err)
	}
	defer rows.Close()

	var out []EntryRow
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}

// CollectionCounts returns the number of indexed entries per collection.
// Entries outside any collection are counted under "".
func (db *DB) CollectionCounts() (map[string]int, error) {
	rows, err := db.conn.Query(`SELECT collection, count(*) FROM entries GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("index: collection counts: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, rows.Err()
}

// AllChecksums returns the checksum of every indexed entry keyed by path.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}
