//go:build sqlite_fts5

package index

import (
	"testing"
	"time"
)

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entries_fts`).Scan(&count); err != nil {
		t.Fatalf("entries_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	row := EntryRow{
		Path:       "blog/fts.md",
		Collection: "blog",
		Title:      "FTS Entry",
		Checksum:   "f1",
		Body:       "Folio keeps powerful full-text search over entry bodies.",
		UpdatedAt:  time.Now(),
	}
	if err := db.UpsertEntry(row); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}

	results, err := db.Search("powerful", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Path != "blog/fts.md" || results[0].Collection != "blog" {
		t.Errorf("result = %+v", results[0])
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(EntryRow{Path: "gone.md", Checksum: "g", Body: "vanishing content"})
	_ = db.DeleteEntry("gone.md")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.Path == "gone.md" {
			t.Error("deleted entry still in FTS index")
		}
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(EntryRow{Path: "evo.md", Title: "Old", Checksum: "1", Body: "original text"})
	_ = db.UpsertEntry(EntryRow{Path: "evo.md", Title: "New", Checksum: "2", Body: "replacement text"})

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
