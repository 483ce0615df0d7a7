package index

import (
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/folio/internal/apperr"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "folio-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM entries`).Scan(&count); err != nil {
		t.Fatalf("entries table missing: %v", err)
	}
}

func TestUpsertAndGet(t *testing.T) {
	db := testDB(t)
	row := EntryRow{
		Path:       "blog/hello.md",
		Collection: "blog",
		Title:      "Hello World",
		Checksum:   "abc123",
		Meta:       json.RawMessage(`{"title":"Hello World","tags":["go"]}`),
		Body:       "This is a hello world entry.",
		Warnings:   1,
		UpdatedAt:  time.Now(),
	}
	if err := db.UpsertEntry(row); err != nil {
		t.Fatalf("UpsertEntry: %v", err)
	}
	cs, err := db.GetChecksum("blog/hello.md")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}

	got, err := db.GetEntry("blog/hello.md")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Collection != "blog" || got.Title != "Hello World" || got.Warnings != 1 {
		t.Errorf("GetEntry = %+v", got)
	}
	if string(got.Meta) != string(row.Meta) {
		t.Errorf("meta = %s, want %s", got.Meta, row.Meta)
	}

	if _, err := db.GetEntry("missing.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("GetEntry(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDeleteEntry(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(EntryRow{Path: "del.md", Checksum: "x"})

	if err := db.DeleteEntry("del.md"); err != nil {
		t.Fatalf("DeleteEntry: %v", err)
	}
	cs, _ := db.GetChecksum("del.md")
	if cs != "" {
		t.Errorf("deleted entry still has checksum %q", cs)
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(EntryRow{Path: "up.md", Title: "Old", Checksum: "1", Collection: "a"})
	_ = db.UpsertEntry(EntryRow{Path: "up.md", Title: "New", Checksum: "2", Collection: "b"})

	got, err := db.GetEntry("up.md")
	if err != nil {
		t.Fatal(err)
	}
	if got.Checksum != "2" || got.Title != "New" || got.Collection != "b" {
		t.Errorf("entry = %+v", got)
	}
	if string(got.Meta) != "{}" {
		t.Errorf("meta = %s, want {}", got.Meta)
	}
}

func TestListEntries(t *testing.T) {
	db := testDB(t)
	for _, p := range []string{"blog/b.md", "blog/a.md", "docs/x.md", "loose.md"} {
		coll := ""
		if len(p) > 5 && p[4] == '/' {
			coll = p[:4]
		}
		_ = db.UpsertEntry(EntryRow{Path: p, Collection: coll, Checksum: p})
	}

	rows, total, err := db.ListEntries("blog", 10, 0)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if total != 2 || len(rows) != 2 || rows[0].Path != "blog/a.md" {
		t.Errorf("blog entries = %+v (total %d)", rows, total)
	}

	rows, total, err = db.ListEntries("", 2, 2)
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if total != 4 || len(rows) != 2 || rows[0].Path != "docs/x.md" {
		t.Errorf("second page = %+v (total %d)", rows, total)
	}

	counts, err := db.CollectionCounts()
	if err != nil {
		t.Fatal(err)
	}
	if counts["blog"] != 2 || counts["docs"] != 1 || counts[""] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.md")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertEntry(EntryRow{Path: "s.md", Title: "Search Me", Checksum: "1", Body: "uniqueword appears here"})

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.md" {
		t.Errorf("search results = %+v, want 1 hit for s.md", results)
	}
}
