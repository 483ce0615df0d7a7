package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/folio/internal/checksum"
)

func tempProject(t *testing.T) *FS {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFS(dir)
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	return s
}

func TestWriteAndRead(t *testing.T) {
	s := tempProject(t)
	content := []byte("# Hello\nWorld\n")
	if err := s.Write("note.md", content); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("note.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != string(content) {
		t.Errorf("content mismatch: got %q", got)
	}
}

func TestWriteCreatesSubdirs(t *testing.T) {
	s := tempProject(t)
	if err := s.Write("a/b/c.md", []byte("deep")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := s.Read("a/b/c.md")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "deep" {
		t.Errorf("content = %q", got)
	}
}

func TestDelete(t *testing.T) {
	s := tempProject(t)
	_ = s.Write("del.md", []byte("bye"))
	if err := s.Delete("del.md"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read("del.md"); err == nil {
		t.Error("expected error reading deleted file")
	}
}

func TestMove(t *testing.T) {
	s := tempProject(t)
	_ = s.Write("old.md", []byte("data"))
	if err := s.Move("old.md", "sub/new.md"); err != nil {
		t.Fatalf("Move: %v", err)
	}
	got, err := s.Read("sub/new.md")
	if err != nil {
		t.Fatalf("Read after move: %v", err)
	}
	if string(got) != "data" {
		t.Errorf("content = %q", got)
	}
	if _, err := s.Read("old.md"); err == nil {
		t.Error("old path should not exist")
	}
}

func TestList(t *testing.T) {
	s := tempProject(t)
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("sub/b.md", []byte("b"))
	_ = s.Write("sub/c.mdx", []byte("c"))
	_ = s.Write("readme.txt", []byte("not content"))
	_ = s.Write(".cache/d.md", []byte("hidden"))

	items, err := s.List("")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("len = %d, want 3", len(items))
	}
	for _, it := range items {
		if it.Path == "sub/b.md" && it.Checksum != checksum.Sum([]byte("b")) {
			t.Errorf("checksum for %s = %s", it.Path, it.Checksum)
		}
	}
}

func TestListCustomExtensions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFS(dir, ".markdown")
	if err != nil {
		t.Fatalf("NewFS: %v", err)
	}
	_ = s.Write("a.md", []byte("a"))
	_ = s.Write("b.markdown", []byte("b"))
	items, _ := s.List("")
	if len(items) != 1 || items[0].Path != "b.markdown" {
		t.Errorf("items = %+v", items)
	}
}

func TestStat(t *testing.T) {
	s := tempProject(t)
	_ = s.Write("s.md", []byte("stat me"))
	info, err := s.Stat("s.md")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Checksum != checksum.Sum([]byte("stat me")) {
		t.Errorf("checksum = %s", info.Checksum)
	}
	if info.ModTime.IsZero() {
		t.Error("expected a modification time")
	}
	if _, err := s.Stat("missing.md"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Stat missing: err = %v, want fs.ErrNotExist", err)
	}
}

func TestTraversalBlocked(t *testing.T) {
	s := tempProject(t)

	cases := []string{
		"../../etc/passwd",
		"../outside.md",
		"/etc/shadow",
	}
	for _, p := range cases {
		if _, err := s.Read(p); err == nil {
			t.Errorf("expected error for path %q", p)
		}
		if err := s.Write(p, []byte("x")); err == nil {
			t.Errorf("expected error for write to %q", p)
		}
	}
}

func TestAtomicWriteNoCorruption(t *testing.T) {
	// Verify that if we read during a write the old content is intact
	// (the rename is atomic on POSIX).
	s := tempProject(t)
	original := []byte("original content")
	_ = s.Write("atomic.md", original)

	// Overwrite with new content.
	updated := []byte("updated content")
	if err := s.Write("atomic.md", updated); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, _ := s.Read("atomic.md")
	if string(got) != string(updated) {
		t.Errorf("expected updated content, got %q", got)
	}

	// Confirm no leftover temp files.
	entries, _ := os.ReadDir(s.root)
	if len(entries) != 1 {
		t.Errorf("leftover files: %v", entries)
	}
	info, _ := os.Stat(filepath.Join(s.root, "atomic.md"))
	if info.Mode().Perm() != filePerms {
		t.Errorf("mode = %v, want %v", info.Mode().Perm(), os.FileMode(filePerms))
	}
}

func TestNewFS_NonExistentDir(t *testing.T) {
	_, err := NewFS("/tmp/folio-does-not-exist-" + t.Name())
	if err == nil {
		t.Error("expected error for non-existent dir")
	}
}

func TestNewFS_FileNotDir(t *testing.T) {
	f, _ := os.CreateTemp("", "folio-test-*")
	_ = f.Close()
	defer os.Remove(f.Name())
	_, err := NewFS(f.Name())
	if err == nil {
		t.Error("expected error when root is a file")
	}
}
