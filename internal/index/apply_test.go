package index

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/watch"
)

// titleReader indexes the first line of a file as its title.
func titleReader(_ string, data []byte) (EntryRow, error) {
	title, body, _ := strings.Cut(string(data), "\n")
	return EntryRow{Title: strings.TrimPrefix(title, "# "), Body: body}, nil
}

// applyTestEnv sets up a project dir, storage, and DB.
func applyTestEnv(t *testing.T) (string, storage.Provider, *DB) {
	t.Helper()
	root := t.TempDir()
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store, testDB(t)
}

// eventually polls fn every tick until it returns true or timeout elapses.
func eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return
		}
		time.Sleep(tick)
	}
	t.Error(msg)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestSync(t *testing.T) {
	root, store, db := applyTestEnv(t)
	_ = os.WriteFile(filepath.Join(root, "a.md"), []byte("# A\nbody"), 0o644)
	_ = db.UpsertEntry(EntryRow{Path: "stale.md", Checksum: "s"})

	if err := Sync(db, store, titleReader, quietLogger()); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	got, err := db.GetEntry("a.md")
	if err != nil {
		t.Fatalf("GetEntry: %v", err)
	}
	if got.Title != "A" {
		t.Errorf("title = %q", got.Title)
	}
	if cs, _ := db.GetChecksum("stale.md"); cs != "" {
		t.Error("stale entry should be removed")
	}

	calls := 0
	counting := func(p string, data []byte) (EntryRow, error) {
		calls++
		return titleReader(p, data)
	}
	_ = Sync(db, store, counting, quietLogger())
	if calls != 0 {
		t.Errorf("unchanged file re-read %d times", calls)
	}
	_ = Rebuild(db, store, counting, quietLogger())
	if calls != 1 {
		t.Errorf("rebuild read %d files, want 1", calls)
	}
}

func TestApply(t *testing.T) {
	root, store, db := applyTestEnv(t)
	path := filepath.Join(root, "n.md")

	_ = os.WriteFile(path, []byte("# One"), 0o644)
	kind, err := Apply(db, store, titleReader, watch.Notification{Path: "n.md", Op: watch.OpCreate})
	if err != nil || kind != KindCreated {
		t.Fatalf("create: kind=%q err=%v", kind, err)
	}

	kind, _ = Apply(db, store, titleReader, watch.Notification{Path: "n.md"})
	if kind != "" {
		t.Errorf("unchanged file reported %q", kind)
	}

	_ = os.WriteFile(path, []byte("# Two"), 0o644)
	kind, _ = Apply(db, store, titleReader, watch.Notification{Path: "n.md"})
	if kind != KindUpdated {
		t.Errorf("update: kind=%q", kind)
	}

	_ = os.Remove(path)
	kind, _ = Apply(db, store, titleReader, watch.Notification{Path: "n.md"})
	if kind != KindDeleted {
		t.Errorf("delete: kind=%q", kind)
	}
	kind, _ = Apply(db, store, titleReader, watch.Notification{Path: "n.md", Op: watch.OpRemove})
	if kind != "" {
		t.Errorf("second delete reported %q", kind)
	}
}

func TestApply_FromWatcher(t *testing.T) {
	root, store, db := applyTestEnv(t)
	_ = os.WriteFile(filepath.Join(root, "old.md"), []byte("# Rename"), 0o644)
	_ = Sync(db, store, titleReader, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []string
	w := watch.New(watch.Options{Root: root, Extensions: []string{".md"}, Debounce: 50 * time.Millisecond, Logger: quietLogger()})
	go w.Run(ctx, func(n watch.Notification) {
		kind, err := Apply(db, store, titleReader, n)
		if err != nil || kind == "" {
			return
		}
		mu.Lock()
		events = append(events, kind+":"+n.Path)
		mu.Unlock()
	})
	time.Sleep(100 * time.Millisecond)

	_ = os.MkdirAll(filepath.Join(root, "sub"), 0o755)
	time.Sleep(100 * time.Millisecond)
	_ = os.WriteFile(filepath.Join(root, "sub", "deep.md"), []byte("# Deep"), 0o644)
	_ = os.Rename(filepath.Join(root, "old.md"), filepath.Join(root, "renamed.md"))

	eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		deep, _ := db.GetChecksum("sub/deep.md")
		oldCS, _ := db.GetChecksum("old.md")
		newCS, _ := db.GetChecksum("renamed.md")
		return deep != "" && oldCS == "" && newCS != ""
	}, "watcher changes not applied: new file, rename source and target")

	seen := func(e string) bool {
		mu.Lock()
		defer mu.Unlock()
		for _, got := range events {
			if got == e {
				return true
			}
		}
		return false
	}
	for _, e := range []string{"created:sub/deep.md", "deleted:old.md", "created:renamed.md"} {
		eventually(t, 2*time.Second, 20*time.Millisecond, func() bool { return seen(e) }, "missing event "+e)
	}
}
