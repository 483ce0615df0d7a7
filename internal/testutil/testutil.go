// Package testutil provides shared test helpers for setting up projects and databases.
package testutil

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/storage"
)

// ConfigFile is where fixture projects keep their schema source.
const ConfigFile = "src/content/config.ts"

// ContentDir is the content directory of fixture projects.
const ContentDir = "src/content"

// BlogConfig declares a blog collection with required, defaulted and
// constrained fields, and a docs collection without a schema body.
const BlogConfig = `import { defineCollection, z } from 'astro:content';

const blog = defineCollection({
  type: 'content',
  schema: z.object({
    title: z.string().max(60),
    draft: z.boolean().default(false),
    tags: z.array(z.string()).default([]),
    pubDate: z.coerce.date().optional(),
  }),
});

const docs = defineCollection({
  schema: z.object({
    title: z.string(),
  }),
});

export const collections = { blog, docs };
`

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "folio-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestProject creates a temporary project directory holding files, keyed
// by slash-separated relative path, and a storage.Provider over it.
func TestProject(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	root := t.TempDir()
	for p, content := range files {
		WriteFile(t, root, p, content)
	}
	store, err := storage.NewFS(root)
	if err != nil {
		t.Fatal(err)
	}
	return root, store
}

// WriteFile writes content to p under root, creating parent directories.
func WriteFile(t *testing.T, root, p, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// QuietLogger logs errors only.
func QuietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Eventually polls fn every tick until it returns true or timeout elapses.
func Eventually(t *testing.T, timeout, tick time.Duration, fn func() bool, msg string) {
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
