package storage

import (
	"bytes"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/natefinch/atomic"

	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/models"
)

// DefaultExtensions are the content file extensions listed when none are
// configured.
var DefaultExtensions = []string{".md", ".mdx"}

const filePerms = 0o644

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the project directory
	exts []string
}

// NewFS creates a new FS provider rooted at the given directory. The
// directory must already exist. exts selects the files List reports.
func NewFS(root string, exts ...string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s", abs)
	}
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return &FS{root: abs, exts: exts}, nil
}

// Root returns the absolute project directory.
func (f *FS) Root() string { return f.root }

// IsContent reports whether name carries one of the content extensions.
func (f *FS) IsContent(name string) bool {
	return slices.Contains(f.exts, strings.ToLower(filepath.Ext(name)))
}

// safePath resolves a relative path against the root and rejects any
// result that escapes it (directory traversal).
func (f *FS) safePath(rel string) (string, error) {
	if rel == "" {
		return f.root, nil
	}
	cleaned := filepath.Clean(rel)
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("storage: absolute paths not allowed: %s", rel)
	}
	joined := filepath.Join(f.root, cleaned)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("storage: resolve path: %w", err)
	}
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) && abs != f.root {
		return "", fmt.Errorf("storage: path escapes project root: %s", rel)
	}
	return abs, nil
}

// List walks dir and returns metadata for every content file. Hidden
// directories are skipped.
func (f *FS) List(dir string) ([]models.EntryMetadata, error) {
	base, err := f.safePath(dir)
	if err != nil {
		return nil, err
	}
	var out []models.EntryMetadata
	err = filepath.WalkDir(base, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if p != base && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !f.IsContent(d.Name()) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(f.root, p)
		out = append(out, models.EntryMetadata{
			Path:      filepath.ToSlash(rel),
			Checksum:  checksum.Sum(data),
			UpdatedAt: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	return out, nil
}

// Read returns the raw bytes of a project file.
func (f *FS) Read(path string) ([]byte, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read %s: %w", path, err)
	}
	return data, nil
}

// Stat hashes the file at path. A missing file yields an error matching
// fs.ErrNotExist.
func (f *FS) Stat(path string) (models.FileInfo, error) {
	abs, err := f.safePath(path)
	if err != nil {
		return models.FileInfo{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return models.FileInfo{}, fmt.Errorf("storage: stat %s: %w", path, err)
	}
	return models.FileInfo{Path: path, Checksum: checksum.Sum(data), ModTime: info.ModTime()}, nil
}

// Write atomically replaces the file at path, creating parent directories.
func (f *FS) Write(path string, content []byte) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir: %w", err)
	}
	_, statErr := os.Stat(abs)
	created := os.IsNotExist(statErr)

	if err := atomic.WriteFile(abs, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("storage: write %s: %w", path, err)
	}
	// atomic.WriteFile leaves new files with the temp file's mode.
	if created {
		if err := os.Chmod(abs, filePerms); err != nil {
			return fmt.Errorf("storage: chmod %s: %w", path, err)
		}
	}
	return nil
}

// Delete removes a file.
func (f *FS) Delete(path string) error {
	abs, err := f.safePath(path)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil {
		return fmt.Errorf("storage: delete %s: %w", path, err)
	}
	return nil
}

// Move renames a file within the project.
func (f *FS) Move(oldPath, newPath string) error {
	absOld, err := f.safePath(oldPath)
	if err != nil {
		return err
	}
	absNew, err := f.safePath(newPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absNew), 0o755); err != nil {
		return fmt.Errorf("storage: mkdir for move: %w", err)
	}
	if err := os.Rename(absOld, absNew); err != nil {
		return fmt.Errorf("storage: move: %w", err)
	}
	return nil
}
