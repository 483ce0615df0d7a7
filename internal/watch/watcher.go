package watch

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/folio/internal/checksum"
)

// DefaultDebounce is the quiet period used when Options.Debounce is zero.
const DefaultDebounce = 300 * time.Millisecond

// Options configure a Watcher.
type Options struct {
	// Root is the directory watched recursively.
	Root string
	// Extensions select content files, e.g. ".md".
	Extensions []string
	// Extra lists further files to report, relative to Root, such as the
	// schema source.
	Extra    []string
	Debounce time.Duration
	Logger   *slog.Logger
}

// Watcher reports debounced changes under a root directory.
type Watcher struct {
	opts Options
}

// New creates a Watcher.
func New(opts Options) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	for i, e := range opts.Extra {
		opts.Extra[i] = filepath.ToSlash(filepath.Clean(e))
	}
	return &Watcher{opts: opts}
}

// Matches reports whether rel (slash-separated, relative to Root) is a
// watched file.
func (w *Watcher) Matches(rel string) bool {
	if slices.Contains(w.opts.Extra, rel) {
		return true
	}
	return slices.Contains(w.opts.Extensions, strings.ToLower(filepath.Ext(rel)))
}

// Run watches until ctx is cancelled, calling cb once per quiet path with
// the file's state at delivery time. New directories created at runtime
// are added to the watch list and their files reported as created.
func (w *Watcher) Run(ctx context.Context, cb func(Notification)) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	root := w.opts.Root
	logger := w.opts.Logger
	if err := addDirsRecursive(fw, root); err != nil {
		return err
	}

	deb := NewDebouncer(w.opts.Debounce, func(n Notification) {
		cb(w.settle(n))
	})
	defer deb.Stop()

	logger.Info("watcher: started", slog.String("root", root))

	for {
		select {
		case <-ctx.Done():
			logger.Info("watcher: stopped")
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			absPath := ev.Name

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if hidden(info.Name()) {
						continue
					}
					if addErr := addDirsRecursive(fw, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					w.pushDir(deb, absPath)
					continue
				}
			}

			rel, relErr := filepath.Rel(root, absPath)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)
			if !w.Matches(rel) {
				continue
			}

			op := OpWrite
			switch {
			case ev.Op&fsnotify.Create != 0:
				op = OpCreate
			case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				// Rename fires on the old path only; the new one arrives
				// as a separate Create.
				op = OpRemove
			case ev.Op&fsnotify.Write == 0:
				continue
			}
			deb.Push(Notification{Path: rel, Op: op, At: time.Now()})

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// settle fills in the checksum and modification time of n's file. A file
// that is gone by now is reported as removed, one that exists as changed.
func (w *Watcher) settle(n Notification) Notification {
	abs := filepath.Join(w.opts.Root, filepath.FromSlash(n.Path))
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			n.Op, n.Sum, n.ModTime = OpRemove, "", time.Time{}
		}
		return n
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return n
	}
	if n.Op == OpRemove {
		n.Op = OpWrite
	}
	n.Sum = checksum.Sum(data)
	n.ModTime = info.ModTime()
	return n
}

// pushDir reports the files already inside a newly created directory.
func (w *Watcher) pushDir(deb *Debouncer, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(w.opts.Root, p)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if w.Matches(rel) {
			deb.Push(Notification{Path: rel, Op: OpCreate, At: time.Now()})
		}
		return nil
	})
}

func hidden(name string) bool {
	return strings.HasPrefix(name, ".") || name == "node_modules"
}

// addDirsRecursive adds root and all its visible subdirectories.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
