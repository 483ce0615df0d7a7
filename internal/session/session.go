// Package session keeps one open document in sync with its file. Each
// session runs a single loop goroutine that owns the document state;
// public methods talk to it through channels.
package session

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/schema"
	"github.com/starford/folio/internal/watch"
)

// DefaultDebounce is the quiet period applied to external notifications
// when Options.Debounce is zero.
const DefaultDebounce = watch.DefaultDebounce

// Store is the file access a session needs. storage.FS satisfies it.
type Store interface {
	Read(path string) ([]byte, error)
	Stat(path string) (models.FileInfo, error)
	Write(path string, content []byte) error
}

// Options configure a session.
type Options struct {
	Codec  frontmatter.Codec
	Policy form.Policy
	// Debounce coalesces external notifications per document.
	Debounce time.Duration
	// Autosave saves a dirty document on this interval. Zero disables it.
	Autosave time.Duration
	Logger   *slog.Logger
	// OnEvent is called from the session loop.
	OnEvent func(Event)
}

type command struct {
	fn  func(c *core) error
	res chan error
}

// Session is one open document.
type Session struct {
	path string
	cmds chan command
	stop chan struct{}
	done chan struct{}
}

// Open reads path from store and starts its session under coll. A nil
// coll leaves the metadata to opaque editing. A block that fails to decode
// does not prevent opening; the error is reported on Entry.
func Open(ctx context.Context, store Store, path string, coll *schema.Collection, opts Options) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := store.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("session: open %s: %w", path, apperr.ErrNotFound)
		}
		return nil, fmt.Errorf("session: open %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("session: open %s: %w", path, apperr.ErrUnreadableInput)
	}

	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	s := &Session{
		path: path,
		cmds: make(chan command),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	c := &core{
		path:     path,
		store:    store,
		opts:     opts,
		coll:     coll,
		logger:   opts.Logger.With(slog.String("path", path)),
		saveDone: make(chan saveResult, 1),
	}
	c.load(data)

	go s.run(c)
	opts.Logger.Debug("session: opened", slog.String("path", path))
	return s, nil
}

func (s *Session) run(c *core) {
	defer close(s.done)

	var autosave <-chan time.Time
	if c.opts.Autosave > 0 {
		t := time.NewTicker(c.opts.Autosave)
		defer t.Stop()
		autosave = t.C
	}
	defer c.stopTimer()

	for {
		select {
		case cmd := <-s.cmds:
			cmd.res <- cmd.fn(c)

		case r := <-c.saveDone:
			c.finishSave(r)

		case <-c.noteC:
			c.noteC = nil
			c.reconcile()

		case <-autosave:
			if c.state == StateDirty {
				c.logger.Debug("session: autosave")
				_ = c.startSave(nil)
			}

		case <-s.stop:
			c.close()
		}

		if c.state == StateClosed && !c.saving {
			return
		}
	}
}

// do runs fn on the session loop and returns its error.
func (s *Session) do(fn func(c *core) error) error {
	res := make(chan error, 1)
	select {
	case s.cmds <- command{fn: fn, res: res}:
	case <-s.done:
		return fmt.Errorf("session: %s: %w", s.path, apperr.ErrClosed)
	}
	return <-res
}

// Path returns the document path.
func (s *Session) Path() string { return s.path }

// Done is closed once the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state.
func (s *Session) State() State {
	var st State
	if err := s.do(func(c *core) error { st = c.state; return nil }); err != nil {
		return StateClosed
	}
	return st
}

// Entry returns a copy of the document.
func (s *Session) Entry() (Entry, error) {
	var e Entry
	err := s.do(func(c *core) error { e = c.entry(); return nil })
	return e, err
}

// Form returns a copy of the field tree.
func (s *Session) Form() (FormView, error) {
	var v FormView
	err := s.do(func(c *core) error { v = c.formView(); return nil })
	return v, err
}

// Text renders the document as it would be saved.
func (s *Session) Text() (string, error) {
	var text string
	err := s.do(func(c *core) error {
		t, _, err := c.render()
		text = t
		return err
	})
	return text, err
}

// EditField sets the field at path, e.g. "tags[1]" or "author.name".
func (s *Session) EditField(path string, v meta.Value) error {
	p, err := form.ParsePath(path)
	if err != nil {
		return err
	}
	return s.do(func(c *core) error {
		return c.editMeta(func() error { return c.form.Set(p, v) })
	})
}

// UnsetField removes the field at path.
func (s *Session) UnsetField(path string) error {
	p, err := form.ParsePath(path)
	if err != nil {
		return err
	}
	return s.do(func(c *core) error {
		return c.editMeta(func() error { return c.form.Unset(p) })
	})
}

// AppendItem adds an empty item to the array at path and returns its index.
func (s *Session) AppendItem(path string) (int, error) {
	p, err := form.ParsePath(path)
	if err != nil {
		return 0, err
	}
	var idx int
	err = s.do(func(c *core) error {
		return c.editMeta(func() error {
			i, err := c.form.Append(p)
			idx = i
			return err
		})
	})
	return idx, err
}

// RemoveItem removes the array item at path.
func (s *Session) RemoveItem(path string) error {
	p, err := form.ParsePath(path)
	if err != nil {
		return err
	}
	return s.do(func(c *core) error {
		return c.editMeta(func() error { return c.form.Remove(p) })
	})
}

// EditBody replaces the body.
func (s *Session) EditBody(body string) error {
	return s.do(func(c *core) error {
		return c.edit(func() error { c.body = body; return nil })
	})
}

// ReplaceMeta replaces the whole metadata map. This is how documents
// without a schema are edited.
func (s *Session) ReplaceMeta(m *meta.Map) error {
	m = m.Clone()
	return s.do(func(c *core) error {
		return c.editMeta(func() error {
			if m == nil {
				m = meta.NewMap()
			}
			c.base = m
			c.resynthesize()
			return nil
		})
	})
}

// SetCollection swaps the schema the document is edited under, keeping
// pending edits. A nil coll falls back to opaque editing.
func (s *Session) SetCollection(coll *schema.Collection) error {
	return s.do(func(c *core) error {
		if c.state == StateClosed {
			return c.closedErr()
		}
		c.setCollection(coll)
		return nil
	})
}

// Save writes the document. A save requested while another is in flight
// runs after it. Save fails with ErrSyncConflict while a conflict is
// pending and with ErrValidation while the form holds a hard error.
func (s *Session) Save(ctx context.Context) error {
	var wait chan error
	err := s.do(func(c *core) error {
		w := make(chan error, 1)
		queued, err := c.requestSave(w)
		if queued {
			wait = w
		}
		return err
	})
	if err != nil || wait == nil {
		return err
	}
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Notify reports an external change to the document's file. Notifications
// are coalesced and reconciled once the debounce window is quiet.
func (s *Session) Notify(n watch.Notification) error {
	return s.do(func(c *core) error {
		c.notify(n)
		return nil
	})
}

// Conflict returns both versions while a conflict is pending.
func (s *Session) Conflict() (*Conflict, bool) {
	var out *Conflict
	_ = s.do(func(c *core) error { out = c.conflict(); return nil })
	return out, out != nil
}

// Resolve settles a pending conflict.
func (s *Session) Resolve(r Resolution) error {
	return s.do(func(c *core) error { return c.resolve(r) })
}

// Close ends the session. Without force it fails with ErrUnsavedChanges
// while edits are pending. A save in flight still completes.
func (s *Session) Close(force bool) error {
	err := s.do(func(c *core) error {
		if c.state == StateClosed {
			return nil
		}
		if !force && (c.state == StateDirty || c.state == StateConflictPending) {
			return fmt.Errorf("session: close %s: %w", c.path, apperr.ErrUnsavedChanges)
		}
		c.close()
		return nil
	})
	if errors.Is(err, apperr.ErrClosed) {
		return nil
	}
	return err
}

// Shutdown force-closes the session and waits for its loop to exit.
func (s *Session) Shutdown(ctx context.Context) error {
	select {
	case s.stop <- struct{}{}:
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
