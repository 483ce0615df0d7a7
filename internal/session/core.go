package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/schema"
	"github.com/starford/folio/internal/watch"
)

// core is the document state owned by the session loop. Nothing outside
// the loop touches it.
type core struct {
	path   string
	store  Store
	opts   Options
	coll   *schema.Collection
	logger *slog.Logger

	state     State
	doc       *frontmatter.Document // style of the last decoded text
	decodeErr error
	base      *meta.Map // metadata the form is written into
	body      string
	form      *form.Form
	version   uint64 // bumped on every edit

	syncedSum  string
	syncedAt   time.Time
	syncedMeta *meta.Map
	syncedBody string

	// gone is set once the caller chose to keep a document whose file was
	// deleted; the missing file is then expected until the next save.
	gone bool

	saving     bool
	waiters    []chan error // current save
	queued     []chan error // next save
	saveQueued bool
	saveDone   chan saveResult

	note      *watch.Notification
	noteTimer *time.Timer
	noteC     <-chan time.Time
	noteLater bool // a notification arrived while saving
	theirs    *Version
}

type saveResult struct {
	err     error
	sum     string
	text    string
	meta    *meta.Map
	body    string
	version uint64
}

func (c *core) emit(kind EventKind, err error) {
	if c.opts.OnEvent == nil {
		return
	}
	c.opts.OnEvent(Event{Kind: kind, Path: c.path, State: c.state, Err: err})
}

func (c *core) setState(s State) {
	if c.state == s {
		return
	}
	c.logger.Debug("session: state", slog.String("from", c.state.String()), slog.String("to", s.String()))
	c.state = s
	c.emit(EventState, nil)
}

func (c *core) closedErr() error {
	return fmt.Errorf("session: %s: %w", c.path, apperr.ErrClosed)
}

// load replaces the whole document with data and marks it synced.
func (c *core) load(data []byte) {
	doc, err := c.opts.Codec.Decode(string(data), c.coll.FieldNames())
	c.doc = doc
	c.decodeErr = err
	c.base = doc.Meta
	c.body = doc.Body
	c.resynthesize()
	c.markSynced(checksum.Sum(data), doc.Meta, doc.Body)
	if err != nil {
		c.logger.Warn("session: metadata block not decoded", slog.String("error", err.Error()))
	}
}

func (c *core) markSynced(sum string, m *meta.Map, body string) {
	c.syncedSum = sum
	c.syncedAt = time.Now()
	c.syncedMeta = m.Clone()
	c.syncedBody = body
}

func (c *core) resynthesize() {
	c.form = form.Synthesize(c.coll, c.base, c.opts.Policy)
}

// current returns the metadata the form would write, or the base when the
// form holds a hard error.
func (c *core) current() (*meta.Map, bool) {
	m, err := c.form.ToMap(c.base)
	if err != nil {
		return c.base, false
	}
	return m, true
}

// setCollection rebuilds the form under coll. Pending edits carry over
// even when they do not validate.
func (c *core) setCollection(coll *schema.Collection) {
	c.form, c.base = c.form.Rebase(coll, c.base)
	c.coll = coll
	if c.doc != nil {
		c.doc.Unknown = unknown(c.base, coll)
	}
}

func unknown(m *meta.Map, coll *schema.Collection) []string {
	if coll == nil {
		return nil
	}
	var out []string
	for _, k := range m.Keys() {
		if _, ok := coll.Field(k); !ok {
			out = append(out, k)
		}
	}
	return out
}

func (c *core) edit(fn func() error) error {
	if c.state == StateClosed {
		return c.closedErr()
	}
	if err := fn(); err != nil {
		return err
	}
	c.version++
	if c.state == StateClean {
		c.setState(StateDirty)
	}
	return nil
}

// editMeta is edit for metadata changes. A document whose block did not
// decode still carries the raw block in its body and is edited there.
func (c *core) editMeta(fn func() error) error {
	if c.decodeErr != nil && c.state != StateClosed {
		return fmt.Errorf("session: %s: %w", c.path, c.decodeErr)
	}
	return c.edit(fn)
}

// render encodes the document as it would be saved.
func (c *core) render() (string, *meta.Map, error) {
	if c.decodeErr != nil {
		// The body still holds the raw text, broken block included.
		return c.body, c.base, nil
	}
	m, err := c.form.ToMap(c.base)
	if err != nil {
		return "", nil, err
	}
	doc := *c.doc
	doc.Meta = m
	doc.Body = c.body
	text, err := c.opts.Codec.Encode(&doc, c.coll.FieldNames())
	if err != nil {
		return "", nil, err
	}
	return text, m, nil
}

// requestSave starts or queues a save. It reports whether w will receive
// the outcome.
func (c *core) requestSave(w chan error) (bool, error) {
	switch c.state {
	case StateClosed:
		return false, c.closedErr()
	case StateConflictPending:
		return false, fmt.Errorf("session: save %s: %w", c.path, apperr.ErrSyncConflict)
	case StateClean:
		return false, nil
	case StateSaving:
		c.saveQueued = true
		c.queued = append(c.queued, w)
		return true, nil
	}
	if err := c.startSave(w); err != nil {
		return false, err
	}
	return true, nil
}

func (c *core) startSave(w chan error) error {
	text, m, err := c.render()
	if err != nil {
		c.logger.Info("session: save blocked", slog.String("error", err.Error()))
		return fmt.Errorf("session: save %s: %w", c.path, err)
	}
	c.saving = true
	if w != nil {
		c.waiters = append(c.waiters, w)
	}
	c.setState(StateSaving)

	r := saveResult{sum: checksum.Text(text), text: text, meta: m, body: c.body, version: c.version}
	go func() {
		r.err = c.store.Write(c.path, []byte(r.text))
		c.saveDone <- r
	}()
	return nil
}

func (c *core) finishSave(r saveResult) {
	c.saving = false
	var result error
	if r.err != nil {
		result = &SaveError{Path: c.path, Err: r.err}
	}

	switch {
	case c.state == StateClosed:
		// Closed mid-save: the write went through but nothing is updated.
	case r.err != nil:
		c.logger.Error("session: save failed", slog.String("error", r.err.Error()))
		c.setState(StateDirty)
		c.emit(EventSaveFailed, result)
	default:
		if c.version == r.version {
			doc, err := c.opts.Codec.Decode(r.text, c.coll.FieldNames())
			c.doc, c.decodeErr = doc, err
			c.base, c.body = doc.Meta, doc.Body
			c.resynthesize()
			c.markSynced(r.sum, doc.Meta, doc.Body)
			c.setState(StateClean)
		} else {
			// Edited while saving: base and form already hold the newer
			// edits, only the synced snapshot moves.
			c.markSynced(r.sum, r.meta, r.body)
			c.setState(StateDirty)
		}
		c.gone = false
		c.logger.Info("session: saved", slog.String("sum", r.sum))
		c.emit(EventSaved, nil)
	}

	for _, w := range c.waiters {
		w <- result
	}
	c.waiters = nil

	if c.state == StateClosed {
		for _, w := range c.queued {
			w <- c.closedErr()
		}
		c.queued, c.saveQueued = nil, false
		return
	}

	if c.saveQueued {
		queued := c.queued
		c.queued, c.saveQueued = nil, false
		switch c.state {
		case StateDirty:
			c.waiters = append(c.waiters, queued...)
			if err := c.startSave(nil); err != nil {
				for _, w := range c.waiters {
					w <- err
				}
				c.waiters = nil
			}
		default:
			for _, w := range queued {
				w <- nil
			}
		}
	}

	if c.noteLater && !c.saving {
		c.noteLater = false
		c.reconcile()
	}
}

// notify records n and restarts the quiet period.
func (c *core) notify(n watch.Notification) {
	if c.state == StateClosed {
		return
	}
	c.note = &n
	c.stopTimer()
	c.noteTimer = time.NewTimer(c.opts.Debounce)
	c.noteC = c.noteTimer.C
}

func (c *core) stopTimer() {
	if c.noteTimer != nil {
		c.noteTimer.Stop()
		c.noteTimer = nil
	}
	c.noteC = nil
}

// reconcile compares the file on disk with what the session last synced
// and settles the difference according to the current state.
func (c *core) reconcile() {
	if c.state == StateClosed {
		return
	}
	if c.saving {
		c.noteLater = true
		return
	}
	c.emit(EventReconciled, nil)
	if c.note != nil {
		c.logger.Debug("session: reconcile", slog.String("op", c.note.Op.String()), slog.String("sum", c.note.Sum))
		c.note = nil
	}

	data, err := c.store.Read(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if !c.gone {
			c.deleted()
		}
		return
	case err != nil:
		c.logger.Warn("session: reconcile read failed", slog.String("error", err.Error()))
		return
	}
	sum := checksum.Sum(data)
	if sum == c.syncedSum {
		// Our own write, or a touch that changed nothing.
		if c.state == StateConflictPending && c.theirs != nil && c.theirs.Deleted {
			c.theirs = nil
			c.setState(StateDirty)
		}
		return
	}
	if !utf8.Valid(data) {
		c.logger.Warn("session: file on disk is not text")
		return
	}

	c.gone = false
	switch c.state {
	case StateClean:
		c.load(data)
		c.logger.Info("session: reloaded", slog.String("sum", sum))
		c.emit(EventReloaded, nil)
	case StateDirty, StateConflictPending:
		c.setTheirs(data, sum)
		c.setState(StateConflictPending)
		c.logger.Info("session: conflict", slog.String("theirs", sum))
		c.emit(EventConflict, nil)
	}
}

func (c *core) deleted() {
	switch c.state {
	case StateClean:
		c.logger.Info("session: file deleted")
		c.emit(EventDeleted, nil)
		c.close()
	case StateDirty, StateConflictPending:
		c.theirs = &Version{Deleted: true}
		c.setState(StateConflictPending)
		c.emit(EventConflict, nil)
	}
}

func (c *core) setTheirs(data []byte, sum string) {
	text := string(data)
	doc, _ := c.opts.Codec.Decode(text, nil)
	c.theirs = &Version{Text: text, Meta: doc.Meta, Body: doc.Body, Sum: sum}
}

func (c *core) conflict() *Conflict {
	if c.state != StateConflictPending || c.theirs == nil {
		return nil
	}
	mine := Version{Body: c.body}
	if m, ok := c.current(); ok {
		mine.Meta = m.Clone()
	}
	if text, _, err := c.render(); err == nil {
		mine.Text = text
		mine.Sum = checksum.Text(text)
	}
	theirs := *c.theirs
	theirs.Meta = c.theirs.Meta.Clone()
	return &Conflict{Mine: mine, Theirs: theirs}
}

func (c *core) resolve(r Resolution) error {
	if c.state == StateClosed {
		return c.closedErr()
	}
	if c.state != StateConflictPending || c.theirs == nil {
		return fmt.Errorf("session: resolve %s: no conflict pending: %w", c.path, apperr.ErrConflict)
	}
	theirs := c.theirs
	c.theirs = nil

	if theirs.Deleted {
		switch r {
		case TakeTheirs:
			c.emit(EventDeleted, nil)
			c.close()
		default:
			// Saving recreates the file.
			c.syncedSum = ""
			c.gone = true
			c.setState(StateDirty)
		}
		return nil
	}

	switch r {
	case TakeTheirs:
		c.load([]byte(theirs.Text))
		c.version++
		c.setState(StateClean)
		c.emit(EventReloaded, nil)
	case KeepMine:
		c.markSynced(theirs.Sum, theirs.Meta, theirs.Body)
		c.setState(StateDirty)
	case Merge:
		mine, ok := c.current()
		if !ok {
			c.theirs = theirs
			return fmt.Errorf("session: merge %s: form has errors: %w", c.path, apperr.ErrValidation)
		}
		c.base = mergeMaps(c.syncedMeta, mine, theirs.Meta)
		c.body = mergeBody(c.syncedBody, c.body, theirs.Body)
		c.resynthesize()
		c.version++
		c.markSynced(theirs.Sum, theirs.Meta, theirs.Body)
		c.setState(StateDirty)
	default:
		c.theirs = theirs
		return fmt.Errorf("session: resolve %s: unknown resolution %d", c.path, r)
	}
	c.logger.Info("session: conflict resolved", slog.Int("resolution", int(r)))
	return nil
}

func (c *core) close() {
	if c.state == StateClosed {
		return
	}
	c.stopTimer()
	c.setState(StateClosed)
	c.emit(EventClosed, nil)
	c.logger.Debug("session: closed")
}

func (c *core) entry() Entry {
	e := Entry{
		Path:      c.path,
		State:     c.state,
		Body:      c.body,
		SyncedSum: c.syncedSum,
		SyncedAt:  c.syncedAt,
		Errors:    c.form.Errors(),
	}
	if c.coll != nil {
		e.Collection = c.coll.Name
	}
	if m, ok := c.current(); ok {
		e.Meta = m.Clone()
	}
	if c.decodeErr != nil {
		e.DecodeError = c.decodeErr.Error()
	}
	if c.doc != nil {
		e.Unknown = append([]string(nil), c.doc.Unknown...)
	}
	return e
}

func (c *core) formView() FormView {
	v := FormView{
		Fields: copyStates(c.form.Fields),
		Errors: c.form.Errors(),
		Valid:  c.form.Valid(),
	}
	if c.coll != nil {
		v.Collection = c.coll.Name
	}
	return v
}

func copyStates(in []*form.FieldState) []*form.FieldState {
	if in == nil {
		return nil
	}
	out := make([]*form.FieldState, len(in))
	for i, st := range in {
		cp := *st
		cp.Value = st.Value.Clone()
		cp.Path = append(form.Path(nil), st.Path...)
		cp.Errors = append([]form.ValidationError(nil), st.Errors...)
		cp.Items = copyStates(st.Items)
		cp.Children = copyStates(st.Children)
		out[i] = &cp
	}
	return out
}
