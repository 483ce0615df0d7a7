// Package entryservice ties the project schema, content files, the index
// and open editing sessions together.
package entryservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/frontmatter"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/schema"
	"github.com/starford/folio/internal/storage"
	"github.com/starford/folio/internal/watch"
)

// Notifier receives change announcements. sse.Broker satisfies it.
type Notifier interface {
	PublishEntryEvent(kind, path, collection string)
	PublishSessionEvent(id, path, kind, state string)
	PublishSchemaReloaded(collections []string, errors, warnings int)
}

type nopNotifier struct{}

func (nopNotifier) PublishEntryEvent(string, string, string)           {}
func (nopNotifier) PublishSessionEvent(string, string, string, string) {}
func (nopNotifier) PublishSchemaReloaded([]string, int, int)           {}

// Options configure a Service. Paths are relative to the store root.
type Options struct {
	ConfigFile string
	ContentDir string
	Codec      frontmatter.Codec
	Policy     form.Policy
	Debounce   time.Duration
	Autosave   time.Duration
	Logger     *slog.Logger
	Notifier   Notifier
}

// Service coordinates schema, storage, index and session operations.
type Service struct {
	store    storage.Provider
	db       *index.DB
	opts     Options
	logger   *slog.Logger
	notifier Notifier

	mu       sync.RWMutex
	project  *schema.Project
	diags    diag.List
	sessions map[string]*openSession
	byPath   map[string]string
}

// New creates a service. Call LoadSchema before serving requests.
func New(store storage.Provider, db *index.DB, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Notifier == nil {
		opts.Notifier = nopNotifier{}
	}
	opts.ConfigFile = path.Clean(opts.ConfigFile)
	opts.ContentDir = strings.Trim(path.Clean(opts.ContentDir), "/")
	if opts.ContentDir == "." {
		opts.ContentDir = ""
	}
	return &Service{
		store:    store,
		db:       db,
		opts:     opts,
		logger:   opts.Logger,
		notifier: opts.Notifier,
		project:  &schema.Project{},
		sessions: make(map[string]*openSession),
		byPath:   make(map[string]string),
	}
}

// ConfigFile returns the path of the schema source.
func (s *Service) ConfigFile() string { return s.opts.ConfigFile }

// LoadSchema reads and builds the schema source. A missing source yields
// an empty project and a warning. Only unreadable input is an error.
func (s *Service) LoadSchema(_ context.Context) error {
	p, diags, err := s.buildSchema()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.project, s.diags = p, diags
	s.mu.Unlock()

	s.logger.Info("schema: loaded",
		slog.String("config", s.opts.ConfigFile),
		slog.Int("collections", len(p.Collections)),
		slog.Int("errors", diags.Count(diag.SeverityError)),
		slog.Int("warnings", diags.Count(diag.SeverityWarning)),
	)
	return nil
}

func (s *Service) buildSchema() (*schema.Project, diag.List, error) {
	var diags diag.List
	src, err := s.store.Read(s.opts.ConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		diags.Warnf(apperr.ErrSchemaParse, nil, "schema source %s not found", s.opts.ConfigFile)
		return &schema.Project{ConfigPath: s.opts.ConfigFile}, diags, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("entryservice: read schema: %w", err)
	}
	p, diags, err := schema.Build(src)
	if err != nil {
		return nil, nil, fmt.Errorf("entryservice: build schema: %w", err)
	}
	p.ConfigPath = s.opts.ConfigFile
	return p, diags, nil
}

// ReloadSchema rebuilds the schema, hands the new collections to every open
// session, re-indexes all entries and announces the reload.
func (s *Service) ReloadSchema(ctx context.Context) error {
	if err := s.LoadSchema(ctx); err != nil {
		return err
	}

	for _, o := range s.openSessions() {
		_, coll := s.CollectionFor(o.sess.Path())
		if err := o.sess.SetCollection(coll); err != nil && !errors.Is(err, apperr.ErrClosed) {
			s.logger.Warn("schema: session update failed", slog.String("path", o.sess.Path()), slog.String("error", err.Error()))
		}
	}

	if err := index.Rebuild(s.db, s.store, s.indexRow, s.logger); err != nil {
		return fmt.Errorf("entryservice: rebuild index: %w", err)
	}

	p, diags := s.Project(), s.Diagnostics()
	s.notifier.PublishSchemaReloaded(p.Names(), diags.Count(diag.SeverityError), diags.Count(diag.SeverityWarning))
	return nil
}

// Project returns the current schema.
func (s *Service) Project() *schema.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.project
}

// Diagnostics returns the diagnostics of the last schema build.
func (s *Service) Diagnostics() diag.List {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append(diag.List(nil), s.diags...)
}

// CollectionFor resolves the collection of a content path, which lives at
// <content_dir>/<collection>/... . The name is returned even when the
// schema does not define it; coll is then nil.
func (s *Service) CollectionFor(p string) (string, *schema.Collection) {
	rel := path.Clean(p)
	if s.opts.ContentDir != "" {
		var ok bool
		rel, ok = strings.CutPrefix(rel, s.opts.ContentDir+"/")
		if !ok {
			return "", nil
		}
	}
	name, _, ok := strings.Cut(rel, "/")
	if !ok {
		return "", nil
	}
	coll, _ := s.Project().Collection(name)
	return name, coll
}

// CollectionInfo summarizes a collection for listings.
type CollectionInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type,omitempty"`
	Fields  int    `json:"fields"`
	Entries int    `json:"entries"`
	Errors  int    `json:"errors"`
}

// Collections lists the collections in declaration order with their entry
// counts from the index.
func (s *Service) Collections(_ context.Context) ([]CollectionInfo, error) {
	counts, err := s.db.CollectionCounts()
	if err != nil {
		return nil, err
	}
	diags := s.Diagnostics()
	p := s.Project()
	out := make([]CollectionInfo, 0, len(p.Collections))
	for _, c := range p.Collections {
		out = append(out, CollectionInfo{
			Name:    c.Name,
			Type:    c.Type,
			Fields:  len(c.Fields),
			Entries: counts[c.Name],
			Errors:  diags.ForCollection(c.Name).Count(diag.SeverityError),
		})
	}
	return out, nil
}

// Collection returns one collection by name.
func (s *Service) Collection(_ context.Context, name string) (*schema.Collection, error) {
	c, ok := s.Project().Collection(name)
	if !ok {
		return nil, fmt.Errorf("entryservice: collection %q: %w", name, apperr.ErrNotFound)
	}
	return c, nil
}

// GetEntry reads, decodes and validates one entry.
func (s *Service) GetEntry(_ context.Context, p string) (*models.Entry, error) {
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("entryservice: get %s: %w", p, apperr.ErrNotFound)
		}
		return nil, err
	}
	return s.readEntry(p, data)
}

// ValidateEntry returns the diagnostics of the entry stored at p.
func (s *Service) ValidateEntry(ctx context.Context, p string) (diag.List, error) {
	e, err := s.GetEntry(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.Diagnostics, nil
}

// ValidateContent validates content as if it were stored at p, without
// writing it.
func (s *Service) ValidateContent(_ context.Context, p string, content []byte) (*models.Entry, error) {
	return s.readEntry(p, content)
}

// ListEntries returns indexed entries, optionally for one collection.
func (s *Service) ListEntries(_ context.Context, collection string, limit, offset int) ([]index.EntryRow, int, error) {
	rows, total, err := s.db.ListEntries(collection, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(rows), total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	res, err := s.db.Search(query, limit)
	return nonNilSlice(res), err
}

// Sync brings the index up to date with the files on disk.
func (s *Service) Sync(_ context.Context) error {
	return index.Sync(s.db, s.store, s.indexRow, s.logger)
}

// CreateEntry writes a new entry at p. Its metadata starts from the
// collection's defaults in schema order, overlaid with m. The entry is not
// written when the result has a hard validation failure.
func (s *Service) CreateEntry(_ context.Context, p string, m *meta.Map, body string) (*models.Entry, error) {
	name, coll := s.CollectionFor(p)
	if coll == nil {
		return nil, fmt.Errorf("entryservice: create %s: collection %q: %w", p, name, apperr.ErrNotFound)
	}
	if _, err := s.store.Stat(p); err == nil {
		return nil, fmt.Errorf("entryservice: create %s: %w", p, apperr.ErrAlreadyExists)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	order := coll.FieldNames()
	start := meta.NewMap()
	for _, f := range coll.Fields {
		if f.Default != nil {
			start.Set(f.Name, f.Default.Clone())
		}
	}
	if m != nil {
		for _, f := range m.Fields {
			form.InsertOrdered(start, f.Key, f.Value, order)
		}
	}

	out, err := form.Synthesize(coll, start, s.opts.Policy).ToMap(start)
	if err != nil {
		return nil, fmt.Errorf("entryservice: create %s: %w", p, err)
	}
	codec := frontmatter.Codec{Order: frontmatter.OrderSchema}
	text, err := codec.Encode(&frontmatter.Document{Meta: out, Body: body, HasBlock: true}, order)
	if err != nil {
		return nil, fmt.Errorf("entryservice: create %s: %w", p, err)
	}
	if err := s.store.Write(p, []byte(text)); err != nil {
		return nil, fmt.Errorf("entryservice: create %s: %w", p, err)
	}

	s.reindex(p, watch.OpCreate)
	return s.readEntry(p, []byte(text))
}

// HandleNotification dispatches one watcher notification: the schema
// source triggers a reload, content files update the index and any open
// session on the path.
func (s *Service) HandleNotification(ctx context.Context, n watch.Notification) {
	if path.Clean(n.Path) == s.opts.ConfigFile {
		if err := s.ReloadSchema(ctx); err != nil {
			s.logger.Error("schema: reload failed", slog.String("error", err.Error()))
		}
		return
	}

	s.reindex(n.Path, n.Op)

	if o, ok := s.sessionByPath(n.Path); ok {
		if err := o.sess.Notify(n); err != nil && !errors.Is(err, apperr.ErrClosed) {
			s.logger.Warn("session: notify failed", slog.String("path", n.Path), slog.String("error", err.Error()))
		}
	}
}

func (s *Service) reindex(p string, op watch.Op) {
	kind, err := index.Apply(s.db, s.store, s.indexRow, watch.Notification{Path: p, Op: op})
	if err != nil {
		s.logger.Warn("index: apply failed", slog.String("path", p), slog.String("error", err.Error()))
		return
	}
	if kind != "" {
		name, _ := s.CollectionFor(p)
		s.notifier.PublishEntryEvent(kind, p, name)
		s.logger.Debug("index: applied", slog.String("path", p), slog.String("kind", kind))
	}
}

// readEntry decodes data under the collection of p and collects its
// diagnostics: decode failures, unknown keys and validation errors.
func (s *Service) readEntry(p string, data []byte) (*models.Entry, error) {
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("entryservice: read %s: %w", p, apperr.ErrUnreadableInput)
	}
	name, coll := s.CollectionFor(p)
	var known []string
	if coll != nil {
		known = coll.FieldNames()
	}

	e := &models.Entry{
		Path:       p,
		Collection: name,
		Content:    data,
		Checksum:   checksum.Sum(data),
		UpdatedAt:  time.Now(),
	}

	doc, err := s.opts.Codec.Decode(string(data), known)
	if err != nil {
		var de *frontmatter.DecodeError
		var span *diag.Span
		if errors.As(err, &de) {
			span = diag.NewSpan(string(data), de.Start, de.End)
		}
		e.Diagnostics.Add(diag.Diagnostic{
			Severity:   diag.SeverityError,
			Kind:       apperr.ErrMetadataDecode,
			Message:    err.Error(),
			Span:       span,
			Collection: name,
		})
	}
	e.Meta, e.Body, e.Unknown = doc.Meta, doc.Body, doc.Unknown
	e.Title = titleOf(doc.Meta, p)

	if name != "" && coll == nil {
		e.Diagnostics.Add(diag.Diagnostic{
			Severity:   diag.SeverityWarning,
			Kind:       apperr.ErrNotFound,
			Message:    fmt.Sprintf("collection %q is not defined", name),
			Collection: name,
		})
	}
	if coll != nil && err == nil {
		for _, k := range doc.Unknown {
			e.Diagnostics.Add(diag.Diagnostic{
				Severity:   diag.SeverityWarning,
				Kind:       apperr.ErrValidation,
				Message:    fmt.Sprintf("unknown field %q", k),
				Collection: name,
				Field:      k,
			})
		}
		e.Diagnostics.Append(form.Synthesize(coll, doc.Meta, s.opts.Policy).Diagnostics())
	}
	return e, nil
}

// indexRow is the index.ReadFunc for this project.
func (s *Service) indexRow(p string, data []byte) (index.EntryRow, error) {
	e, err := s.readEntry(p, data)
	if err != nil {
		return index.EntryRow{}, err
	}
	metaJSON, err := json.Marshal(e.Meta)
	if err != nil {
		return index.EntryRow{}, fmt.Errorf("entryservice: encode meta %s: %w", p, err)
	}
	return index.EntryRow{
		Collection: e.Collection,
		Title:      e.Title,
		Meta:       metaJSON,
		Body:       e.Body,
		Errors:     e.Diagnostics.Count(diag.SeverityError),
		Warnings:   e.Diagnostics.Count(diag.SeverityWarning),
	}, nil
}

func titleOf(m *meta.Map, p string) string {
	if v, ok := m.Get("title"); ok && v.Kind == meta.KindString && v.Str != "" {
		return v.Str
	}
	base := path.Base(p)
	return strings.TrimSuffix(base, path.Ext(base))
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
