package session

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/checksum"
	"github.com/starford/folio/internal/form"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/schema"
	"github.com/starford/folio/internal/watch"
)

const articlesConfig = `
import { defineCollection, z } from 'astro:content';
const articles = defineCollection({
  schema: z.object({
    title: z.string(),
    tags: z.array(z.string()).optional().default([]),
  }),
});
export const collections = { articles };
`

const helloDoc = "---\ntitle: Hello\n---\nBody\n"

// memStore is an in-memory Store. Writes can be made to fail or to block
// until released.
type memStore struct {
	mu       sync.Mutex
	files    map[string][]byte
	failNext error
	gate     chan struct{}
	writes   int
	inFlight atomic.Int32
	maxIn    atomic.Int32
}

func newMemStore(files map[string]string) *memStore {
	s := &memStore{files: make(map[string][]byte)}
	for k, v := range files {
		s.files[k] = []byte(v)
	}
	return s
}

func (s *memStore) Read(path string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return append([]byte(nil), data...), nil
}

func (s *memStore) Stat(path string) (models.FileInfo, error) {
	data, err := s.Read(path)
	if err != nil {
		return models.FileInfo{}, err
	}
	return models.FileInfo{Path: path, Checksum: checksum.Sum(data)}, nil
}

func (s *memStore) Write(path string, content []byte) error {
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		m := s.maxIn.Load()
		if n <= m || s.maxIn.CompareAndSwap(m, n) {
			break
		}
	}

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.files[path] = append([]byte(nil), content...)
	s.writes++
	return nil
}

func (s *memStore) put(path, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[path] = []byte(text)
}

func (s *memStore) remove(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.files, path)
}

func (s *memStore) text(path string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.files[path])
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

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) record(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) count(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func articles(t *testing.T) *schema.Collection {
	t.Helper()
	p, _, err := schema.Build([]byte(articlesConfig))
	require.NoError(t, err)
	c, ok := p.Collection("articles")
	require.True(t, ok)
	return c
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func open(t *testing.T, store *memStore, opts Options) (*Session, *recorder) {
	t.Helper()
	rec := &recorder{}
	opts.Logger = quietLogger()
	opts.OnEvent = rec.record
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	s, err := Open(context.Background(), store, "post.md", articles(t), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Shutdown(context.Background()) })
	return s, rec
}

func notifyChanged(t *testing.T, s *Session, store *memStore) {
	t.Helper()
	require.NoError(t, s.Notify(watch.Notification{Path: "post.md", Sum: checksum.Text(store.text("post.md")), At: time.Now()}))
}

func TestOpen(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{})

	assert.Equal(t, StateClean, s.State())
	e, err := s.Entry()
	require.NoError(t, err)
	assert.Equal(t, "articles", e.Collection)
	assert.Equal(t, "Body\n", e.Body)
	assert.Equal(t, checksum.Text(helloDoc), e.SyncedSum)
	title, _ := e.Meta.Get("title")
	assert.Equal(t, "Hello", title.Str)

	_, err = Open(context.Background(), store, "missing.md", nil, Options{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	store.put("bin.md", "\xff\xfe")
	_, err = Open(context.Background(), store, "bin.md", nil, Options{})
	assert.ErrorIs(t, err, apperr.ErrUnreadableInput)
}

func TestEditAndSave(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{})

	require.NoError(t, s.EditField("title", meta.String("World")))
	assert.Equal(t, StateDirty, s.State())

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, StateClean, s.State())
	assert.Equal(t, "---\ntitle: World\n---\nBody\n", store.text("post.md"))
	assert.Equal(t, 1, rec.count(EventSaved))

	// Saving a clean document writes nothing.
	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, 1, store.writes)
}

func TestSave_EchoIsIgnored(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{})

	require.NoError(t, s.EditField("title", meta.String("World")))
	require.NoError(t, s.Save(context.Background()))
	notifyChanged(t, s, store)

	eventually(t, time.Second, 5*time.Millisecond, func() bool { return rec.count(EventReconciled) == 1 }, "expected one reconcile pass")
	assert.Equal(t, StateClean, s.State())
	assert.Zero(t, rec.count(EventReloaded))
	assert.Zero(t, rec.count(EventConflict))
}

func TestReconcile_CleanReloads(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{})

	store.put("post.md", "---\ntitle: Changed\n---\nNew body\n")
	notifyChanged(t, s, store)

	eventually(t, time.Second, 5*time.Millisecond, func() bool { return rec.count(EventReloaded) == 1 }, "expected a reload")
	e, err := s.Entry()
	require.NoError(t, err)
	title, _ := e.Meta.Get("title")
	assert.Equal(t, "Changed", title.Str)
	assert.Equal(t, "New body\n", e.Body)
	assert.Equal(t, StateClean, e.State)
}

func TestReconcile_DirtyConflicts(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{})

	require.NoError(t, s.EditField("title", meta.String("Mine")))
	theirs := "---\ntitle: Theirs\n---\nBody\n"
	store.put("post.md", theirs)
	notifyChanged(t, s, store)

	eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.State() == StateConflictPending }, "expected a conflict")
	assert.Equal(t, 1, rec.count(EventConflict))

	// Neither side is touched.
	assert.Equal(t, theirs, store.text("post.md"))
	e, err := s.Entry()
	require.NoError(t, err)
	title, _ := e.Meta.Get("title")
	assert.Equal(t, "Mine", title.Str)

	c, ok := s.Conflict()
	require.True(t, ok)
	assert.Equal(t, theirs, c.Theirs.Text)
	assert.Contains(t, c.Mine.Text, "title: Mine")

	err = s.Save(context.Background())
	assert.ErrorIs(t, err, apperr.ErrSyncConflict)
	assert.Equal(t, theirs, store.text("post.md"))
}

func TestResolve(t *testing.T) {
	conflicted := func(t *testing.T) (*Session, *memStore) {
		store := newMemStore(map[string]string{"post.md": "---\ntitle: Hello\ntags: [a]\n---\nBody\n"})
		s, _ := open(t, store, Options{})
		require.NoError(t, s.EditField("title", meta.String("Mine")))
		store.put("post.md", "---\ntitle: Hello\ntags: [a, b]\ndraft: true\n---\nTheir body\n")
		notifyChanged(t, s, store)
		eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.State() == StateConflictPending }, "expected a conflict")
		return s, store
	}

	t.Run("keep mine", func(t *testing.T) {
		s, store := conflicted(t)
		require.NoError(t, s.Resolve(KeepMine))
		assert.Equal(t, StateDirty, s.State())
		require.NoError(t, s.Save(context.Background()))
		assert.Equal(t, "---\ntitle: Mine\ntags: [a]\n---\nBody\n", store.text("post.md"))
	})

	t.Run("take theirs", func(t *testing.T) {
		s, _ := conflicted(t)
		require.NoError(t, s.Resolve(TakeTheirs))
		assert.Equal(t, StateClean, s.State())
		e, err := s.Entry()
		require.NoError(t, err)
		title, _ := e.Meta.Get("title")
		assert.Equal(t, "Hello", title.Str)
		assert.Equal(t, "Their body\n", e.Body)
	})

	t.Run("merge", func(t *testing.T) {
		s, store := conflicted(t)
		require.NoError(t, s.Resolve(Merge))
		require.NoError(t, s.Save(context.Background()))
		assert.Equal(t, "---\ntitle: Mine\ntags:\n  - a\n  - b\ndraft: true\n---\nTheir body\n", store.text("post.md"))
	})

	t.Run("nothing pending", func(t *testing.T) {
		store := newMemStore(map[string]string{"post.md": helloDoc})
		s, _ := open(t, store, Options{})
		assert.ErrorIs(t, s.Resolve(KeepMine), apperr.ErrConflict)
	})
}

func TestNotify_BurstIsOnePass(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{Debounce: 80 * time.Millisecond})

	for i := 0; i < 10; i++ {
		store.put("post.md", "---\ntitle: Rev\n---\n"+string(rune('a'+i))+"\n")
		notifyChanged(t, s, store)
		time.Sleep(5 * time.Millisecond)
	}

	eventually(t, 2*time.Second, 10*time.Millisecond, func() bool { return rec.count(EventReconciled) == 1 }, "expected one reconcile pass")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, rec.count(EventReconciled))
	e, err := s.Entry()
	require.NoError(t, err)
	assert.Equal(t, "j\n", e.Body)
}

func TestDeleted(t *testing.T) {
	t.Run("clean closes", func(t *testing.T) {
		store := newMemStore(map[string]string{"post.md": helloDoc})
		s, rec := open(t, store, Options{})
		store.remove("post.md")
		require.NoError(t, s.Notify(watch.Notification{Path: "post.md", Op: watch.OpRemove}))

		select {
		case <-s.Done():
		case <-time.After(time.Second):
			t.Fatal("session did not close")
		}
		assert.Equal(t, 1, rec.count(EventDeleted))
		assert.Equal(t, StateClosed, s.State())
		assert.ErrorIs(t, s.EditBody("x"), apperr.ErrClosed)
	})

	t.Run("dirty conflicts", func(t *testing.T) {
		store := newMemStore(map[string]string{"post.md": helloDoc})
		s, _ := open(t, store, Options{})
		require.NoError(t, s.EditBody("Edited\n"))
		store.remove("post.md")
		require.NoError(t, s.Notify(watch.Notification{Path: "post.md", Op: watch.OpRemove}))

		eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.State() == StateConflictPending }, "expected a conflict")
		c, ok := s.Conflict()
		require.True(t, ok)
		assert.True(t, c.Theirs.Deleted)

		require.NoError(t, s.Resolve(KeepMine))
		require.NoError(t, s.Save(context.Background()))
		assert.Equal(t, "---\ntitle: Hello\n---\nEdited\n", store.text("post.md"))
	})
}

func TestSave_FailureStaysDirty(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{})

	require.NoError(t, s.EditBody("Edited\n"))
	store.failNext = errors.New("disk full")

	err := s.Save(context.Background())
	assert.ErrorIs(t, err, apperr.ErrSave)
	assert.Equal(t, StateDirty, s.State())
	assert.Equal(t, helloDoc, store.text("post.md"))
	assert.Equal(t, 1, rec.count(EventSaveFailed))

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, StateClean, s.State())
	assert.Equal(t, "---\ntitle: Hello\n---\nEdited\n", store.text("post.md"))
}

func TestSave_BlockedByHardError(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{})

	require.NoError(t, s.UnsetField("title"))
	err := s.Save(context.Background())
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Equal(t, StateDirty, s.State())
	assert.Equal(t, helloDoc, store.text("post.md"))
}

func TestSave_Serialized(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{})
	gate := make(chan struct{})
	store.gate = gate

	require.NoError(t, s.EditBody("one\n"))
	first := make(chan error, 1)
	go func() { first <- s.Save(context.Background()) }()
	eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.State() == StateSaving }, "expected a save in flight")

	require.NoError(t, s.EditBody("two\n"))
	second := make(chan error, 1)
	go func() { second <- s.Save(context.Background()) }()

	time.Sleep(20 * time.Millisecond)
	close(gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)

	assert.Equal(t, int32(1), store.maxIn.Load())
	assert.Equal(t, "---\ntitle: Hello\n---\ntwo\n", store.text("post.md"))
	assert.Equal(t, StateClean, s.State())
}

func TestSave_EditedWhileSaving(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{})
	gate := make(chan struct{})
	store.gate = gate

	require.NoError(t, s.EditBody("one\n"))
	first := make(chan error, 1)
	go func() { first <- s.Save(context.Background()) }()
	eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.State() == StateSaving }, "expected a save in flight")

	m := meta.NewMap()
	m.Set("title", meta.String("Hello"))
	m.Set("extra", meta.String("kept"))
	require.NoError(t, s.ReplaceMeta(m))

	close(gate)
	require.NoError(t, <-first)
	assert.Equal(t, "---\ntitle: Hello\n---\none\n", store.text("post.md"))
	assert.Equal(t, StateDirty, s.State())

	e, err := s.Entry()
	require.NoError(t, err)
	require.NotNil(t, e.Meta)
	assert.Equal(t, []string{"title", "extra"}, e.Meta.Keys())
	assert.Equal(t, checksum.Text(store.text("post.md")), e.SyncedSum)

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, "---\ntitle: Hello\nextra: kept\n---\none\n", store.text("post.md"))
	assert.Equal(t, StateClean, s.State())
}

func TestSave_FieldEditedWhileSaving(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{})
	gate := make(chan struct{})
	store.gate = gate

	require.NoError(t, s.EditField("title", meta.String("First")))
	first := make(chan error, 1)
	go func() { first <- s.Save(context.Background()) }()
	eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.State() == StateSaving }, "expected a save in flight")

	require.NoError(t, s.EditBody("later\n"))
	close(gate)
	require.NoError(t, <-first)
	assert.Equal(t, "---\ntitle: First\n---\nBody\n", store.text("post.md"))
	assert.Equal(t, StateDirty, s.State())

	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, "---\ntitle: First\n---\nlater\n", store.text("post.md"))
}

func TestAutosave(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{Autosave: 30 * time.Millisecond})

	require.NoError(t, s.EditBody("Auto\n"))
	eventually(t, time.Second, 10*time.Millisecond, func() bool { return s.State() == StateClean }, "expected autosave")
	assert.Equal(t, "---\ntitle: Hello\n---\nAuto\n", store.text("post.md"))
}

func TestClose(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, rec := open(t, store, Options{})

	require.NoError(t, s.EditBody("Unsaved\n"))
	assert.ErrorIs(t, s.Close(false), apperr.ErrUnsavedChanges)
	assert.Equal(t, StateDirty, s.State())

	require.NoError(t, s.Close(true))
	<-s.Done()
	assert.Equal(t, 1, rec.count(EventClosed))
	assert.Equal(t, helloDoc, store.text("post.md"))
	assert.ErrorIs(t, s.Save(context.Background()), apperr.ErrClosed)
	assert.NoError(t, s.Close(false))
}

func TestOpaqueEditing(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": "---\na: 1\n---\nx\n"})
	s, err := Open(context.Background(), store, "post.md", nil, Options{Logger: quietLogger()})
	require.NoError(t, err)
	defer s.Shutdown(context.Background())

	v, err := s.Form()
	require.NoError(t, err)
	assert.Empty(t, v.Fields)

	m := meta.NewMap()
	m.Set("a", meta.Int(2))
	m.Set("b", meta.String("new"))
	require.NoError(t, s.ReplaceMeta(m))
	require.NoError(t, s.Save(context.Background()))
	assert.Equal(t, "---\na: 2\nb: new\n---\nx\n", store.text("post.md"))

	require.NoError(t, s.SetCollection(articles(t)))
	e, err := s.Entry()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, e.Unknown)
	assert.Nil(t, e.Meta, "title is required under the new schema")
}

func TestSetCollection_KeepsPendingEdits(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": helloDoc})
	s, _ := open(t, store, Options{})

	require.NoError(t, s.EditField("tags", meta.List(meta.String("go"))))
	require.NoError(t, s.EditField("title", meta.String("")))
	require.NoError(t, s.SetCollection(articles(t)))
	assert.Equal(t, StateDirty, s.State())

	v, err := s.Form()
	require.NoError(t, err)
	assert.False(t, v.Valid)
	fields := make(map[string]*form.FieldState)
	for _, st := range v.Fields {
		fields[st.Name] = st
	}
	require.Contains(t, fields, "title")
	require.Contains(t, fields, "tags")
	assert.True(t, fields["title"].Value.Equal(meta.String("")))
	assert.True(t, fields["title"].Touched)
	assert.True(t, fields["tags"].Value.Equal(meta.List(meta.String("go"))))
	assert.True(t, fields["tags"].Present)
	assert.True(t, fields["tags"].Touched)

	require.NoError(t, s.EditField("title", meta.String("Fixed")))
	require.NoError(t, s.Save(context.Background()))
	e, err := s.Entry()
	require.NoError(t, err)
	require.NotNil(t, e.Meta)
	assert.Equal(t, []string{"title", "tags"}, e.Meta.Keys())
	tags, _ := e.Meta.Get("tags")
	assert.True(t, tags.Equal(meta.List(meta.String("go"))))
	title, _ := e.Meta.Get("title")
	assert.Equal(t, "Fixed", title.Str)
}

func TestUndecodableBlock(t *testing.T) {
	store := newMemStore(map[string]string{"post.md": "---\ntitle: [oops\n---\nBody\n"})
	s, _ := open(t, store, Options{})

	e, err := s.Entry()
	require.NoError(t, err)
	assert.NotEmpty(t, e.DecodeError)
	assert.ErrorIs(t, s.EditField("title", meta.String("x")), apperr.ErrMetadataDecode)

	require.NoError(t, s.EditBody("---\ntitle: fixed\n---\nBody\n"))
	require.NoError(t, s.Save(context.Background()))
	e, err = s.Entry()
	require.NoError(t, err)
	assert.Empty(t, e.DecodeError)
	title, _ := e.Meta.Get("title")
	assert.Equal(t, "fixed", title.Str)
}

func TestMergeMaps(t *testing.T) {
	mk := func(kv ...any) *meta.Map {
		m := meta.NewMap()
		for i := 0; i < len(kv); i += 2 {
			m.Set(kv[i].(string), meta.String(kv[i+1].(string)))
		}
		return m
	}
	base := mk("a", "1", "b", "1", "c", "1")
	mine := mk("a", "2", "b", "1", "c", "1")
	theirs := mk("a", "3", "b", "3", "d", "3")

	got := mergeMaps(base, mine, theirs)
	want := mk("a", "2", "b", "3", "d", "3")
	assert.True(t, want.Equal(got), "got %v", got.Keys())
}
