package entryservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"github.com/google/uuid"

	"github.com/starford/folio/internal/apperr"
	"github.com/starford/folio/internal/session"
	"github.com/starford/folio/internal/watch"
)

type openSession struct {
	id   string
	sess *session.Session
}

// SessionInfo describes an open editing session.
type SessionInfo struct {
	ID    string        `json:"id"`
	Path  string        `json:"path"`
	State session.State `json:"state"`
}

// OpenSession starts an editing session for p, or returns the one already
// open on it. The service mutex is never held while calling into a session.
func (s *Service) OpenSession(ctx context.Context, p string) (string, *session.Session, error) {
	p = path.Clean(p)
	if o, ok := s.sessionByPath(p); ok {
		return o.id, o.sess, nil
	}

	_, coll := s.CollectionFor(p)
	id := uuid.NewString()
	sess, err := session.Open(ctx, s.store, p, coll, session.Options{
		Codec:    s.opts.Codec,
		Policy:   s.opts.Policy,
		Debounce: s.opts.Debounce,
		Autosave: s.opts.Autosave,
		Logger:   s.logger,
		OnEvent:  s.sessionEvent(id),
	})
	if err != nil {
		return "", nil, fmt.Errorf("entryservice: open session: %w", err)
	}

	s.mu.Lock()
	if prev, ok := s.byPath[p]; ok {
		// Lost a race with another opener.
		other := s.sessions[prev]
		s.mu.Unlock()
		_ = sess.Close(true)
		return other.id, other.sess, nil
	}
	s.sessions[id] = &openSession{id: id, sess: sess}
	s.byPath[p] = id
	s.mu.Unlock()

	s.logger.Info("session: opened", slog.String("id", id), slog.String("path", p))
	s.notifier.PublishSessionEvent(id, p, string(session.EventState), sess.State().String())
	return id, sess, nil
}

// Session returns the open session with the given id.
func (s *Service) Session(id string) (*session.Session, error) {
	s.mu.RLock()
	o, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("entryservice: session %s: %w", id, apperr.ErrNotFound)
	}
	return o.sess, nil
}

// Sessions lists the open sessions ordered by path.
func (s *Service) Sessions() []SessionInfo {
	open := s.openSessions()
	out := make([]SessionInfo, 0, len(open))
	for _, o := range open {
		out = append(out, SessionInfo{ID: o.id, Path: o.sess.Path(), State: o.sess.State()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// CloseSession closes a session. Without force, a session holding unsaved
// edits or an unresolved conflict is kept and apperr.ErrUnsavedChanges
// returned.
func (s *Service) CloseSession(id string, force bool) error {
	sess, err := s.Session(id)
	if err != nil {
		return err
	}
	if err := sess.Close(force); err != nil {
		return fmt.Errorf("entryservice: close session %s: %w", id, err)
	}
	s.forget(id)
	return nil
}

// Close shuts every open session down, discarding unsaved edits.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	for _, o := range s.openSessions() {
		if err := o.sess.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session %s: %w", o.sess.Path(), err))
		}
		s.forget(o.id)
	}
	return errors.Join(errs...)
}

// sessionEvent runs on the session loop. It must not call back into the
// session; it only publishes and updates the service's own state.
func (s *Service) sessionEvent(id string) func(session.Event) {
	return func(ev session.Event) {
		s.notifier.PublishSessionEvent(id, ev.Path, string(ev.Kind), ev.State.String())

		switch ev.Kind {
		case session.EventSaved:
			s.reindex(ev.Path, watch.OpWrite)
		case session.EventSaveFailed:
			s.logger.Warn("session: save failed", slog.String("id", id), slog.String("path", ev.Path), slog.Any("error", ev.Err))
		case session.EventClosed:
			s.forget(id)
		}
	}
}

func (s *Service) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.sessions[id]; ok {
		delete(s.sessions, id)
		if s.byPath[o.sess.Path()] == id {
			delete(s.byPath, o.sess.Path())
		}
	}
}

func (s *Service) sessionByPath(p string) (*openSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byPath[p]
	if !ok {
		return nil, false
	}
	return s.sessions[id], true
}

func (s *Service) openSessions() []*openSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*openSession, 0, len(s.sessions))
	for _, o := range s.sessions {
		out = append(out, o)
	}
	return out
}
