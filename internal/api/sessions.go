package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/session"
)

// session resolves the {id} URL parameter, writing the error response when
// it is unknown.
func (h *Handler) session(w http.ResponseWriter, r *http.Request) (string, *session.Session, bool) {
	id := chi.URLParam(r, "id")
	sess, err := h.svc.Session(id)
	if err != nil {
		writeError(w, "get session", err)
		return "", nil, false
	}
	return id, sess, true
}

// writeSession writes the snapshot and form of an open session.
func writeSession(w http.ResponseWriter, status int, id string, sess *session.Session) {
	e, err := sess.Entry()
	if err != nil {
		writeError(w, "session entry", err, "id", id)
		return
	}
	resp := SessionResponse{ID: id, Entry: e}
	if fv, err := sess.Form(); err == nil {
		resp.Form = &fv
	}
	writeJSON(w, status, resp)
}

// ListSessions handles GET /api/sessions.
//
//	@Summary		List open editing sessions
//	@Tags			sessions
//	@Produce		json
//	@Success		200	{array}	entryservice.SessionInfo
//	@Security		BearerAuth
//	@Router			/sessions [get]
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Sessions())
}

// OpenSession handles POST /api/sessions.
//
//	@Summary		Open an editing session on an entry
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			body	body		OpenSessionRequest	true	"Entry to edit"
//	@Success		201		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions [post]
func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	var req OpenSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	id, sess, err := h.svc.OpenSession(r.Context(), req.Path)
	if err != nil {
		writeError(w, "open session", err, "path", req.Path)
		return
	}
	writeSession(w, http.StatusCreated, id, sess)
}

// GetSession handles GET /api/sessions/{id}.
//
//	@Summary		Get the current snapshot and form of a session
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	SessionResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeSession(w, http.StatusOK, id, sess)
}

// PatchFields handles PATCH /api/sessions/{id}/fields.
//
//	@Summary		Edit metadata fields of a session
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Session ID"
//	@Param			body	body		PatchFieldsRequest	true	"Field edits"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/fields [patch]
func (h *Handler) PatchFields(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PatchFieldsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}

	if req.Meta != nil {
		if err := sess.ReplaceMeta(req.Meta); err != nil {
			writeError(w, "replace meta", err, "id", id)
			return
		}
	}
	for i, op := range req.Ops {
		if err := applyOp(sess, op); err != nil {
			var oe *opError
			if errors.As(err, &oe) {
				writeJSON(w, http.StatusBadRequest, errorBody(fmt.Sprintf("ops[%d]: %s", i, oe.msg)))
				return
			}
			writeError(w, "edit field", err, "id", id, "path", op.Path)
			return
		}
	}
	writeSession(w, http.StatusOK, id, sess)
}

// opError reports a malformed edit request rather than a rejected edit.
type opError struct{ msg string }

func (e *opError) Error() string { return e.msg }

func applyOp(sess *session.Session, op FieldOp) error {
	switch op.Op {
	case "set":
		var v meta.Value
		if len(op.Value) == 0 {
			return &opError{"value is required"}
		}
		if err := json.Unmarshal(op.Value, &v); err != nil {
			return &opError{"invalid value: " + err.Error()}
		}
		return sess.EditField(op.Path, v)
	case "unset":
		return sess.UnsetField(op.Path)
	case "append":
		_, err := sess.AppendItem(op.Path)
		return err
	case "remove":
		return sess.RemoveItem(op.Path)
	}
	return &opError{fmt.Sprintf("unknown op %q", op.Op)}
}

// PutBody handles PUT /api/sessions/{id}/body.
//
//	@Summary		Replace the body of a session's document
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			body	body		PutBodyRequest	true	"New body"
//	@Success		200		{object}	SessionResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/body [put]
func (h *Handler) PutBody(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req PutBodyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := sess.EditBody(req.Body); err != nil {
		writeError(w, "edit body", err, "id", id)
		return
	}
	writeSession(w, http.StatusOK, id, sess)
}

// Save handles POST /api/sessions/{id}/save.
//
//	@Summary		Write the session's document to disk
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	SessionResponse
//	@Failure		409	{object}	errResponse
//	@Failure		422	{object}	ValidationErrorResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/save [post]
func (h *Handler) Save(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := sess.Save(r.Context()); err != nil {
		writeError(w, "save", err, "id", id)
		return
	}
	writeSession(w, http.StatusOK, id, sess)
}

// GetConflict handles GET /api/sessions/{id}/conflict.
//
//	@Summary		Get both versions of a pending conflict
//	@Tags			sessions
//	@Produce		json
//	@Param			id	path		string	true	"Session ID"
//	@Success		200	{object}	session.Conflict
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/conflict [get]
func (h *Handler) GetConflict(w http.ResponseWriter, r *http.Request) {
	_, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	c, pending := sess.Conflict()
	if !pending {
		writeJSON(w, http.StatusNotFound, errorBody("no conflict pending"))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// Resolve handles POST /api/sessions/{id}/resolve.
//
//	@Summary		Resolve a pending conflict
//	@Tags			sessions
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string			true	"Session ID"
//	@Param			body	body		ResolveRequest	true	"Resolution"
//	@Success		200		{object}	SessionResponse
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id}/resolve [post]
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, sess, ok := h.session(w, r)
	if !ok {
		return
	}
	var req ResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	res, err := session.ParseResolution(req.Resolution)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	if err := sess.Resolve(res); err != nil {
		writeError(w, "resolve", err, "id", id)
		return
	}
	writeSession(w, http.StatusOK, id, sess)
}

// CloseSession handles DELETE /api/sessions/{id}.
//
//	@Summary		Close a session
//	@Tags			sessions
//	@Param			id		path	string	true	"Session ID"
//	@Param			force	query	bool	false	"Discard unsaved edits"
//	@Success		204		"Session closed"
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/sessions/{id} [delete]
func (h *Handler) CloseSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.svc.CloseSession(id, force); err != nil {
		writeError(w, "close session", err, "id", id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
