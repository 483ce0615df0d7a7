package api

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/entryservice"
)

// Handler holds API route handlers.
type Handler struct {
	svc *entryservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *entryservice.Service) *Handler {
	return &Handler{svc: svc}
}

// entryPath extracts the entry path from the URL (everything after /api/entries/).
// Supports encoded slashes from OpenAPI clients (e.g. blog%2Fpost.md).
func entryPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListCollections handles GET /api/collections.
//
//	@Summary		List the collections declared by the schema source
//	@Tags			collections
//	@Produce		json
//	@Success		200	{object}	CollectionListResponse
//	@Security		BearerAuth
//	@Router			/collections [get]
func (h *Handler) ListCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := h.svc.Collections(r.Context())
	if err != nil {
		writeError(w, "list collections", err)
		return
	}
	writeJSON(w, http.StatusOK, CollectionListResponse{Collections: infos})
}

// GetCollection handles GET /api/collections/{name}.
//
//	@Summary		Get a collection with its field model and JSON Schema
//	@Tags			collections
//	@Produce		json
//	@Param			name	path		string	true	"Collection name"
//	@Success		200		{object}	CollectionResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/collections/{name} [get]
func (h *Handler) GetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	coll, err := h.svc.Collection(r.Context(), name)
	if err != nil {
		writeError(w, "get collection", err)
		return
	}
	diags := h.svc.Diagnostics().ForCollection(name)
	if diags == nil {
		diags = diag.List{}
	}
	writeJSON(w, http.StatusOK, CollectionResponse{
		Collection:  coll,
		JSONSchema:  coll.JSONSchema(),
		Diagnostics: diags,
	})
}

// ListEntries handles GET /api/entries.
//
//	@Summary		List indexed entries with optional pagination and filtering
//	@Tags			entries
//	@Produce		json
//	@Param			collection	query		string	false	"Filter by collection"
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	EntryListResponse
//	@Security		BearerAuth
//	@Router			/entries [get]
func (h *Handler) ListEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	rows, total, err := h.svc.ListEntries(r.Context(), q.Get("collection"), limit, offset)
	if err != nil {
		writeError(w, "list entries", err)
		return
	}
	writeJSON(w, http.StatusOK, EntryListResponse{Entries: rows, Total: total})
}

// GetEntry handles GET /api/entries/*.
//
//	@Summary		Read, decode and validate a single entry
//	@Tags			entries
//	@Produce		json
//	@Param			path	path		string	true	"Entry path"
//	@Success		200		{object}	Entry
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/entries/{path} [get]
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	path := entryPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	e, err := h.svc.GetEntry(r.Context(), path)
	if err != nil {
		writeError(w, "get entry", err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// CreateEntry handles POST /api/entries.
//
//	@Summary		Create an entry from the collection's defaults
//	@Tags			entries
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateEntryRequest	true	"Entry to create"
//	@Success		201		{object}	Entry
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		422		{object}	ValidationErrorResponse
//	@Security		BearerAuth
//	@Router			/entries [post]
func (h *Handler) CreateEntry(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	e, err := h.svc.CreateEntry(r.Context(), req.Path, req.Meta, req.Body)
	if err != nil {
		writeError(w, "create entry", err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across entries
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Diagnostics handles GET /api/diagnostics.
//
//	@Summary		Check the schema and every entry
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	entryservice.Report
//	@Security		BearerAuth
//	@Router			/diagnostics [get]
func (h *Handler) Diagnostics(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.Check(r.Context())
	if err != nil {
		writeError(w, "check", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
