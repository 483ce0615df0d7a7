package api

import (
	"encoding/json"

	"github.com/starford/folio/internal/diag"
	"github.com/starford/folio/internal/entryservice"
	"github.com/starford/folio/internal/index"
	"github.com/starford/folio/internal/meta"
	"github.com/starford/folio/internal/models"
	"github.com/starford/folio/internal/schema"
	"github.com/starford/folio/internal/session"
)

// CreateEntryRequest is the request body for creating an entry.
type CreateEntryRequest struct {
	Path string    `json:"path" example:"src/content/blog/hello.md" validate:"required"`
	Meta *meta.Map `json:"meta,omitempty"`
	Body string    `json:"body,omitempty" example:"Hello world"`
}

// Entry is the full entry response type (aliased from the domain layer).
type Entry = models.Entry

// EntryListResponse wraps paginated entry listings.
type EntryListResponse struct {
	Entries []index.EntryRow `json:"entries" validate:"required"`
	Total   int              `json:"total" example:"42" validate:"required"`
}

// CollectionListResponse wraps the collection listing.
type CollectionListResponse struct {
	Collections []entryservice.CollectionInfo `json:"collections" validate:"required"`
}

// CollectionResponse describes one collection.
type CollectionResponse struct {
	Collection  *schema.Collection `json:"collection" validate:"required"`
	JSONSchema  *schema.JSONSchema `json:"json_schema" validate:"required"`
	Diagnostics diag.List          `json:"diagnostics"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// OpenSessionRequest is the request body for opening an editing session.
type OpenSessionRequest struct {
	Path string `json:"path" example:"src/content/blog/hello.md" validate:"required"`
}

// SessionResponse is an open session with its snapshot and form.
type SessionResponse struct {
	ID    string            `json:"id" validate:"required"`
	Entry session.Entry     `json:"entry" validate:"required"`
	Form  *session.FormView `json:"form,omitempty"`
}

// FieldOp is one metadata edit. Op is set, unset, append or remove.
type FieldOp struct {
	Op    string          `json:"op" example:"set" validate:"required"`
	Path  string          `json:"path" example:"tags[0]" validate:"required"`
	Value json.RawMessage `json:"value,omitempty" swaggertype:"object"`
}

// PatchFieldsRequest applies field edits in order, or replaces the whole
// metadata map when Meta is set.
type PatchFieldsRequest struct {
	Ops  []FieldOp `json:"ops,omitempty"`
	Meta *meta.Map `json:"meta,omitempty"`
}

// PutBodyRequest replaces the document body.
type PutBodyRequest struct {
	Body string `json:"body" example:"New body" validate:"required"`
}

// ResolveRequest picks a conflict resolution.
type ResolveRequest struct {
	Resolution string `json:"resolution" example:"merge" enums:"keep_mine,take_theirs,merge" validate:"required"`
}

// ValidationErrorResponse reports a hard validation failure.
type ValidationErrorResponse struct {
	Error  string `json:"error" validate:"required"`
	Detail string `json:"detail,omitempty"`
}

// AssetUploadResponse is returned after a successful asset upload.
type AssetUploadResponse struct {
	Filename string `json:"filename" example:"cover.png" validate:"required"`
	Path     string `json:"path" example:"src/assets/cover.png" validate:"required"`
	Size     int64  `json:"size" example:"12345" validate:"required"`
	URL      string `json:"url" example:"/assets/cover.png" validate:"required"`
}
