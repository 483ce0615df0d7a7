package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/folio/internal/entryservice"
)

// RouterOptions configure NewRouter.
type RouterOptions struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events http.Handler
	// Assets, if non-nil, accepts uploads at POST /assets.
	Assets *AssetHandler
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *entryservice.Service, opts RouterOptions) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	// Schema.
	r.Get("/collections", h.ListCollections)
	r.Get("/collections/{name}", h.GetCollection)
	r.Get("/diagnostics", h.Diagnostics)

	// Entries.
	r.Get("/entries", h.ListEntries)
	r.Post("/entries", h.CreateEntry)
	r.Get("/entries/*", h.GetEntry)

	// Editing sessions.
	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", h.ListSessions)
		r.Post("/", h.OpenSession)
		r.Get("/{id}", h.GetSession)
		r.Delete("/{id}", h.CloseSession)
		r.Patch("/{id}/fields", h.PatchFields)
		r.Put("/{id}/body", h.PutBody)
		r.Post("/{id}/save", h.Save)
		r.Get("/{id}/conflict", h.GetConflict)
		r.Post("/{id}/resolve", h.Resolve)
	})

	// Search.
	r.Get("/search", h.Search)

	if opts.Assets != nil {
		r.Post("/assets", opts.Assets.Upload)
	}

	// SSE endpoint (protected by same auth middleware).
	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}

	return r
}
