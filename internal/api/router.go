package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/schable/internal/schemaservice"
)

// RouterOptions configures the API router.
type RouterOptions struct {
	// AuthEnabled controls whether Bearer token auth is enforced.
	AuthEnabled bool
	Token       string
	// Events, if non-nil, is mounted at GET /events inside the auth group.
	Events   http.Handler
	Defaults RenderDefaults
}

// NewRouter creates a chi router with all API routes mounted.
func NewRouter(svc *schemaservice.Service, opts RouterOptions) chi.Router {
	h := NewHandler(svc, opts.Defaults)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(opts.AuthEnabled, opts.Token))

	// Catalog CRUD.
	r.Get("/schemas", h.ListSchemas)
	r.Post("/schemas", h.CreateSchema)
	r.Get("/schemas/*", h.GetSchema)
	r.Put("/schemas/*", h.UpdateSchema)
	r.Delete("/schemas/*", h.DeleteSchema)
	r.Post("/move", h.MoveSchema)
	r.Post("/import", h.ImportSchema)

	r.Get("/search", h.Search)
	r.Get("/referrers/*", h.Referrers)

	// Rendering.
	r.Get("/render", h.RenderURL)
	r.Post("/render", h.RenderInline)
	r.Get("/render/*", h.RenderCatalog)

	if opts.Events != nil {
		r.Get("/events", opts.Events.ServeHTTP)
	}

	return r
}
