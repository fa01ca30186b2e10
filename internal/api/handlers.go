package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/checksum"
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schemaservice"
)

const maxBodyBytes = 10 << 20

// RenderDefaults are applied when a render request omits relay or max_depth.
// MaxRows is not settable per request.
type RenderDefaults struct {
	MaxDepth int
	MaxRows  int
	UseRelay bool
}

// Handler holds API route handlers.
type Handler struct {
	svc      *schemaservice.Service
	defaults RenderDefaults
}

// NewHandler creates a new Handler.
func NewHandler(svc *schemaservice.Service, defaults RenderDefaults) *Handler {
	return &Handler{svc: svc, defaults: defaults}
}

// catalogPath extracts the catalog path from the URL wildcard.
// Supports encoded slashes from OpenAPI clients (e.g. people%2Fperson.json).
func catalogPath(r *http.Request) string {
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

// writeError maps domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	var (
		loadErr  *flatten.LoadError
		shapeErr *flatten.ShapeError
	)
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrAlreadyExists):
		writeJSON(w, http.StatusConflict, errorBody("schema already exists"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("checksum mismatch"))
	case errors.Is(err, apperr.ErrInvalidSchema), errors.Is(err, apperr.ErrInvalidPath):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, resolver.ErrBlockedHost):
		writeJSON(w, http.StatusForbidden, errorBody(err.Error()))
	case errors.As(err, &shapeErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody(shapeErr.Error()))
	case errors.As(err, &loadErr):
		writeJSON(w, http.StatusBadGateway, errorBody(loadErr.Error()))
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorBody("timed out"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// renderOptions reads relay and max_depth from the query string.
func (h *Handler) renderOptions(q url.Values) (flatten.Options, error) {
	opts := flatten.Options{MaxDepth: h.defaults.MaxDepth, MaxRows: h.defaults.MaxRows, UseRelay: h.defaults.UseRelay}
	if v := q.Get("relay"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return opts, errors.New("relay: must be a boolean")
		}
		opts.UseRelay = b
	}
	if v := q.Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, errors.New("max_depth: must be an integer")
		}
		if err := validation.Validate(n, validation.Min(1), validation.Max(flatten.MaxDepthLimit)); err != nil {
			return opts, fmt.Errorf("max_depth: %w", err)
		}
		opts.MaxDepth = n
	}
	return opts, nil
}

func writeTable(w http.ResponseWriter, r *http.Request, table *flatten.Table) {
	if r.URL.Query().Get("format") == "text" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		if err := flatten.WriteText(w, table); err != nil {
			slog.Error("text render failed", slog.String("error", err.Error()))
		}
		return
	}
	writeJSON(w, http.StatusOK, table)
}

// ListSchemas handles GET /api/schemas.
//
//	@Summary		List catalog schemas with pagination
//	@Tags			schemas
//	@Produce		json
//	@Param			limit	query		int		false	"Page size"
//	@Param			offset	query		int		false	"Page offset"
//	@Param			sort	query		string	false	"Sort field"	Enums(path, title, updated)
//	@Success		200		{object}	SchemaListResponse
//	@Security		BearerAuth
//	@Router			/schemas [get]
func (h *Handler) ListSchemas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	sort := q.Get("sort")
	if err := validation.Validate(sort, validation.In("path", "title", "updated")); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("sort: "+err.Error()))
		return
	}

	items, total, err := h.svc.List(r.Context(), limit, offset, sort)
	if err != nil {
		writeError(w, "list schemas", err)
		return
	}
	writeJSON(w, http.StatusOK, SchemaListResponse{Schemas: items, Total: total})
}

// GetSchema handles GET /api/schemas/*.
//
//	@Summary		Get a single schema by catalog path
//	@Tags			schemas
//	@Produce		json
//	@Param			path	path		string	true	"Catalog path"
//	@Success		200		{object}	SchemaDetail
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/schemas/{path} [get]
func (h *Handler) GetSchema(w http.ResponseWriter, r *http.Request) {
	path := catalogPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	detail, err := h.svc.Get(r.Context(), path)
	if err != nil {
		writeError(w, "get schema", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(detail.Checksum))
	writeJSON(w, http.StatusOK, detail)
}

// CreateSchema handles POST /api/schemas.
//
//	@Summary		Create a new schema file
//	@Tags			schemas
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateSchemaRequest	true	"Schema to create"
//	@Success		201		{object}	SchemaDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/schemas [post]
func (h *Handler) CreateSchema(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateSchemaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.Path, validation.Required),
		validation.Field(&req.Content, validation.Required),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	detail, err := h.svc.Create(r.Context(), req.Path, []byte(req.Content))
	if err != nil {
		writeError(w, "create schema", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(detail.Checksum))
	writeJSON(w, http.StatusCreated, detail)
}

// UpdateSchema handles PUT /api/schemas/*.
//
//	@Summary		Replace a schema with optimistic concurrency
//	@Tags			schemas
//	@Accept			json
//	@Produce		json
//	@Param			path		path		string				true	"Catalog path"
//	@Param			If-Match	header		string				false	"Checksum of the version being replaced"
//	@Param			body		body		UpdateSchemaRequest	true	"Updated content"
//	@Success		200			{object}	SchemaDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/schemas/{path} [put]
func (h *Handler) UpdateSchema(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	path := catalogPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req UpdateSchemaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}

	ifMatch := checksum.FromETag(r.Header.Get("If-Match"))
	detail, err := h.svc.Update(r.Context(), path, []byte(req.Content), ifMatch)
	if err != nil {
		writeError(w, "update schema", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(detail.Checksum))
	writeJSON(w, http.StatusOK, detail)
}

// MoveSchema handles POST /api/move.
//
//	@Summary		Rename a schema file
//	@Tags			schemas
//	@Accept			json
//	@Produce		json
//	@Param			body		body		MoveSchemaRequest	true	"Source and target paths"
//	@Param			If-Match	header		string				false	"ETag of the source for optimistic locking"
//	@Success		200			{object}	SchemaDetail
//	@Failure		400			{object}	errResponse
//	@Failure		404			{object}	errResponse
//	@Failure		409			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/move [post]
func (h *Handler) MoveSchema(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req MoveSchemaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.From, validation.Required),
		validation.Field(&req.To, validation.Required),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	ifMatch := checksum.FromETag(r.Header.Get("If-Match"))
	detail, err := h.svc.Move(r.Context(), req.From, req.To, ifMatch)
	if err != nil {
		writeError(w, "move schema", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(detail.Checksum))
	writeJSON(w, http.StatusOK, detail)
}

// DeleteSchema handles DELETE /api/schemas/*.
//
//	@Summary		Delete a schema file
//	@Tags			schemas
//	@Param			path	path	string	true	"Catalog path"
//	@Success		204		"Schema deleted"
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/schemas/{path} [delete]
func (h *Handler) DeleteSchema(w http.ResponseWriter, r *http.Request) {
	path := catalogPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if err := h.svc.Delete(r.Context(), path); err != nil {
		writeError(w, "delete schema", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across catalog schemas
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

// Referrers handles GET /api/referrers/*.
//
//	@Summary		List catalog schemas referencing a target
//	@Tags			schemas
//	@Produce		json
//	@Param			target	path		string	true	"Catalog path or absolute locator"
//	@Success		200		{object}	ReferrersResponse
//	@Security		BearerAuth
//	@Router			/referrers/{target} [get]
func (h *Handler) Referrers(w http.ResponseWriter, r *http.Request) {
	target := catalogPath(r)
	if target == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("target is required"))
		return
	}
	refs, err := h.svc.Referrers(r.Context(), target)
	if err != nil {
		writeError(w, "referrers", err)
		return
	}
	writeJSON(w, http.StatusOK, ReferrersResponse{Target: target, Referrers: refs})
}

// RenderURL handles GET /api/render.
//
//	@Summary		Flatten a schema published at a URL
//	@Tags			render
//	@Produce		json,plain
//	@Param			url			query		string	true	"Absolute schema locator, fragment allowed"
//	@Param			relay		query		bool	false	"Fetch through the relay"
//	@Param			max_depth	query		int		false	"Recursion bound (1-64)"
//	@Param			format		query		string	false	"Response format"	Enums(json, text)
//	@Success		200			{object}	RenderResponse
//	@Failure		400			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Failure		502			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [get]
func (h *Handler) RenderURL(w http.ResponseWriter, r *http.Request) {
	locator := r.URL.Query().Get("url")
	if err := validation.Validate(locator, validation.Required, is.RequestURL); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("url: "+err.Error()))
		return
	}
	h.render(w, r, locator)
}

// RenderCatalog handles GET /api/render/*.
//
//	@Summary		Flatten a catalog schema
//	@Tags			render
//	@Produce		json,plain
//	@Param			path		path		string	true	"Catalog path"
//	@Param			fragment	query		string	false	"JSON pointer or anchor inside the document"
//	@Param			relay		query		bool	false	"Fetch external references through the relay"
//	@Param			max_depth	query		int		false	"Recursion bound (1-64)"
//	@Success		200			{object}	RenderResponse
//	@Failure		404			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render/{path} [get]
func (h *Handler) RenderCatalog(w http.ResponseWriter, r *http.Request) {
	path := catalogPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	if fragment := strings.TrimPrefix(r.URL.Query().Get("fragment"), "#"); fragment != "" {
		path += "#" + fragment
	}
	h.render(w, r, path)
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, locator string) {
	opts, err := h.renderOptions(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	table, err := h.svc.Render(r.Context(), locator, opts)
	if err != nil {
		writeError(w, "render", err)
		return
	}
	writeTable(w, r, table)
}

// RenderInline handles POST /api/render.
//
//	@Summary		Flatten a schema sent in the request body
//	@Tags			render
//	@Accept			json,yaml
//	@Produce		json,plain
//	@Param			base		query		string	false	"Locator relative references resolve against"
//	@Param			relay		query		bool	false	"Fetch external references through the relay"
//	@Param			max_depth	query		int		false	"Recursion bound (1-64)"
//	@Success		200			{object}	RenderResponse
//	@Failure		400			{object}	errResponse
//	@Failure		422			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/render [post]
func (h *Handler) RenderInline(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	if len(body) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("schema document is required"))
		return
	}
	opts, err := h.renderOptions(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	opts.Base = r.URL.Query().Get("base")

	table, err := h.svc.RenderDocument(r.Context(), body, opts)
	if err != nil {
		writeError(w, "render inline", err)
		return
	}
	writeTable(w, r, table)
}

// ImportSchema handles POST /api/import.
//
//	@Summary		Copy a remote schema into the catalog
//	@Tags			schemas
//	@Accept			json
//	@Produce		json
//	@Param			body	body		ImportRequest	true	"Remote schema"
//	@Success		201		{object}	SchemaDetail
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Failure		502		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) ImportSchema(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req ImportRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := validation.ValidateStruct(&req,
		validation.Field(&req.URL, validation.Required, is.RequestURL),
	); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	detail, err := h.svc.Import(r.Context(), req.URL, req.Path, req.Relay)
	if err != nil {
		writeError(w, "import schema", err)
		return
	}
	w.Header().Set("ETag", checksum.ETag(detail.Checksum))
	writeJSON(w, http.StatusCreated, detail)
}
