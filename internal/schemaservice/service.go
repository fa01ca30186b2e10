// Package schemaservice coordinates catalog storage, the index and the
// flattening engine behind the HTTP and MCP surfaces.
package schemaservice

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/checksum"
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/index"
	"github.com/starford/schable/internal/models"
	"github.com/starford/schable/internal/parser"
	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schema"
	"github.com/starford/schable/internal/storage"
)

// SchemaDetail is the full representation of a catalog schema.
type SchemaDetail struct {
	models.SchemaFile
	Caption   string   `json:"caption,omitempty"`
	Content   string   `json:"content"`
	Refs      []string `json:"refs"`
	Anchors   []string `json:"anchors"`
	Referrers []string `json:"referrers"`
}

// Service coordinates storage, index and rendering.
type Service struct {
	store   storage.Provider
	db      *index.DB
	engine  *flatten.Engine
	fetcher resolver.Fetcher
	lenient bool
}

// NewService creates a schema service. fetcher is used by Import and may be
// the same resolver the engine was built with.
func NewService(store storage.Provider, db *index.DB, engine *flatten.Engine, fetcher resolver.Fetcher, lenient bool) *Service {
	return &Service{store: store, db: db, engine: engine, fetcher: fetcher, lenient: lenient}
}

// Get reads a schema from the catalog and enriches it with its referrers.
func (s *Service) Get(_ context.Context, p string) (*SchemaDetail, error) {
	data, err := s.read(p)
	if err != nil {
		return nil, err
	}
	return s.detail(p, data)
}

// Create writes a new schema file and indexes it.
func (s *Service) Create(_ context.Context, p string, content []byte) (*SchemaDetail, error) {
	if err := checkPath(p); err != nil {
		return nil, err
	}
	if _, err := s.store.Read(p); err == nil {
		return nil, apperr.ErrAlreadyExists
	}
	return s.write(p, content)
}

// Update replaces a schema file. A non-empty ifMatch must equal the
// checksum of the current content.
func (s *Service) Update(_ context.Context, p string, content []byte, ifMatch string) (*SchemaDetail, error) {
	existing, err := s.read(p)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(existing) {
		return nil, apperr.ErrConflict
	}
	return s.write(p, content)
}

// Delete removes a schema file from storage and index.
func (s *Service) Delete(_ context.Context, p string) error {
	if err := s.store.Delete(p); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return apperr.ErrNotFound
		}
		return err
	}
	return s.db.DeleteSchema(p)
}

// Move renames a schema file. Its relative references are re-indexed
// against the new location; files that referred to the old path are left
// as they are. The new path must keep a compatible format.
func (s *Service) Move(_ context.Context, from, to, ifMatch string) (*SchemaDetail, error) {
	if err := checkPath(to); err != nil {
		return nil, err
	}
	data, err := s.read(from)
	if err != nil {
		return nil, err
	}
	if ifMatch != "" && ifMatch != checksum.Sum(data) {
		return nil, apperr.ErrConflict
	}
	if _, err := parser.Parse(to, data, s.lenient); err != nil {
		return nil, err
	}
	if err := s.store.Move(from, to); err != nil {
		return nil, err
	}
	if err := s.db.DeleteSchema(from); err != nil {
		return nil, err
	}
	if err := index.IndexFile(s.db, to, data, s.lenient); err != nil {
		return nil, err
	}
	return s.detail(to, data)
}

// List returns a page of indexed schemas.
func (s *Service) List(_ context.Context, limit, offset int, sort string) ([]models.SchemaFile, int, error) {
	items, total, err := s.db.ListSchemas(limit, offset, sort)
	if err != nil {
		return nil, 0, err
	}
	return nonNilSlice(items), total, nil
}

// Search delegates full-text search to the index.
func (s *Service) Search(_ context.Context, query string, limit int) ([]index.SearchResult, error) {
	results, err := s.db.Search(query, limit)
	return nonNilSlice(results), err
}

// Referrers returns the catalog files whose references point at target, a
// catalog path or an absolute locator. Fragments are ignored.
func (s *Service) Referrers(_ context.Context, target string) ([]models.Reference, error) {
	target = resolver.StripFragment(target)
	sources, err := s.db.Referrers(target)
	if err != nil {
		return nil, err
	}
	out := make([]models.Reference, len(sources))
	for i, src := range sources {
		out[i] = models.Reference{Source: src, Target: target}
	}
	return out, nil
}

// Render flattens the schema named by locator: an absolute locator, or a
// catalog path optionally followed by a fragment.
func (s *Service) Render(ctx context.Context, locator string, opts flatten.Options) (*flatten.Table, error) {
	loc, err := s.locate(locator)
	if err != nil {
		return nil, err
	}
	table, err := s.engine.Render(ctx, loc, opts)
	if err != nil {
		var le *flatten.LoadError
		if errors.As(err, &le) && errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", apperr.ErrNotFound, locator)
		}
		return nil, err
	}
	return table, nil
}

// RenderDocument flattens a schema supplied inline. References relative to
// the document resolve against base when it is set.
func (s *Service) RenderDocument(ctx context.Context, content []byte, opts flatten.Options) (*flatten.Table, error) {
	doc, err := schema.Decode(content, schema.DecodeOptions{Repair: s.lenient})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSchema, err)
	}
	if opts.Base != "" {
		if opts.Base, err = s.locate(opts.Base); err != nil {
			return nil, err
		}
	}
	return s.engine.RenderDocument(ctx, doc, opts)
}

// Import fetches a remote schema and stores it in the catalog as JSON. An
// empty path is derived from the locator's file name, falling back to a
// random name. Fetch failures are *flatten.LoadError.
func (s *Service) Import(ctx context.Context, locator, p string, useRelay bool) (*SchemaDetail, error) {
	doc, err := s.fetcher.Fetch(ctx, resolver.StripFragment(locator), useRelay)
	if err != nil {
		return nil, &flatten.LoadError{Locator: locator, Err: err}
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: %s is a %s", apperr.ErrInvalidSchema, locator, doc.Kind())
	}
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if p == "" {
		p = ImportName(locator)
	}
	return s.Create(ctx, p, body)
}

// ImportName derives a catalog file name from a remote locator.
func ImportName(locator string) string {
	if u, err := url.Parse(resolver.StripFragment(locator)); err == nil {
		base := path.Base(u.Path)
		if base != "." && base != "/" && storage.IsSchemaFile(base) {
			return strings.TrimSuffix(base, path.Ext(base)) + ".json"
		}
	}
	return uuid.NewString() + ".json"
}

func (s *Service) locate(locator string) (string, error) {
	if u, err := url.Parse(locator); err == nil && len(u.Scheme) > 1 {
		return locator, nil
	}
	p, fragment, hasFragment := strings.Cut(locator, "#")
	if err := checkPath(p); err != nil {
		return "", err
	}
	loc := resolver.CatalogLocator(p)
	if hasFragment {
		loc += "#" + fragment
	}
	return loc, nil
}

func (s *Service) read(p string) ([]byte, error) {
	data, err := s.store.Read(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *Service) write(p string, content []byte) (*SchemaDetail, error) {
	if _, err := parser.Parse(p, content, s.lenient); err != nil {
		return nil, err
	}
	if err := s.store.Write(p, content); err != nil {
		return nil, err
	}
	if err := index.IndexFile(s.db, p, content, s.lenient); err != nil {
		return nil, err
	}
	return s.detail(p, content)
}

// detail builds a SchemaDetail from raw data without re-reading the file.
func (s *Service) detail(p string, data []byte) (*SchemaDetail, error) {
	res, err := parser.Parse(p, data, s.lenient)
	if err != nil {
		return nil, err
	}
	referrers, err := s.db.Referrers(p)
	if err != nil {
		return nil, err
	}
	d := &SchemaDetail{
		SchemaFile: models.SchemaFile{
			Path:        p,
			Title:       res.Title,
			SchemaID:    res.Summary.ID,
			Type:        res.Summary.Type,
			Dialect:     res.Summary.Dialect,
			Description: res.Summary.Description,
			Checksum:    checksum.Sum(data),
		},
		Caption:   res.Summary.Caption,
		Content:   string(data),
		Refs:      nonNilSlice(res.Refs),
		Anchors:   nonNilSlice(res.Anchors),
		Referrers: nonNilSlice(referrers),
	}
	if indexed, err := s.db.GetSchema(p); err == nil {
		d.UpdatedAt = indexed.UpdatedAt
	}
	return d, nil
}

func checkPath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || !storage.IsSchemaFile(p) {
		return fmt.Errorf("%w: %q", apperr.ErrInvalidPath, p)
	}
	return nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
