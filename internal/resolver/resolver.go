// Package resolver loads schema documents by locator: over HTTP(S), through
// an optional CORS relay, or from the local catalog.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/starford/schable/internal/schema"
)

// DefaultCacheSize is the number of decoded documents kept in memory.
const DefaultCacheSize = 256

// Fetcher loads the document at locator. The relay flag is passed on every
// call; there is no resolver-wide relay setting.
type Fetcher interface {
	Fetch(ctx context.Context, locator string, useRelay bool) (*schema.Node, error)
}

// DocumentStore persists fetched document bodies between runs.
type DocumentStore interface {
	GetDocument(locator string, maxAge time.Duration) (body []byte, contentType string, ok bool, err error)
	PutDocument(locator string, body []byte, contentType string) error
}

// Options configures a Resolver.
type Options struct {
	// Sources maps a locator scheme ("https", "catalog", ...) to its source.
	Sources map[string]Source
	// Store, when set, caches remote bodies for StoreTTL.
	Store     DocumentStore
	StoreTTL  time.Duration
	CacheSize int
	// Repair enables lenient JSON decoding.
	Repair  bool
	Metrics *Metrics
	Logger  *slog.Logger
}

// Resolver implements Fetcher on top of a set of Sources. Remote documents
// are cached in memory and optionally in a DocumentStore; concurrent
// requests for the same document share one fetch. Catalog documents are
// always read fresh.
type Resolver struct {
	sources map[string]Source
	store   DocumentStore
	ttl     time.Duration
	repair  bool
	cache   *lru.Cache[string, *schema.Node]
	group   singleflight.Group
	metrics *Metrics
	logger  *slog.Logger
}

// New creates a Resolver.
func New(opts Options) (*Resolver, error) {
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, *schema.Node](size)
	if err != nil {
		return nil, fmt.Errorf("create document cache: %w", err)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sources := make(map[string]Source, len(opts.Sources))
	for scheme, src := range opts.Sources {
		sources[strings.ToLower(scheme)] = src
	}
	return &Resolver{
		sources: sources,
		store:   opts.Store,
		ttl:     opts.StoreTTL,
		repair:  opts.Repair,
		cache:   cache,
		metrics: opts.Metrics,
		logger:  logger,
	}, nil
}

// StripFragment returns locator without its "#..." part.
func StripFragment(locator string) string {
	if i := strings.IndexByte(locator, '#'); i >= 0 {
		return locator[:i]
	}
	return locator
}

// Fetch loads and decodes the document at locator. Any fragment is ignored.
// Every failure is a *FetchError.
func (r *Resolver) Fetch(ctx context.Context, locator string, useRelay bool) (*schema.Node, error) {
	locator = StripFragment(locator)
	fail := func(err error) (*schema.Node, error) {
		return nil, &FetchError{Locator: locator, Relay: useRelay, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	u, err := url.Parse(locator)
	if err != nil {
		return fail(err)
	}
	scheme := strings.ToLower(u.Scheme)
	src, ok := r.sources[scheme]
	if !ok {
		return fail(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if scheme == CatalogScheme {
		doc, err := r.load(ctx, src, locator, false)
		if err != nil {
			return fail(err)
		}
		return doc, nil
	}

	if doc, ok := r.cache.Get(locator); ok {
		r.metrics.hit("memory")
		return doc, nil
	}

	key := locator
	if useRelay {
		key = "relay|" + locator
	}
	ch := r.group.DoChan(key, func() (any, error) {
		// The shared fetch outlives any single caller's cancellation.
		return r.load(context.WithoutCancel(ctx), src, locator, useRelay)
	})
	select {
	case <-ctx.Done():
		return fail(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return fail(res.Err)
		}
		doc := res.Val.(*schema.Node)
		r.cache.Add(locator, doc)
		return doc, nil
	}
}

func (r *Resolver) load(ctx context.Context, src Source, locator string, useRelay bool) (*schema.Node, error) {
	cacheable := r.store != nil && !strings.HasPrefix(locator, CatalogScheme+":")
	if cacheable {
		body, contentType, ok, err := r.store.GetDocument(locator, r.ttl)
		if err != nil {
			r.logger.Warn("document cache read failed", slog.String("locator", locator), slog.Any("err", err))
		} else if ok {
			doc, err := r.decode(locator, body, contentType)
			if err == nil {
				r.metrics.hit("sqlite")
				return doc, nil
			}
			r.logger.Warn("cached document no longer decodes", slog.String("locator", locator), slog.Any("err", err))
		}
	}

	raw, err := src.Get(ctx, locator, useRelay)
	r.metrics.fetched(err)
	if err != nil {
		return nil, err
	}
	doc, err := r.decode(locator, raw.Body, raw.ContentType)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("document fetched",
		slog.String("locator", locator),
		slog.Bool("relay", useRelay),
		slog.Int("bytes", len(raw.Body)),
	)

	if cacheable {
		if err := r.store.PutDocument(locator, raw.Body, raw.ContentType); err != nil {
			r.logger.Warn("document cache write failed", slog.String("locator", locator), slog.Any("err", err))
		}
	}
	return doc, nil
}

func (r *Resolver) decode(locator string, body []byte, contentType string) (*schema.Node, error) {
	doc, err := schema.Decode(body, schema.DecodeOptions{
		Format: schema.FormatFor(locator, contentType),
		Repair: r.repair,
	})
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return doc, nil
}

// Forget drops locator from the in-memory cache.
func (r *Resolver) Forget(locator string) {
	r.cache.Remove(StripFragment(locator))
}

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
