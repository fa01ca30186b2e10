package resolver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T, opts Options) *Resolver {
	t.Helper()
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestFetch_DecodesAndCaches(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"type":"object","properties":{"a":{"type":"string"}}}`))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := newTestResolver(t, Options{
		Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})},
		Metrics: m,
	})

	doc, err := r.Fetch(context.Background(), srv.URL+"/person.json#/properties", false)
	require.NoError(t, err)
	assert.Equal(t, []string{"type", "properties"}, doc.Keys())

	again, err := r.Fetch(context.Background(), srv.URL+"/person.json", false)
	require.NoError(t, err)
	assert.Same(t, doc, again)
	assert.Equal(t, int32(1), hits.Load())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheHits.WithLabelValues("memory")))
}

func TestFetch_RelayRewritesLocator(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.URL.Query().Get("u")
		_, _ = w.Write([]byte(`{"type":"string"}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(HTTPConfig{RelayPrefix: srv.URL + "/relay?u=", AllowPrivateHosts: true})
	assert.Equal(t, srv.URL+"/relay?u=https%3A%2F%2Fexample.com%2Fs.json", src.RelayURL("https://example.com/s.json"))

	r := newTestResolver(t, Options{Sources: map[string]Source{"http": src, "https": src}})
	doc, err := r.Fetch(context.Background(), "https://example.com/s.json", true)
	require.NoError(t, err)
	assert.Equal(t, "string", doc.TypeLabel())
	assert.Equal(t, "https://example.com/s.json", seen)
}

func TestFetch_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing.json":
			http.NotFound(w, r)
		case "/broken.json":
			_, _ = w.Write([]byte(`{"type":`))
		case "/large.json":
			_, _ = w.Write([]byte(`{"description":"` + strings.Repeat("x", 256) + `"}`))
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := newTestResolver(t, Options{
		Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{MaxBodyBytes: 64, AllowPrivateHosts: true})},
		Metrics: m,
	})

	for _, loc := range []string{srv.URL + "/missing.json", srv.URL + "/broken.json", srv.URL + "/large.json", "ftp://example.com/x.json"} {
		_, err := r.Fetch(context.Background(), loc, false)
		var fe *FetchError
		require.ErrorAs(t, err, &fe, loc)
		assert.Equal(t, loc, fe.Locator)
		assert.False(t, fe.Relay)
		assert.True(t, IsFetchError(err))
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fetches.WithLabelValues("error")))
}

func TestFetch_YAMLByContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte("type: array\nitems:\n  type: string\n"))
	}))
	defer srv.Close()

	r := newTestResolver(t, Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})}})
	doc, err := r.Fetch(context.Background(), srv.URL+"/list", false)
	require.NoError(t, err)
	assert.Equal(t, "array", doc.TypeLabel())
}

func TestFetch_LenientJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{type: 'boolean'}`))
	}))
	defer srv.Close()

	strict := newTestResolver(t, Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})}})
	_, err := strict.Fetch(context.Background(), srv.URL+"/s.json", false)
	require.Error(t, err)

	lenient := newTestResolver(t, Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})}, Repair: true})
	doc, err := lenient.Fetch(context.Background(), srv.URL+"/s.json", false)
	require.NoError(t, err)
	assert.Equal(t, "boolean", doc.TypeLabel())
}

func TestFetch_ConcurrentCallsShareOneRequest(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte(`{"type":"string"}`))
	}))
	defer srv.Close()

	r := newTestResolver(t, Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Fetch(context.Background(), srv.URL+"/s.json", false)
			assert.NoError(t, err)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetch_CanceledContext(t *testing.T) {
	r := newTestResolver(t, Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Fetch(ctx, "http://127.0.0.1:1/never.json", false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

type memStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (s *memStore) GetDocument(locator string, _ time.Duration) ([]byte, string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.docs[locator]
	return b, "", ok, nil
}

func (s *memStore) PutDocument(locator string, body []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[locator] = body
	return nil
}

func TestFetch_PersistentStoreSurvivesNewResolver(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"type":"integer"}`))
	}))
	defer srv.Close()

	store := &memStore{docs: map[string][]byte{}}
	opts := Options{Sources: map[string]Source{"http": NewHTTPSource(HTTPConfig{AllowPrivateHosts: true})}, Store: store, StoreTTL: time.Hour}

	_, err := newTestResolver(t, opts).Fetch(context.Background(), srv.URL+"/n.json", false)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	opts.Metrics = NewMetrics(reg)
	doc, err := newTestResolver(t, opts).Fetch(context.Background(), srv.URL+"/n.json", false)
	require.NoError(t, err)
	assert.Equal(t, "integer", doc.TypeLabel())
	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.cacheHits.WithLabelValues("sqlite")))
}

type mapReader map[string]string

func (m mapReader) Read(path string) ([]byte, error) {
	s, ok := m[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return []byte(s), nil
}

func TestFetch_CatalogIsReadFresh(t *testing.T) {
	files := mapReader{"people/person.yaml": "type: object\n"}
	r := newTestResolver(t, Options{Sources: map[string]Source{CatalogScheme: NewCatalogSource(files)}})

	loc := CatalogLocator("people/person.yaml")
	assert.Equal(t, "catalog:/people/person.yaml", loc)

	doc, err := r.Fetch(context.Background(), loc+"#/properties", false)
	require.NoError(t, err)
	assert.Equal(t, "object", doc.TypeLabel())

	files["people/person.yaml"] = "type: string\n"
	doc, err = r.Fetch(context.Background(), loc, false)
	require.NoError(t, err)
	assert.Equal(t, "string", doc.TypeLabel())

	_, err = r.Fetch(context.Background(), CatalogLocator("nope.json"), false)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
