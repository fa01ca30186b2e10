// Package testutil provides shared test helpers for setting up catalogs,
// databases and the rendering stack.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/index"
	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "schable-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestCatalog creates a temporary catalog directory with a storage.Provider.
// files maps slash paths to contents written before returning.
func TestCatalog(t *testing.T, files map[string]string) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	for p, content := range files {
		abs := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Logger discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestResolver builds a resolver serving catalog locators from store and
// http(s) locators through an HTTPSource that may reach httptest servers,
// with db as its document cache when non-nil.
func TestResolver(t *testing.T, store storage.Provider, db *index.DB) *resolver.Resolver {
	t.Helper()
	return TestResolverWith(t, store, db, resolver.HTTPConfig{AllowPrivateHosts: true})
}

// TestResolverWith is TestResolver with explicit HTTP settings.
func TestResolverWith(t *testing.T, store storage.Provider, db *index.DB, cfg resolver.HTTPConfig) *resolver.Resolver {
	t.Helper()
	httpSrc := resolver.NewHTTPSource(cfg)
	opts := resolver.Options{
		Sources: map[string]resolver.Source{
			"http":                 httpSrc,
			"https":                httpSrc,
			resolver.CatalogScheme: resolver.NewCatalogSource(store),
		},
		Logger: Logger(),
	}
	if db != nil {
		opts.Store = db
	}
	r, err := resolver.New(opts)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

// TestEngine builds a flattening engine over fetcher.
func TestEngine(fetcher resolver.Fetcher) *flatten.Engine {
	return flatten.NewEngine(fetcher, Logger(), nil)
}
