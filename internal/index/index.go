package index

import (
	"time"

	"github.com/starford/schable/internal/models"
)

// CatalogIndex defines the catalog indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type CatalogIndex interface {
	UpsertSchema(s models.SchemaFile, text string, targets []string) error
	DeleteSchema(path string) error
	GetChecksum(path string) (string, error)
	GetSchema(path string) (*models.SchemaFile, error)
	ListSchemas(limit, offset int, sort string) ([]models.SchemaFile, int, error)
	Search(query string, limit int) ([]SearchResult, error)
	Referrers(target string) ([]string, error)
	AllPaths() (map[string]struct{}, error)
	AllChecksums() (map[string]string, error)
	Close() error
}

// DocumentCache persists fetched remote documents.
type DocumentCache interface {
	GetDocument(locator string, maxAge time.Duration) ([]byte, string, bool, error)
	PutDocument(locator string, body []byte, contentType string) error
	PurgeDocuments(olderThan time.Duration) (int64, error)
}

// Verify *DB satisfies both interfaces at compile time.
var (
	_ CatalogIndex  = (*DB)(nil)
	_ DocumentCache = (*DB)(nil)
)
