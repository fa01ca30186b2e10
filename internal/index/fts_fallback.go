//go:build !sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/schable/internal/models"
)

// Without FTS5 the schemas table itself is searched with LIKE.
func initFTS(*sql.DB) error { return nil }

func ftsUpsert(*sql.Tx, models.SchemaFile, string) error { return nil }

func ftsDelete(*sql.Tx, string) {}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// Search matches query as a substring of titles, descriptions, $id, paths
// and indexed text. Title hits rank first.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	like := "%" + likeEscaper.Replace(query) + "%"
	rows, err := db.conn.Query(`
		SELECT path, title,
		       CASE WHEN description <> '' THEN description ELSE substr(body, 1, 200) END
		FROM schemas
		WHERE title LIKE ?1 ESCAPE '\'
		   OR description LIKE ?1 ESCAPE '\'
		   OR body LIKE ?1 ESCAPE '\'
		   OR schema_id LIKE ?1 ESCAPE '\'
		   OR path LIKE ?1 ESCAPE '\'
		ORDER BY (title LIKE ?1 ESCAPE '\') DESC, path
		LIMIT ?2
	`, like, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
