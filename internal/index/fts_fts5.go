//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/starford/schable/internal/models"
)

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS schemas_fts USING fts5(
			path UNINDEXED,
			title,
			description,
			body,
			schema_id,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func ftsUpsert(tx *sql.Tx, s models.SchemaFile, text string) error {
	ftsDelete(tx, s.Path)
	_, err := tx.Exec(`INSERT INTO schemas_fts (path, title, description, body, schema_id) VALUES (?, ?, ?, ?, ?)`,
		s.Path, s.Title, s.Description, text, s.SchemaID)
	if err != nil {
		return fmt.Errorf("index: upsert fts: %w", err)
	}
	return nil
}

func ftsDelete(tx *sql.Tx, path string) {
	_, _ = tx.Exec(`DELETE FROM schemas_fts WHERE path = ?`, path)
}

// matchQuery turns free text into an FTS5 expression: every term quoted and
// prefix-matched, all terms required. Schema vocabulary is full of "$", "/"
// and "." which are FTS5 syntax otherwise.
func matchQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"*`
	}
	return strings.Join(terms, " ")
}

// Search runs an FTS5 query ordered by rank, with a snippet from the
// indexed text.
func (db *DB) Search(query string, limit int) ([]SearchResult, error) {
	match := matchQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT path,
		       title,
		       snippet(schemas_fts, 3, '<b>', '</b>', '...', 64)
		FROM schemas_fts
		WHERE schemas_fts MATCH ?
		ORDER BY rank
		LIMIT ?
	`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("index: search: %w", err)
	}
	return scanResults(rows)
}
