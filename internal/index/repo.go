package index

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/models"
)

// SearchResult represents one search hit.
type SearchResult struct {
	Path    string `json:"path"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

func scanResults(rows *sql.Rows) ([]SearchResult, error) {
	defer rows.Close()
	var out []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Path, &r.Title, &r.Snippet); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertSchema inserts or replaces a schema file, its FTS entry, and its
// reference targets within a transaction.
func (db *DB) UpsertSchema(s models.SchemaFile, text string, targets []string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	_, err = tx.Exec(`
		INSERT INTO schemas (path, title, schema_id, type, dialect, description, checksum, body, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title       = excluded.title,
			schema_id   = excluded.schema_id,
			type        = excluded.type,
			dialect     = excluded.dialect,
			description = excluded.description,
			checksum    = excluded.checksum,
			body        = excluded.body,
			updated_at  = excluded.updated_at
	`, s.Path, s.Title, s.SchemaID, s.Type, s.Dialect, s.Description, s.Checksum, text, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("index: upsert schema: %w", err)
	}

	if err := ftsUpsert(tx, s, text); err != nil {
		return err
	}

	_, _ = tx.Exec(`DELETE FROM refs WHERE source = ?`, s.Path)
	if len(targets) > 0 {
		stmt, err := tx.Prepare(`INSERT OR IGNORE INTO refs (source, target) VALUES (?, ?)`)
		if err != nil {
			return fmt.Errorf("index: prepare ref insert: %w", err)
		}
		defer stmt.Close()
		for _, target := range targets {
			if _, err := stmt.Exec(s.Path, target); err != nil {
				return fmt.Errorf("index: insert ref: %w", err)
			}
		}
	}

	return tx.Commit()
}

// DeleteSchema removes a schema file, its FTS entry, and outgoing refs.
func (db *DB) DeleteSchema(path string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ftsDelete(tx, path)
	_, _ = tx.Exec(`DELETE FROM refs WHERE source = ?`, path)
	_, _ = tx.Exec(`DELETE FROM schemas WHERE path = ?`, path)

	return tx.Commit()
}

// GetChecksum returns the stored checksum for a file, or empty string if not found.
func (db *DB) GetChecksum(path string) (string, error) {
	var cs string
	err := db.conn.QueryRow(`SELECT checksum FROM schemas WHERE path = ?`, path).Scan(&cs)
	if err != nil {
		return "", nil // not found is fine
	}
	return cs, nil
}

const schemaColumns = `path, title, schema_id, type, dialect, description, checksum, updated_at`

func scanSchema(sc interface{ Scan(...any) error }) (models.SchemaFile, error) {
	var s models.SchemaFile
	err := sc.Scan(&s.Path, &s.Title, &s.SchemaID, &s.Type, &s.Dialect, &s.Description, &s.Checksum, &s.UpdatedAt)
	return s, err
}

// GetSchema returns the indexed metadata of one file.
func (db *DB) GetSchema(path string) (*models.SchemaFile, error) {
	s, err := scanSchema(db.conn.QueryRow(`SELECT `+schemaColumns+` FROM schemas WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("index: get schema: %w", err)
	}
	return &s, nil
}

var sortOrders = map[string]string{
	"":        "path ASC",
	"path":    "path ASC",
	"title":   "title COLLATE NOCASE ASC, path ASC",
	"updated": "updated_at DESC, path ASC",
}

// ListSchemas returns a page of indexed files and the total count.
// sort is one of "path" (default), "title" or "updated".
func (db *DB) ListSchemas(limit, offset int, sort string) ([]models.SchemaFile, int, error) {
	order, ok := sortOrders[sort]
	if !ok {
		return nil, 0, fmt.Errorf("index: unknown sort %q", sort)
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM schemas`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("index: count schemas: %w", err)
	}

	rows, err := db.conn.Query(`SELECT `+schemaColumns+` FROM schemas ORDER BY `+order+` LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("index: list schemas: %w", err)
	}
	defer rows.Close()

	var out []models.SchemaFile
	for rows.Next() {
		s, err := scanSchema(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}

// AllPaths returns every indexed file path.
func (db *DB) AllPaths() (map[string]struct{}, error) {
	rows, err := db.conn.Query(`SELECT path FROM schemas`)
	if err != nil {
		return nil, fmt.Errorf("index: all paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out[p] = struct{}{}
	}
	return out, rows.Err()
}

// AllChecksums returns the stored checksum of every indexed file.
func (db *DB) AllChecksums() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT path, checksum FROM schemas`)
	if err != nil {
		return nil, fmt.Errorf("index: all checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// Referrers returns all file paths whose $refs point at target, which is
// a catalog path or an absolute locator without fragment.
func (db *DB) Referrers(target string) ([]string, error) {
	rows, err := db.conn.Query(`SELECT source FROM refs WHERE target = ? ORDER BY source`, target)
	if err != nil {
		return nil, fmt.Errorf("index: referrers: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
