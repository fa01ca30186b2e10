package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/schable/internal/checksum"
)

// GetDocument returns a cached document body fetched no longer than maxAge
// ago. A maxAge of zero or less never expires entries.
func (db *DB) GetDocument(locator string, maxAge time.Duration) ([]byte, string, bool, error) {
	var (
		body        []byte
		contentType string
		fetchedAt   int64
	)
	err := db.conn.QueryRow(`SELECT body, content_type, fetched_at FROM documents WHERE locator = ?`, locator).
		Scan(&body, &contentType, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", false, nil
	}
	if err != nil {
		return nil, "", false, fmt.Errorf("index: get document: %w", err)
	}
	if maxAge > 0 && time.Since(time.Unix(fetchedAt, 0)) > maxAge {
		return nil, "", false, nil
	}
	return body, contentType, true, nil
}

// PutDocument stores or refreshes a fetched document.
func (db *DB) PutDocument(locator string, body []byte, contentType string) error {
	_, err := db.conn.Exec(`
		INSERT INTO documents (locator, body, content_type, checksum, fetched_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(locator) DO UPDATE SET
			body         = excluded.body,
			content_type = excluded.content_type,
			checksum     = excluded.checksum,
			fetched_at   = excluded.fetched_at
	`, locator, body, contentType, checksum.Sum(body), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("index: put document: %w", err)
	}
	return nil
}

// PurgeDocuments deletes cached documents older than olderThan and reports
// how many were removed.
func (db *DB) PurgeDocuments(olderThan time.Duration) (int64, error) {
	res, err := db.conn.Exec(`DELETE FROM documents WHERE fetched_at < ?`, time.Now().Add(-olderThan).Unix())
	if err != nil {
		return 0, fmt.Errorf("index: purge documents: %w", err)
	}
	return res.RowsAffected()
}
