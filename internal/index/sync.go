package index

import (
	"log/slog"
	"time"

	"github.com/starford/schable/internal/checksum"
	"github.com/starford/schable/internal/models"
	"github.com/starford/schable/internal/parser"
	"github.com/starford/schable/internal/storage"
)

// Sync brings the index in line with the catalog directory: files whose
// checksum changed are re-parsed, files gone from disk are dropped. Files
// that do not decode are logged and left out of the index.
func Sync(db *DB, store storage.Provider, lenient bool, logger *slog.Logger) error {
	return reconcile(db, store, lenient, logger, nil)
}

// reconcile is Sync with a callback for every index change.
func reconcile(db *DB, store storage.Provider, lenient bool, logger *slog.Logger, cb EventCallback) error {
	metas, err := store.List("")
	if err != nil {
		return err
	}
	indexed, err := db.AllChecksums()
	if err != nil {
		return err
	}

	onDisk := make(map[string]bool, len(metas))
	for _, m := range metas {
		onDisk[m.Path] = true
		prev, known := indexed[m.Path]
		if known && prev == m.Checksum {
			continue
		}
		data, err := store.Read(m.Path)
		if err != nil {
			logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		if err := IndexFile(db, m.Path, data, lenient); err != nil {
			logger.Warn("sync: index failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: indexed", slog.String("path", m.Path))
		if cb != nil {
			kind := "created"
			if known {
				kind = "updated"
			}
			cb(kind, m.Path)
		}
	}

	for p := range indexed {
		if onDisk[p] {
			continue
		}
		if err := db.DeleteSchema(p); err != nil {
			logger.Warn("sync: delete failed", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		logger.Debug("sync: removed stale", slog.String("path", p))
		if cb != nil {
			cb("deleted", p)
		}
	}
	return nil
}

// IndexFile parses data and upserts it into the DB together with the
// documents its references point at.
func IndexFile(db *DB, path string, data []byte, lenient bool) error {
	res, err := parser.Parse(path, data, lenient)
	if err != nil {
		return err
	}
	return db.UpsertSchema(models.SchemaFile{
		Path:        path,
		Title:       res.Title,
		SchemaID:    res.Summary.ID,
		Type:        res.Summary.Type,
		Dialect:     res.Summary.Dialect,
		Description: res.Summary.Description,
		Checksum:    checksum.Sum(data),
		UpdatedAt:   time.Now(),
	}, res.Text, parser.Targets(path, res.Refs))
}
