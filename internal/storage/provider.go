// Package storage defines the schema catalog file-system abstraction.
package storage

import (
	"path"
	"strings"

	"github.com/starford/schable/internal/models"
)

// Provider is the interface for catalog file operations. Paths are
// slash-separated and relative to the catalog root.
type Provider interface {
	// List returns metadata for every schema file under dir.
	List(dir string) ([]models.FileMetadata, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
}

// IsSchemaFile reports whether name carries a schema document extension.
func IsSchemaFile(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
