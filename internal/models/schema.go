// Package models defines the catalog types shared by storage, index and the
// HTTP and MCP surfaces.
package models

import "time"

// SchemaFile is a schema document stored in the catalog.
type SchemaFile struct {
	Path        string    `json:"path"`
	Title       string    `json:"title,omitempty"`
	SchemaID    string    `json:"schema_id,omitempty"`
	Type        string    `json:"type,omitempty"`
	Dialect     string    `json:"dialect,omitempty"`
	Description string    `json:"description,omitempty"`
	Checksum    string    `json:"checksum"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// FileMetadata is a lightweight representation returned by list operations.
type FileMetadata struct {
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reference is a directed $ref edge from a catalog file to a target
// locator (document part only).
type Reference struct {
	Source string `json:"source"`
	Target string `json:"target"`
}
