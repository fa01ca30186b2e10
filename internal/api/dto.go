package api

import (
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/index"
	"github.com/starford/schable/internal/models"
	"github.com/starford/schable/internal/schemaservice"
)

// CreateSchemaRequest is the request body for creating a schema file.
type CreateSchemaRequest struct {
	Path    string `json:"path" example:"people/person.json" validate:"required"`
	Content string `json:"content" example:"{\"type\":\"object\"}" validate:"required"`
}

// UpdateSchemaRequest is the request body for replacing a schema file.
type UpdateSchemaRequest struct {
	Content string `json:"content" example:"{\"type\":\"object\"}" validate:"required"`
}

// MoveSchemaRequest renames a schema file.
type MoveSchemaRequest struct {
	From string `json:"from" example:"person.json" validate:"required"`
	To   string `json:"to" example:"people/person.json" validate:"required"`
}

// ImportRequest asks the server to copy a remote schema into the catalog.
type ImportRequest struct {
	URL   string `json:"url" example:"https://json.schemastore.org/package.json" validate:"required"`
	Path  string `json:"path,omitempty" example:"vendor/package.json"`
	Relay bool   `json:"relay,omitempty"`
}

// SchemaDetail is the full schema response type (aliased from the domain layer).
type SchemaDetail = schemaservice.SchemaDetail

// SchemaListResponse wraps paginated schema listings.
type SchemaListResponse struct {
	Schemas []models.SchemaFile `json:"schemas" validate:"required"`
	Total   int                 `json:"total" example:"42" validate:"required"`
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []index.SearchResult `json:"results" validate:"required"`
}

// ReferrersResponse lists the catalog files referencing a target.
type ReferrersResponse struct {
	Target    string             `json:"target" example:"common/address.json" validate:"required"`
	Referrers []models.Reference `json:"referrers" validate:"required"`
}

// RenderResponse is a flattened schema table.
type RenderResponse = flatten.Table
