// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes schable tools for LLM integration via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/schemaservice"
)

// RowFormatURI addresses the row format resource.
const RowFormatURI = "schable://row-format"

// Server wraps the MCP server with schable tools.
type Server struct {
	mcp      *server.MCPServer
	svc      *schemaservice.Service
	defaults flatten.Options
}

// New creates a new MCP server with all schable tools registered. defaults
// supplies max depth and relay when a render call omits them.
func New(svc *schemaservice.Service, defaults flatten.Options) *Server {
	s := &Server{svc: svc, defaults: defaults}

	s.mcp = server.NewMCPServer(
		"schable",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("render_schema",
		mcp.WithDescription("Flatten a JSON Schema into annotated rows, following $refs and "+
			"expanding allOf/oneOf/anyOf/not. Read the schable://row-format resource for the "+
			"meaning of each row field."),
		mcp.WithString("locator", mcp.Required(), mcp.Description("Absolute URL, or catalog path (e.g. people/person.json), optionally with a #fragment")),
		mcp.WithBoolean("relay", mcp.Description("Fetch remote documents through the relay")),
		mcp.WithNumber("max_depth", mcp.Description("Recursion bound, 1-64 (default 8)")),
		mcp.WithString("format", mcp.Enum("json", "text"), mcp.Description("Output format (default json)")),
	), s.renderSchema)

	s.mcp.AddTool(mcp.NewTool("list_schemas",
		mcp.WithDescription("List schemas in the local catalog."),
		mcp.WithNumber("limit", mcp.Description("Page size (default 50)")),
		mcp.WithNumber("offset", mcp.Description("Page offset")),
		mcp.WithString("sort", mcp.Enum("path", "title", "updated"), mcp.Description("Sort order")),
	), s.listSchemas)

	s.mcp.AddTool(mcp.NewTool("read_schema",
		mcp.WithDescription("Read the raw content of a catalog schema."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Catalog path (e.g. people/person.json)")),
	), s.readSchema)

	s.mcp.AddTool(mcp.NewTool("create_schema",
		mcp.WithDescription("Create a new JSON or YAML schema file in the catalog."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Catalog path ending in .json, .yaml or .yml")),
		mcp.WithString("content", mcp.Required(), mcp.Description("Schema document")),
	), s.createSchema)

	s.mcp.AddTool(mcp.NewTool("search_schemas",
		mcp.WithDescription("Full-text search through catalog schema titles, descriptions and property names."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
		mcp.WithNumber("limit", mcp.Description("Max results (default 20)")),
	), s.searchSchemas)

	s.mcp.AddTool(mcp.NewTool("get_referrers",
		mcp.WithDescription("Find all catalog schemas whose $refs point at the target."),
		mcp.WithString("target", mcp.Required(), mcp.Description("Catalog path or absolute locator")),
	), s.getReferrers)

	s.mcp.AddTool(mcp.NewTool("import_schema",
		mcp.WithDescription("Copy a remote schema into the catalog as JSON. Accepts http(s) URLs "+
			"and base64 data URIs."),
		mcp.WithString("url", mcp.Required(), mcp.Description("http(s) URL or data:application/json;base64,... URI")),
		mcp.WithString("path", mcp.Description("Catalog path to store it at (derived from the URL when omitted)")),
		mcp.WithBoolean("relay", mcp.Description("Fetch through the relay")),
	), s.importSchema)

	s.mcp.AddTool(mcp.NewTool("get_row_format",
		mcp.WithDescription("Returns the row format produced by render_schema."),
	), s.getRowFormat)

	s.mcp.AddResource(
		mcp.NewResource(RowFormatURI, "Row Format",
			mcp.WithResourceDescription("Fields and ordering rules of flattened schema rows."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readRowFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) renderSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	locator, err := req.RequireString("locator")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	opts := s.defaults
	opts.UseRelay = req.GetBool("relay", s.defaults.UseRelay)
	if d := req.GetInt("max_depth", 0); d != 0 {
		if d < 1 || d > flatten.MaxDepthLimit {
			return mcp.NewToolResultError(fmt.Sprintf("max_depth must be between 1 and %d", flatten.MaxDepthLimit)), nil
		}
		opts.MaxDepth = d
	}

	table, err := s.svc.Render(ctx, locator, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if req.GetString("format", "json") == "text" {
		var buf bytes.Buffer
		if err := flatten.WriteText(&buf, table); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(buf.String()), nil
	}
	return jsonResult(table)
}

func (s *Server) listSchemas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.List(ctx, req.GetInt("limit", 0), req.GetInt("offset", 0), req.GetString("sort", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"schemas": items, "total": total})
}

func (s *Server) readSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	detail, err := s.svc.Get(ctx, path)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("not found: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(detail.Content), nil
}

func (s *Server) createSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if _, err := s.svc.Create(ctx, path, []byte(content)); err != nil {
		if errors.Is(err, apperr.ErrAlreadyExists) {
			return mcp.NewToolResultError(fmt.Sprintf("schema already exists: %s", path)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("created: %s", path)), nil
}

func (s *Server) searchSchemas(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, req.GetInt("limit", 20))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

func (s *Server) getReferrers(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	target, err := req.RequireString("target")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	refs, err := s.svc.Referrers(ctx, target)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(refs) == 0 {
		return mcp.NewToolResultText("no referrers found"), nil
	}
	sources := make([]string, len(refs))
	for i, r := range refs {
		sources[i] = r.Source
	}
	return mcp.NewToolResultText(strings.Join(sources, "\n")), nil
}

func (s *Server) getRowFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(RowFormatContract), nil
}

func (s *Server) readRowFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      RowFormatURI,
			MIMEType: "text/markdown",
			Text:     RowFormatContract,
		},
	}, nil
}
