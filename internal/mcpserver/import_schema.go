package mcpserver

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/schema"
	"github.com/starford/schable/internal/schemaservice"
)

const maxDataURISize = 4 << 20 // 4 MB

var mimeToFormat = map[string]schema.Format{
	"application/json":        schema.FormatJSON,
	"application/schema+json": schema.FormatJSON,
	"text/json":               schema.FormatJSON,
	"application/yaml":        schema.FormatYAML,
	"application/x-yaml":      schema.FormatYAML,
	"text/yaml":               schema.FormatYAML,
}

type importResult struct {
	Path     string `json:"path"`
	Title    string `json:"title"`
	Checksum string `json:"checksum"`
}

func (s *Server) importSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	p := req.GetString("path", "")

	var detail *schemaservice.SchemaDetail
	if strings.HasPrefix(rawURL, "data:") {
		detail, err = s.importDataURI(ctx, rawURL, p)
	} else {
		detail, err = s.importHTTP(ctx, rawURL, p, req.GetBool("relay", s.defaults.UseRelay))
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(importResult{Path: detail.Path, Title: detail.Title, Checksum: detail.Checksum})
}

func (s *Server) importHTTP(ctx context.Context, rawURL, p string, useRelay bool) (*schemaservice.SchemaDetail, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme: %s (only http/https)", parsed.Scheme)
	}
	return s.svc.Import(ctx, rawURL, p, useRelay)
}

func (s *Server) importDataURI(ctx context.Context, uri, p string) (*schemaservice.SchemaDetail, error) {
	data, format, err := decodeDataURI(uri)
	if err != nil {
		return nil, err
	}
	doc, err := schema.Decode(data, schema.DecodeOptions{Format: format})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrInvalidSchema, err)
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: data URI holds a %s", apperr.ErrInvalidSchema, doc.Kind())
	}
	body, err := doc.MarshalJSON()
	if err != nil {
		return nil, err
	}
	if p == "" {
		p = uuid.NewString() + ".json"
	}
	return s.svc.Create(ctx, p, body)
}

// decodeDataURI parses a data:<mediatype>;base64,<data> URI holding a JSON
// or YAML document.
func decodeDataURI(uri string) ([]byte, schema.Format, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, encoded, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, 0, errors.New("invalid data URI: missing comma separator")
	}
	if !strings.Contains(meta, ";base64") {
		return nil, 0, errors.New("only base64 data URIs are supported")
	}
	if base64.StdEncoding.DecodedLen(len(encoded)) > maxDataURISize {
		return nil, 0, fmt.Errorf("document too large: max %d bytes", maxDataURISize)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid base64 data: %w", err)
		}
	}

	mime := strings.Split(strings.TrimSuffix(meta, ";base64"), ";")[0]
	format, ok := mimeToFormat[strings.ToLower(mime)]
	if !ok {
		return nil, 0, fmt.Errorf("unsupported MIME type in data URI: %s", mime)
	}
	return data, format, nil
}
