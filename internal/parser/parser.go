// Package parser decodes catalog schema files and extracts what the index
// needs: summary metadata, outbound references, anchors and search text.
package parser

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/schema"
)

// Result holds the output of parsing a schema file.
type Result struct {
	Document *schema.Node
	Summary  flatten.Summary
	Title    string
	Refs     []string
	Anchors  []string
	Text     string
}

// Parse decodes data as the catalog file name. The format follows the file
// extension; lenient enables JSON repair. Undecodable input wraps
// apperr.ErrInvalidSchema.
func Parse(name string, data []byte, lenient bool) (*Result, error) {
	doc, err := schema.Decode(data, schema.DecodeOptions{
		Format: schema.FormatFor(name, ""),
		Repair: lenient,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", apperr.ErrInvalidSchema, name, err)
	}
	if !doc.IsObject() {
		return nil, fmt.Errorf("%w: %s: document root is a %s", apperr.ErrInvalidSchema, name, doc.Kind())
	}

	summary := flatten.Summarize(doc)
	return &Result{
		Document: doc,
		Summary:  summary,
		Title:    deriveTitle(name, summary),
		Refs:     extractRefs(doc),
		Anchors:  schema.Anchors(doc),
		Text:     extractText(doc),
	}, nil
}

// extractRefs returns deduplicated $ref values in document order.
func extractRefs(doc *schema.Node) []string {
	seen := make(map[string]struct{})
	var out []string
	var walk func(n *schema.Node)
	walk = func(n *schema.Node) {
		if n.IsArray() {
			for _, it := range n.Items() {
				walk(it)
			}
			return
		}
		n.Each(func(key string, v *schema.Node) {
			if s, ok := v.Str(); ok && key == "$ref" {
				if _, dup := seen[s]; !dup && s != "" {
					seen[s] = struct{}{}
					out = append(out, s)
				}
				return
			}
			walk(v)
		})
	}
	walk(doc)
	return out
}

// extractText gathers titles, descriptions and property names for search.
func extractText(doc *schema.Node) string {
	var parts []string
	var walk func(n *schema.Node)
	walk = func(n *schema.Node) {
		if n.IsArray() {
			for _, it := range n.Items() {
				walk(it)
			}
			return
		}
		n.Each(func(key string, v *schema.Node) {
			switch key {
			case "title", "description":
				if s, ok := v.Str(); ok {
					parts = append(parts, s)
					return
				}
			case "properties":
				parts = append(parts, v.Keys()...)
			}
			walk(v)
		})
	}
	walk(doc)
	return strings.Join(parts, " ")
}

// deriveTitle returns the schema title if present, otherwise the last path
// segment of $id, otherwise the file name without extension.
func deriveTitle(name string, s flatten.Summary) string {
	if s.Title != "" {
		return s.Title
	}
	if s.ID != "" {
		id := strings.TrimRight(strings.SplitN(s.ID, "#", 2)[0], "/")
		if base := path.Base(id); base != "" && base != "." && base != "/" {
			return base
		}
	}
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// Targets maps the references of the catalog file source to the documents
// they point at. Same-document fragments are dropped; relative references
// become catalog paths; absolute ones keep their locator without fragment.
func Targets(source string, refs []string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, ref := range refs {
		doc, _, _ := strings.Cut(ref, "#")
		if doc == "" {
			continue
		}
		u, err := url.Parse(doc)
		if err != nil {
			continue
		}
		target := doc
		if u.Scheme == "" {
			target = path.Clean(path.Join(path.Dir(source), u.Path))
			if strings.HasPrefix(target, "../") || target == ".." {
				continue
			}
		}
		if _, dup := seen[target]; dup {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}
