package flatten

import (
	"context"
	"errors"
	"strings"

	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schema"
)

// Summarize reads the top-level metadata of doc and composes its caption.
func Summarize(doc *schema.Node) Summary {
	s := Summary{Type: doc.TypeLabel()}
	s.Title, _ = doc.StringField("title")
	s.ID, _ = doc.StringField("$id")
	s.Dialect, _ = doc.StringField("$schema")
	s.Description, _ = doc.StringField("description")
	if s.Title == "" && s.ID == "" && s.Type == "" && s.Dialect == "" {
		return s
	}

	var b strings.Builder
	b.WriteString("Schema")
	if s.Title != "" {
		b.WriteString(" " + s.Title)
	}
	if s.ID != "" {
		b.WriteString(" (" + s.ID + ")")
	}
	if s.Type != "" {
		b.WriteString(" defines " + s.Type)
	}
	if s.Dialect != "" {
		b.WriteString(" using standard schema specification " + s.Dialect)
	}
	s.Caption = b.String()
	return s
}

// Render loads the document at locator and flattens it. A fragment on the
// locator selects the subschema to render; references inside it still
// resolve against the whole document. Load failures are *LoadError.
func (e *Engine) Render(ctx context.Context, locator string, opts Options) (*Table, error) {
	if e.fetcher == nil {
		return nil, &LoadError{Locator: locator, Err: errNoFetcher}
	}
	doc, err := e.fetcher.Fetch(ctx, locator, opts.UseRelay)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		return nil, &LoadError{Locator: locator, Err: err}
	}

	root := doc
	if _, fragment, ok := strings.Cut(locator, "#"); ok {
		if root, err = schema.Locate(doc, "#"+fragment); err != nil {
			return nil, &LoadError{Locator: locator, Err: err}
		}
	}

	opts.Base = resolver.StripFragment(locator)
	table, err := e.table(ctx, doc, root, opts)
	if err != nil {
		return nil, err
	}
	table.Locator = locator
	return table, nil
}

// RenderDocument flattens a document that is already in memory.
func (e *Engine) RenderDocument(ctx context.Context, doc *schema.Node, opts Options) (*Table, error) {
	return e.table(ctx, doc, doc, opts)
}

func (e *Engine) table(ctx context.Context, doc, root *schema.Node, opts Options) (*Table, error) {
	rows, issues, err := e.flatten(ctx, doc, root, opts)
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []Issue{}
	}
	return &Table{Summary: Summarize(root), Rows: rows, Issues: issues}, nil
}
