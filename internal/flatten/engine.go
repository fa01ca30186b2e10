// Package flatten turns a JSON Schema document into an ordered sequence of
// rows, one per concrete property or item, following references and
// expanding compositions on the way.
package flatten

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schema"
)

const (
	// DefaultMaxDepth is the indent level past which properties and items
	// are no longer expanded.
	DefaultMaxDepth = 8
	// MaxDepthLimit is the largest depth callers may request.
	MaxDepthLimit = 64
	// DefaultMaxRows caps the rows of one run when Options.MaxRows is unset.
	DefaultMaxRows = 10000
	// RootName and RootPath label the synthetic root row.
	RootName = "schema"
	RootPath = "{Root}"
)

var basicTypes = map[string]bool{"string": true, "number": true, "integer": true, "boolean": true, "null": true}

// Options controls one flattening run.
type Options struct {
	// MaxDepth bounds recursion; zero or less means DefaultMaxDepth.
	MaxDepth int
	// UseRelay routes external reference fetches through the relay.
	UseRelay bool
	// Base is the locator of the document, used to resolve relative refs.
	Base string
	// MaxRows caps the rows of the run; zero or less means DefaultMaxRows.
	// Rows past the cap are dropped and reported as one ErrRowLimit issue.
	MaxRows int
}

func (o Options) maxDepth() int {
	if o.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return o.MaxDepth
}

func (o Options) maxRows() int {
	if o.MaxRows <= 0 {
		return DefaultMaxRows
	}
	return o.MaxRows
}

// Engine flattens schema documents.
type Engine struct {
	fetcher resolver.Fetcher
	logger  *slog.Logger
	metrics *Metrics
}

// NewEngine creates an Engine. fetcher loads documents named by external
// references and may be nil when only same-document references occur.
func NewEngine(fetcher resolver.Fetcher, logger *slog.Logger, metrics *Metrics) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{fetcher: fetcher, logger: logger, metrics: metrics}
}

// Flatten produces the rows of doc. Rows come out in document order and
// are identical across runs over the same input. Unresolvable branches are
// returned as issues; only a malformed root or a canceled ctx fail the run.
func (e *Engine) Flatten(ctx context.Context, doc *schema.Node, opts Options) ([]Row, []Issue, error) {
	return e.flatten(ctx, doc, doc, opts)
}

func (e *Engine) flatten(ctx context.Context, doc, root *schema.Node, opts Options) ([]Row, []Issue, error) {
	if !root.IsObject() {
		return nil, nil, &ShapeError{Kind: root.Kind().String()}
	}
	if !schema.HasRootShape(root) {
		return nil, nil, &ShapeError{Kind: "object"}
	}

	r := &run{ctx: ctx, engine: e, opts: opts, maxDepth: opts.maxDepth(), budget: opts.maxRows()}
	out, err := r.walk(frame{
		doc:        doc,
		base:       resolver.StripFragment(opts.Base),
		name:       RootName,
		node:       root,
		indent:     -1,
		required:   true,
		constraint: ConstraintNone,
		path:       RootPath,
		root:       true,
	})
	if err != nil {
		return nil, nil, err
	}
	e.metrics.observe(len(out.rows), len(out.issues))
	return out.rows, out.issues, nil
}

// frame is the state of one recursive call.
type frame struct {
	doc      *schema.Node
	base     string
	name     string
	node     *schema.Node
	indent   int
	ref      string
	required bool

	constraint Constraint
	index      int
	count      int

	path string
	root bool
	item bool

	// seen holds the $ref targets followed since the last emitted row.
	seen map[string]bool
}

type output struct {
	rows   []Row
	issues []Issue
}

func (o *output) add(more output) {
	o.rows = append(o.rows, more.rows...)
	o.issues = append(o.issues, more.issues...)
}

type run struct {
	ctx      context.Context
	engine   *Engine
	opts     Options
	maxDepth int
	// budget is the number of rows the run may still emit.
	budget    int
	truncated bool
}

func (r *run) walk(f frame) (output, error) {
	if err := r.ctx.Err(); err != nil {
		return output{}, err
	}
	if r.truncated {
		return output{}, nil
	}
	switch schema.ShapeOf(f.node) {
	case schema.ShapeReference:
		return r.reference(f)
	case schema.ShapeComposition:
		return r.composition(f)
	default:
		return r.terminal(f)
	}
}

func (r *run) reference(f frame) (output, error) {
	ref, _ := f.node.StringField("$ref")
	key := targetKey(f.doc, f.base, ref)
	if f.seen[key] {
		return r.issue(f, ref, ErrReferenceCycle), nil
	}

	rc, err := dereference(r.ctx, r.engine.fetcher, f.doc, f.base, ref, r.opts.UseRelay)
	if err != nil {
		if ctxErr := r.ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return output{}, ctxErr
		}
		return r.issue(f, ref, err), nil
	}

	seen := make(map[string]bool, len(f.seen)+1)
	for k := range f.seen {
		seen[k] = true
	}
	seen[key] = true

	next := f
	next.doc = rc.Document
	next.base = rc.Base
	next.node = mergeReference(f.node, rc.Subschema)
	next.ref = ref
	next.seen = seen
	return r.walk(next)
}

func (r *run) composition(f frame) (output, error) {
	var out output
	for _, b := range expand(f.node) {
		next := f
		next.node = b.node
		next.ref = ""
		next.constraint = b.constraint
		next.index = b.index
		next.count = b.count
		next.path = f.path + b.suffix()
		more, err := r.walk(next)
		if err != nil {
			return output{}, err
		}
		out.add(more)
	}
	return out, nil
}

func (r *run) terminal(f frame) (output, error) {
	if r.budget == 0 {
		r.truncated = true
		return r.issue(f, f.ref, fmt.Errorf("%w of %d reached", ErrRowLimit, r.opts.maxRows())), nil
	}
	r.budget--

	n := f.node
	row := Row{
		Name:        f.name,
		Type:        n.TypeLabel(),
		Description: descriptionOf(n),
		Required:    f.required,
		Path:        f.path,
		Indent:      f.indent,
		Constraint:  f.constraint,
		Ref:         f.ref,
		Root:        f.root,
		Item:        f.item,
	}
	if f.constraint != ConstraintNone {
		row.ConstraintIndex = f.index
		row.ConstraintCount = f.count
		if c := n.Get("const"); c != nil && basicTypes[row.Type] {
			row.Const = c
			row.Description = appendSentence(row.Description,
				"Accepted "+row.Type+" value for "+string(f.constraint)+" schema constraint is: "+c.Text()+".")
		}
	}
	if enum := n.Get("enum"); enum.IsArray() {
		row.Enum = enum.Items()
		row.Type = "Enumerated " + enumKinds(row.Enum)
		row.Description = appendSentence(row.Description,
			"Accepted values for the enumerated type are: "+enumValues(row.Enum)+".")
	}

	out := output{rows: []Row{row}}
	if f.indent >= r.maxDepth {
		return out, nil
	}

	child := frame{
		doc:        f.doc,
		base:       f.base,
		indent:     f.indent + 1,
		constraint: ConstraintNone,
	}
	switch {
	case n.TypeIs("object") && n.Get("properties").IsObject():
		required := make(map[string]bool)
		for _, name := range n.StringList("required") {
			required[name] = true
		}
		for _, name := range n.Get("properties").Keys() {
			next := child
			next.name = name
			next.node = n.Get("properties").Get(name)
			next.required = required[name]
			next.path = propertyPath(f.path, name)
			more, err := r.walk(next)
			if err != nil {
				return output{}, err
			}
			out.add(more)
		}
	case n.TypeIs("array") && n.Has("items"):
		items := n.Get("items")
		members := []*schema.Node{items}
		if items.IsArray() {
			members = items.Items()
		}
		for i, it := range members {
			next := child
			next.name = f.name + " item"
			next.node = it
			next.required = f.required
			next.item = true
			next.path = itemPath(f.path, i)
			more, err := r.walk(next)
			if err != nil {
				return output{}, err
			}
			out.add(more)
		}
	}
	return out, nil
}

func (r *run) issue(f frame, ref string, err error) output {
	r.engine.logger.Warn("schema branch skipped",
		slog.String("path", f.path),
		slog.String("ref", ref),
		slog.Any("err", err),
	)
	return output{issues: []Issue{{Path: f.path, Name: f.name, Ref: ref, Message: err.Error(), Err: err}}}
}

func enumKinds(values []*schema.Node) string {
	set := make(map[string]bool)
	for _, v := range values {
		set[v.Kind().String()] = true
	}
	kinds := make([]string, 0, len(set))
	for k := range set {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return strings.Join(kinds, ", or ")
}

func enumValues(values []*schema.Node) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = schema.Quote(v)
	}
	return strings.Join(parts, ", ")
}

func appendSentence(text, sentence string) string {
	text = strings.TrimRight(text, " ")
	if text == "" {
		return sentence
	}
	return strings.TrimSuffix(text, ".") + ". " + sentence
}
