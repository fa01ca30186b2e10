package flatten

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schema"
)

var errNoFetcher = errors.New("no resolver configured for external references")

// ReferenceContext is the outcome of following a $ref: the document the
// target was found in, the target itself, and the locator of that document
// so nested references resolve against it.
type ReferenceContext struct {
	Document  *schema.Node
	Subschema *schema.Node
	Base      string
}

// dereference follows ref from a node living in doc, whose locator is base
// (empty for documents held only in memory).
func dereference(ctx context.Context, f resolver.Fetcher, doc *schema.Node, base, ref string, useRelay bool) (ReferenceContext, error) {
	locator, fragment, external := refTarget(base, ref)
	if !external {
		sub, err := schema.Locate(doc, fragment)
		if err != nil {
			return ReferenceContext{}, err
		}
		return ReferenceContext{Document: doc, Subschema: sub, Base: base}, nil
	}

	if f == nil {
		return ReferenceContext{}, errNoFetcher
	}
	fetched, err := f.Fetch(ctx, locator, useRelay)
	if err != nil {
		return ReferenceContext{}, err
	}
	sub := fetched
	if fragment != "" {
		if sub, err = schema.Locate(fetched, fragment); err != nil {
			return ReferenceContext{}, fmt.Errorf("%s: %w", locator, err)
		}
	}
	return ReferenceContext{Document: fetched, Subschema: sub, Base: locator}, nil
}

// refTarget splits ref into a document locator and a fragment. A ref is
// external when it is an absolute locator, or when it names another
// document relative to a known base.
func refTarget(base, ref string) (locator, fragment string, external bool) {
	doc, frag, hasFrag := strings.Cut(ref, "#")
	if hasFrag {
		frag = "#" + frag
	}
	u, err := url.Parse(ref)
	if err == nil && u.Scheme != "" {
		return doc, frag, true
	}
	if doc != "" && base != "" && err == nil {
		if b, berr := url.Parse(base); berr == nil {
			return resolver.StripFragment(b.ResolveReference(u).String()), frag, true
		}
	}
	return "", ref, false
}

// targetKey identifies a $ref target for cycle detection.
func targetKey(doc *schema.Node, base, ref string) string {
	locator, fragment, external := refTarget(base, ref)
	if external {
		return locator + fragment
	}
	if base == "" {
		base = fmt.Sprintf("%p", doc)
	}
	if fragment == "" {
		fragment = "#"
	}
	return base + fragment
}

// mergeReference overlays the referencing node on the target: descriptions
// are joined referencing first, and the referencing node's "required" wins
// when it has one.
func mergeReference(referencing, target *schema.Node) *schema.Node {
	merged := withDescription(target, joinDescriptions(descriptionOf(referencing), descriptionOf(target)))
	if req := referencing.Get("required"); req != nil {
		merged = merged.With("required", req)
	}
	return merged
}

func descriptionOf(n *schema.Node) string {
	d, _ := n.StringField("description")
	return d
}

func joinDescriptions(outer, inner string) string {
	switch {
	case outer != "" && inner != "":
		return outer + ". " + inner
	case outer != "":
		return outer
	default:
		return inner
	}
}

func withDescription(n *schema.Node, d string) *schema.Node {
	if d == "" || d == descriptionOf(n) {
		return n
	}
	return n.With("description", schema.String(d))
}
