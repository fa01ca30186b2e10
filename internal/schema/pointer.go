package schema

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrResolutionMiss is returned when a fragment addresses nothing in the document.
var ErrResolutionMiss = errors.New("reference target not found")

// IsPointer reports whether a fragment is a JSON Pointer (it has a '/' past
// its first character) rather than an anchor name.
func IsPointer(fragment string) bool {
	return strings.LastIndex(fragment, "/") > 0 || strings.HasPrefix(strings.TrimPrefix(fragment, "#"), "/")
}

// Locate returns the subschema of doc addressed by fragment. A fragment is
// either a JSON Pointer ("#/definitions/Address") or an anchor ("#address").
// An empty fragment or a bare "#" addresses doc itself.
func Locate(doc *Node, fragment string) (*Node, error) {
	if fragment == "" || fragment == "#" {
		return doc, nil
	}
	if IsPointer(fragment) {
		return walkPointer(doc, fragment)
	}
	if !strings.HasPrefix(fragment, "#") {
		return nil, fmt.Errorf("%w: %q is neither a pointer nor an anchor", ErrResolutionMiss, fragment)
	}
	name := fragment[1:]
	if unescaped, err := url.PathUnescape(name); err == nil {
		name = unescaped
	}
	if found := FindAnchor(doc, name); found != nil {
		return found, nil
	}
	return nil, fmt.Errorf("%w: anchor %q", ErrResolutionMiss, name)
}

func walkPointer(doc *Node, fragment string) (*Node, error) {
	p := strings.TrimPrefix(fragment, "#")
	if unescaped, err := url.PathUnescape(p); err == nil {
		p = unescaped
	}
	if !strings.HasPrefix(p, "/") {
		return nil, fmt.Errorf("%w: malformed pointer %q", ErrResolutionMiss, fragment)
	}
	cur := doc
	for _, raw := range strings.Split(p, "/")[1:] {
		token := strings.ReplaceAll(strings.ReplaceAll(raw, "~1", "/"), "~0", "~")
		switch cur.Kind() {
		case KindObject:
			next, ok := cur.fields[token]
			if !ok {
				return nil, fmt.Errorf("%w: pointer %q stops at %q", ErrResolutionMiss, fragment, token)
			}
			cur = next
		case KindArray:
			i, err := strconv.Atoi(token)
			if err != nil || i < 0 || i >= len(cur.items) {
				return nil, fmt.Errorf("%w: pointer %q has bad index %q", ErrResolutionMiss, fragment, token)
			}
			cur = cur.items[i]
		default:
			return nil, fmt.Errorf("%w: pointer %q descends into a %s", ErrResolutionMiss, fragment, cur.Kind())
		}
	}
	return cur, nil
}

// FindAnchor searches doc depth-first, visiting members in document order,
// for the first object declaring "$anchor": name. A node is checked before
// its descendants.
func FindAnchor(doc *Node, name string) *Node {
	switch doc.Kind() {
	case KindObject:
		if a, ok := doc.StringField("$anchor"); ok && a == name {
			return doc
		}
		for _, k := range doc.keys {
			if found := FindAnchor(doc.fields[k], name); found != nil {
				return found
			}
		}
	case KindArray:
		for _, it := range doc.items {
			if found := FindAnchor(it, name); found != nil {
				return found
			}
		}
	}
	return nil
}

// Anchors lists every $anchor declared in doc, in search order.
func Anchors(doc *Node) []string {
	var out []string
	var walk func(n *Node)
	walk = func(n *Node) {
		switch n.Kind() {
		case KindObject:
			if a, ok := n.StringField("$anchor"); ok {
				out = append(out, a)
			}
			for _, k := range n.keys {
				walk(n.fields[k])
			}
		case KindArray:
			for _, it := range n.items {
				walk(it)
			}
		}
	}
	walk(doc)
	return out
}
