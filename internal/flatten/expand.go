package flatten

import (
	"strconv"

	"github.com/starford/schable/internal/schema"
)

// branch is one subschema of a composition keyword, with the carrier's
// description folded in.
type branch struct {
	constraint Constraint
	index      int
	count      int
	node       *schema.Node
}

// expand lists the branches of every composition keyword on n, keywords in
// the order allOf, oneOf, anyOf, not. A "not" holding a single schema is a
// set of one.
func expand(n *schema.Node) []branch {
	outer := descriptionOf(n)
	var out []branch
	for _, kw := range schema.CompositionKeywords {
		v := n.Get(kw)
		var members []*schema.Node
		switch {
		case v.IsArray():
			members = v.Items()
		case v.IsObject():
			members = []*schema.Node{v}
		default:
			continue
		}
		for i, m := range members {
			out = append(out, branch{
				constraint: Constraint(kw),
				index:      i,
				count:      len(members),
				node:       withDescription(m, joinDescriptions(outer, descriptionOf(m))),
			})
		}
	}
	return out
}

// suffix is appended to the carrier's path so that sibling branches keep
// distinct paths.
func (b branch) suffix() string {
	return "<" + string(b.constraint) + ">[" + strconv.Itoa(b.index) + "]"
}
