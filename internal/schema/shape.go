package schema

// Shape is the structural role of a schema node as seen by the flattener.
type Shape uint8

// Shapes, in the order they are tested.
const (
	ShapeReference Shape = iota
	ShapeComposition
	ShapeObject
	ShapeArray
	ShapeScalar
)

func (s Shape) String() string {
	switch s {
	case ShapeReference:
		return "reference"
	case ShapeComposition:
		return "composition"
	case ShapeObject:
		return "object"
	case ShapeArray:
		return "array"
	default:
		return "scalar"
	}
}

// CompositionKeywords are checked in this order.
var CompositionKeywords = []string{"allOf", "oneOf", "anyOf", "not"}

var shapePredicates = []struct {
	shape Shape
	match func(*Node) bool
}{
	{ShapeReference, func(n *Node) bool { _, ok := n.StringField("$ref"); return ok }},
	{ShapeComposition, func(n *Node) bool {
		for _, kw := range CompositionKeywords {
			if n.Has(kw) {
				return true
			}
		}
		return false
	}},
	{ShapeObject, func(n *Node) bool { return n.TypeIs("object") && n.Get("properties").IsObject() }},
	{ShapeArray, func(n *Node) bool { return n.TypeIs("array") && n.Has("items") }},
}

// ShapeOf classifies n. The first matching predicate wins; anything that is
// not a reference, composition, object-with-properties or array-with-items
// is a scalar.
func ShapeOf(n *Node) Shape {
	for _, p := range shapePredicates {
		if p.match(n) {
			return p.shape
		}
	}
	return ShapeScalar
}

// TypeIs reports whether the "type" keyword of n equals t, or is an array
// containing t.
func (n *Node) TypeIs(t string) bool {
	tv := n.Get("type")
	if s, ok := tv.Str(); ok {
		return s == t
	}
	for _, it := range tv.Items() {
		if s, ok := it.Str(); ok && s == t {
			return true
		}
	}
	return false
}

// TypeLabel renders the "type" keyword: a string as-is, a list of types
// joined by ", or ". It is empty when the keyword is absent.
func (n *Node) TypeLabel() string {
	tv := n.Get("type")
	if s, ok := tv.Str(); ok {
		return s
	}
	label := ""
	for _, it := range tv.Items() {
		if s, ok := it.Str(); ok {
			if label != "" {
				label += ", or "
			}
			label += s
		}
	}
	return label
}

// HasRootShape reports whether a document root carries at least one of
// "properties", "items" or "type".
func HasRootShape(n *Node) bool {
	return n.Has("properties") || n.Has("items") || n.Has("type")
}
