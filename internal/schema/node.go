// Package schema holds the ordered JSON document model that schema documents
// are decoded into, together with the fragment locator and shape classifier
// used by the flattening engine.
package schema

import (
	"bytes"
	"strings"

	"github.com/goccy/go-json"
)

// Kind is the JSON kind of a Node.
type Kind uint8

// Node kinds.
const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name as used in enum type labels.
func (k Kind) String() string {
	switch k {
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Node is one JSON value. Object members keep their document order.
//
// A Node is never modified once decoding has finished; With and Without
// return modified copies. A nil *Node behaves as an absent value.
type Node struct {
	kind   Kind
	text   string // string value, or number literal
	truth  bool
	items  []*Node
	keys   []string
	fields map[string]*Node
}

// Null returns a JSON null.
func Null() *Node { return &Node{kind: KindNull} }

// String returns a JSON string.
func String(s string) *Node { return &Node{kind: KindString, text: s} }

// Number returns a JSON number holding the given literal.
func Number(literal string) *Node { return &Node{kind: KindNumber, text: literal} }

// Bool returns a JSON boolean.
func Bool(b bool) *Node { return &Node{kind: KindBool, truth: b} }

// Array returns a JSON array of items.
func Array(items ...*Node) *Node {
	return &Node{kind: KindArray, items: append([]*Node(nil), items...)}
}

// Object returns an object built from alternating key/value pairs.
// It panics on an odd argument count or a non-string key.
func Object(pairs ...any) *Node {
	if len(pairs)%2 != 0 {
		panic("schema: Object needs key/value pairs")
	}
	n := newObject(len(pairs) / 2)
	for i := 0; i < len(pairs); i += 2 {
		key, ok := pairs[i].(string)
		if !ok {
			panic("schema: Object key must be a string")
		}
		v, _ := pairs[i+1].(*Node)
		n.set(key, v)
	}
	return n
}

func newObject(size int) *Node {
	return &Node{kind: KindObject, keys: make([]string, 0, size), fields: make(map[string]*Node, size)}
}

// set is only used while a node is under construction.
func (n *Node) set(key string, v *Node) {
	if v == nil {
		v = Null()
	}
	if _, ok := n.fields[key]; !ok {
		n.keys = append(n.keys, key)
	}
	n.fields[key] = v
}

// Kind reports the kind of n; nil reports KindNull.
func (n *Node) Kind() Kind {
	if n == nil {
		return KindNull
	}
	return n.kind
}

// IsObject reports whether n is a JSON object.
func (n *Node) IsObject() bool { return n != nil && n.kind == KindObject }

// IsArray reports whether n is a JSON array.
func (n *Node) IsArray() bool { return n != nil && n.kind == KindArray }

// Str returns the string value of n.
func (n *Node) Str() (string, bool) {
	if n == nil || n.kind != KindString {
		return "", false
	}
	return n.text, true
}

// Text renders a scalar the way it reads in a sentence: strings unquoted,
// numbers as written, booleans and null as keywords. Containers render as
// compact JSON.
func (n *Node) Text() string {
	switch n.Kind() {
	case KindString, KindNumber:
		return n.text
	case KindBool:
		if n.truth {
			return "true"
		}
		return "false"
	case KindNull:
		return "null"
	default:
		b, _ := n.MarshalJSON()
		return string(b)
	}
}

// Truth returns the value of a boolean node.
func (n *Node) Truth() bool { return n != nil && n.kind == KindBool && n.truth }

// Get returns the member named key, or nil.
func (n *Node) Get(key string) *Node {
	if !n.IsObject() {
		return nil
	}
	return n.fields[key]
}

// Has reports whether the object n has a member named key.
func (n *Node) Has(key string) bool {
	if !n.IsObject() {
		return false
	}
	_, ok := n.fields[key]
	return ok
}

// StringField returns a string member.
func (n *Node) StringField(key string) (string, bool) {
	return n.Get(key).Str()
}

// StringList returns the string items of an array member, skipping anything else.
func (n *Node) StringList(key string) []string {
	v := n.Get(key)
	if !v.IsArray() {
		return nil
	}
	out := make([]string, 0, len(v.items))
	for _, it := range v.items {
		if s, ok := it.Str(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns the member names of an object in document order.
func (n *Node) Keys() []string {
	if !n.IsObject() {
		return nil
	}
	return append([]string(nil), n.keys...)
}

// Items returns the elements of an array.
func (n *Node) Items() []*Node {
	if !n.IsArray() {
		return nil
	}
	return append([]*Node(nil), n.items...)
}

// Len returns the member count of an object or element count of an array.
func (n *Node) Len() int {
	switch n.Kind() {
	case KindObject:
		return len(n.keys)
	case KindArray:
		return len(n.items)
	}
	return 0
}

// Each calls fn for every member of an object in document order.
func (n *Node) Each(fn func(key string, v *Node)) {
	if !n.IsObject() {
		return
	}
	for _, k := range n.keys {
		fn(k, n.fields[k])
	}
}

// With returns a copy of the object n where key is set to v. Existing keys
// keep their position; new keys are appended. A non-object n is treated as
// an empty object.
func (n *Node) With(key string, v *Node) *Node {
	out := n.shallowCopy()
	out.set(key, v)
	return out
}

// Without returns a copy of the object n lacking key.
func (n *Node) Without(key string) *Node {
	out := n.shallowCopy()
	if _, ok := out.fields[key]; !ok {
		return out
	}
	delete(out.fields, key)
	for i, k := range out.keys {
		if k == key {
			out.keys = append(out.keys[:i:i], out.keys[i+1:]...)
			break
		}
	}
	return out
}

func (n *Node) shallowCopy() *Node {
	if !n.IsObject() {
		return newObject(1)
	}
	out := newObject(len(n.keys) + 1)
	for _, k := range n.keys {
		out.set(k, n.fields[k])
	}
	return out
}

// MarshalJSON encodes n with object members in document order.
func (n *Node) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := n.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (n *Node) encode(buf *bytes.Buffer) error {
	switch n.Kind() {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(n.Text())
	case KindNumber:
		buf.WriteString(n.text)
	case KindString:
		b, err := json.Marshal(n.text)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindArray:
		buf.WriteByte('[')
		for i, it := range n.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, k := range n.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			b, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(b)
			buf.WriteByte(':')
			if err := n.fields[k].encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	}
	return nil
}

// Equal reports whether a and b hold the same JSON value. Object member
// order is ignored.
func Equal(a, b *Node) bool {
	if a.Kind() != b.Kind() {
		return false
	}
	switch a.Kind() {
	case KindNull:
		return true
	case KindBool:
		return a.truth == b.truth
	case KindNumber, KindString:
		return a.text == b.text
	case KindArray:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	default:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for _, k := range a.keys {
			bv, ok := b.fields[k]
			if !ok || !Equal(a.fields[k], bv) {
				return false
			}
		}
		return true
	}
}

// Quote renders a scalar for an enum listing: strings in double quotes,
// everything else as Text.
func Quote(n *Node) string {
	if s, ok := n.Str(); ok {
		return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
	}
	return n.Text()
}
