package schema

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDecode(t *testing.T, src string) *Node {
	t.Helper()
	n, err := Decode([]byte(src), DecodeOptions{})
	require.NoError(t, err)
	return n
}

func TestDecodeJSON_KeepsMemberOrder(t *testing.T) {
	n := mustDecode(t, `{"zeta":1,"alpha":{"y":true,"x":null},"mid":[1.50,"s"]}`)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, n.Keys())
	assert.Equal(t, []string{"y", "x"}, n.Get("alpha").Keys())
	assert.Equal(t, "1.50", n.Get("mid").Items()[0].Text())

	out, err := n.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":{"y":true,"x":null},"mid":[1.50,"s"]}`, string(out))
}

func TestDecodeJSON_DuplicateKeyKeepsFirstPosition(t *testing.T) {
	n := mustDecode(t, `{"a":1,"b":2,"a":3}`)
	assert.Equal(t, []string{"a", "b"}, n.Keys())
	assert.Equal(t, "3", n.Get("a").Text())
}

func TestDecodeJSON_Errors(t *testing.T) {
	for _, src := range []string{`{"a":`, `{"a":1} {"b":2}`, `{'a':1}`} {
		_, err := Decode([]byte(src), DecodeOptions{Format: FormatJSON})
		assert.Error(t, err, src)
	}
}

func TestDecodeJSON_Repair(t *testing.T) {
	_, err := Decode([]byte(`{type: 'string'}`), DecodeOptions{Format: FormatJSON})
	require.Error(t, err)

	n, err := Decode([]byte(`{type: 'string'}`), DecodeOptions{Format: FormatJSON, Repair: true})
	require.NoError(t, err)
	assert.Equal(t, "string", n.TypeLabel())
}

func TestDecodeYAML(t *testing.T) {
	src := `
type: object
required: [b]
properties:
  b:
    type: integer
    default: 3
  a:
    type: boolean
    enum: [true, false, null]
`
	n, err := Decode([]byte(src), DecodeOptions{Format: FormatYAML})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, n.Get("properties").Keys())
	assert.Equal(t, KindNumber, n.Get("properties").Get("b").Get("default").Kind())
	enum := n.Get("properties").Get("a").Get("enum").Items()
	require.Len(t, enum, 3)
	assert.Equal(t, KindBool, enum[0].Kind())
	assert.Equal(t, KindNull, enum[2].Kind())
	assert.Equal(t, []string{"b"}, n.StringList("required"))
}

func TestFormatFor(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatFor("a/b.yaml", ""))
	assert.Equal(t, FormatYAML, FormatFor("https://x/s.yml#/defs", ""))
	assert.Equal(t, FormatJSON, FormatFor("s.json", ""))
	assert.Equal(t, FormatJSON, FormatFor("s", "application/schema+json"))
	assert.Equal(t, FormatYAML, FormatFor("s.json", "application/yaml"))
	assert.Equal(t, FormatAuto, FormatFor("s", "text/plain"))
}

func TestWithWithoutDoNotMutate(t *testing.T) {
	orig := mustDecode(t, `{"a":1,"b":2}`)
	changed := orig.With("a", String("x")).With("c", Bool(true)).Without("b")

	assert.Equal(t, []string{"a", "b"}, orig.Keys())
	assert.Equal(t, "1", orig.Get("a").Text())
	assert.Equal(t, []string{"a", "c"}, changed.Keys())
	assert.Equal(t, "x", changed.Get("a").Text())
}

func TestLocate_Pointer(t *testing.T) {
	doc := mustDecode(t, `{"defs":{"Address":{"type":"string"},"a/b":{"type":"number"},"list":[{"type":"null"}]}}`)

	got, err := Locate(doc, "#/defs/Address")
	require.NoError(t, err)
	assert.Equal(t, "string", got.TypeLabel())

	got, err = Locate(doc, "#/defs/a~1b")
	require.NoError(t, err)
	assert.Equal(t, "number", got.TypeLabel())

	got, err = Locate(doc, "#/defs/list/0")
	require.NoError(t, err)
	assert.Equal(t, "null", got.TypeLabel())

	got, err = Locate(doc, "#")
	require.NoError(t, err)
	assert.Same(t, doc, got)
}

func TestLocate_PointerMiss(t *testing.T) {
	doc := mustDecode(t, `{"defs":{"Address":{"type":"string"}}}`)
	for _, frag := range []string{"#/defs/Missing", "#/defs/Address/type/deeper", "#/defs/list/9"} {
		_, err := Locate(doc, frag)
		assert.ErrorIs(t, err, ErrResolutionMiss, frag)
	}
}

func TestLocate_AnchorPreOrderDocumentOrder(t *testing.T) {
	doc := mustDecode(t, `{
		"$defs": {
			"first": {"$anchor": "dup", "type": "string", "properties": {"inner": {"$anchor": "dup", "type": "number"}}},
			"second": {"$anchor": "dup", "type": "boolean"}
		},
		"items": [{"$anchor": "item", "type": "integer"}]
	}`)

	got, err := Locate(doc, "#dup")
	require.NoError(t, err)
	assert.Equal(t, "string", got.TypeLabel())

	got, err = Locate(doc, "#item")
	require.NoError(t, err)
	assert.Equal(t, "integer", got.TypeLabel())

	_, err = Locate(doc, "#nothing")
	assert.ErrorIs(t, err, ErrResolutionMiss)

	assert.Equal(t, []string{"dup", "dup", "dup", "item"}, Anchors(doc))
}

func TestShapeOf(t *testing.T) {
	cases := map[string]Shape{
		`{"$ref":"#/a","type":"object"}`:                    ShapeReference,
		`{"oneOf":[{"type":"string"}]}`:                     ShapeComposition,
		`{"not":{"type":"string"}}`:                         ShapeComposition,
		`{"type":"object","properties":{}}`:                 ShapeObject,
		`{"type":["object","null"],"properties":{"a":{}}}`: ShapeObject,
		`{"type":"array","items":{"type":"string"}}`:        ShapeArray,
		`{"type":"object"}`:                                 ShapeScalar,
		`{"enum":[1,2]}`:                                    ShapeScalar,
	}
	for src, want := range cases {
		assert.Equal(t, want, ShapeOf(mustDecode(t, src)), src)
	}
}

func TestTypeLabel(t *testing.T) {
	assert.Equal(t, "string", mustDecode(t, `{"type":"string"}`).TypeLabel())
	assert.Equal(t, "string, or null", mustDecode(t, `{"type":["string","null"]}`).TypeLabel())
	assert.Equal(t, "", mustDecode(t, `{}`).TypeLabel())
}

func TestHasRootShape(t *testing.T) {
	assert.True(t, HasRootShape(mustDecode(t, `{"type":"string"}`)))
	assert.True(t, HasRootShape(mustDecode(t, `{"items":{}}`)))
	assert.False(t, HasRootShape(mustDecode(t, `{"title":"x","$ref":"#/a"}`)))
}

func TestEqualAndQuote(t *testing.T) {
	assert.True(t, Equal(mustDecode(t, `{"a":[1,{"b":null}]}`), mustDecode(t, `{"a":[1,{"b":null}]}`)))
	assert.False(t, Equal(mustDecode(t, `{"a":1}`), mustDecode(t, `{"a":"1"}`)))
	assert.Equal(t, `"x"`, Quote(String("x")))
	assert.Equal(t, "2", Quote(Number("2")))
	assert.Equal(t, "null", Quote(Null()))
	assert.Equal(t, `{"k":1}`, Quote(Object("k", Number("1"))))
}

func TestDecodeYAML_NumbersBecomeJSON(t *testing.T) {
	src := "enum: [0x1F, 1_000, 2.50, 1e3, -12, .inf, -.Inf, .nan, 18446744073709551615]\n"
	n, err := Decode([]byte(src), DecodeOptions{Format: FormatYAML})
	require.NoError(t, err)

	out, err := n.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"enum":[31,1000,2.50,1e3,-12,".inf","-.Inf",".nan",18446744073709551615]}`,
		string(out))

	enum := n.Get("enum").Items()
	assert.Equal(t, KindNumber, enum[0].Kind())
	assert.Equal(t, KindString, enum[5].Kind())
}

func TestDecodeYAML_AliasExpansionBounded(t *testing.T) {
	var b strings.Builder
	b.WriteString("a: &l0 [x, x, x, x, x, x, x, x, x, x]\n")
	for i := 1; i <= 7; i++ {
		fmt.Fprintf(&b, "l%d: &l%d [", i, i)
		for j := 0; j < 10; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "*l%d", i-1)
		}
		b.WriteString("]\n")
	}

	start := time.Now()
	_, err := Decode([]byte(b.String()), DecodeOptions{Format: FormatYAML})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expands to more than")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDecodeYAML_SharedAliases(t *testing.T) {
	src := `
$defs:
  id: &id {type: string, format: uuid}
properties:
  a: *id
  b: *id
`
	n, err := Decode([]byte(src), DecodeOptions{Format: FormatYAML})
	require.NoError(t, err)
	props := n.Get("properties")
	assert.Equal(t, "uuid", props.Get("a").Get("format").Text())
	assert.True(t, Equal(props.Get("a"), props.Get("b")))
}
