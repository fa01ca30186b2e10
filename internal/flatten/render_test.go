package flatten

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/schable/internal/resolver"
	"github.com/starford/schable/internal/schema"
)

func TestSummarize(t *testing.T) {
	s := Summarize(decode(t, `{"title":"Person","$id":"https://ex.com/person","type":"object","$schema":"https://json-schema.org/draft/2020-12/schema","description":"A human"}`))
	assert.Equal(t, "Person", s.Title)
	assert.Equal(t, "A human", s.Description)
	assert.Equal(t, "Schema Person (https://ex.com/person) defines object using standard schema specification https://json-schema.org/draft/2020-12/schema", s.Caption)

	assert.Equal(t, "Schema defines string, or null", Summarize(decode(t, `{"type":["string","null"]}`)).Caption)
	assert.Empty(t, Summarize(decode(t, `{"properties":{}}`)).Caption)
}

func TestRender_LocatorWithFragment(t *testing.T) {
	f := &mapFetcher{docs: map[string]string{
		"https://ex.com/s.json": `{"title":"All","$defs":{
			"Person":{"title":"Person","type":"object","properties":{"home":{"$ref":"#/$defs/Place"}}},
			"Place":{"type":"string"}
		}}`,
	}}
	table, err := NewEngine(f, nil, nil).Render(context.Background(), "https://ex.com/s.json#/$defs/Person", Options{})
	require.NoError(t, err)
	assert.Equal(t, "https://ex.com/s.json#/$defs/Person", table.Locator)
	assert.Equal(t, "Person", table.Summary.Title)
	assert.Equal(t, []string{"{Root}", "{Root}.home"}, paths(table.Rows))
	assert.Equal(t, "string", table.Rows[1].Type)
	assert.NotNil(t, table.Issues)
	assert.Empty(t, table.Issues)
}

func TestRender_LoadErrors(t *testing.T) {
	f := &mapFetcher{docs: map[string]string{"https://ex.com/s.json": `{"type":"object"}`}}
	e := NewEngine(f, nil, nil)

	for _, loc := range []string{"https://ex.com/missing.json", "https://ex.com/s.json#/nope"} {
		_, err := e.Render(context.Background(), loc, Options{})
		var le *LoadError
		require.ErrorAs(t, err, &le, loc)
		assert.Equal(t, loc, le.Locator)
	}

	_, err := NewEngine(nil, nil, nil).Render(context.Background(), "https://ex.com/s.json", Options{})
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestRender_ShapeError(t *testing.T) {
	f := &mapFetcher{docs: map[string]string{"https://ex.com/s.json": `{"title":"no shape"}`}}
	_, err := NewEngine(f, nil, nil).Render(context.Background(), "https://ex.com/s.json", Options{})
	var se *ShapeError
	assert.ErrorAs(t, err, &se)
}

func TestRender_OverHTTPWithRelativeReferences(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/schemas/order.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"type":"object","required":["lines"],"properties":{
			"lines":{"type":"array","items":{"$ref":"line.yaml#/$defs/Line"}}
		}}`))
	})
	mux.HandleFunc("/schemas/line.yaml", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("$defs:\n  Line:\n    type: object\n    properties:\n      sku:\n        type: string\n      qty:\n        type: integer\n"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := resolver.New(resolver.Options{Sources: map[string]resolver.Source{"http": resolver.NewHTTPSource(resolver.HTTPConfig{AllowPrivateHosts: true})}})
	require.NoError(t, err)

	table, err := NewEngine(r, nil, nil).Render(context.Background(), srv.URL+"/schemas/order.json", Options{})
	require.NoError(t, err)
	assert.Empty(t, table.Issues)
	assert.Equal(t, []string{"{Root}", "{Root}.lines", "{Root}.lines[0]", "{Root}.lines[0].sku", "{Root}.lines[0].qty"}, paths(table.Rows))
	assert.True(t, table.Rows[2].Required)
	assert.Equal(t, "line.yaml#/$defs/Line", table.Rows[2].Ref)
}

func TestRenderDocument(t *testing.T) {
	table, err := NewEngine(nil, nil, nil).RenderDocument(context.Background(), schema.Object("type", schema.String("string"), "title", schema.String("Name")), Options{})
	require.NoError(t, err)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "Schema Name defines string", table.Summary.Caption)
}

func TestParentPath(t *testing.T) {
	cases := map[string]string{
		"{Root}":                          "",
		"{Root}.a":                        "{Root}",
		"{Root}.a[0]":                     "{Root}.a",
		"{Root}.a[0].b":                   "{Root}.a[0]",
		"{Root}.pet<oneOf>[1]":            "{Root}",
		"{Root}.pet<oneOf>[1].name":       "{Root}.pet<oneOf>[1]",
		"{Root}.pet<oneOf>[1]<allOf>[0]":  "{Root}",
		`{Root}["a.b"].c`:                 `{Root}["a.b"]`,
		`{Root}["a\"]b"]`:                 "{Root}",
		`{Root}.list[0]["odd name"]`:      "{Root}.list[0]",
		"not a path":                      "",
		"{Root}.broken<oneOf":             "",
	}
	for path, want := range cases {
		assert.Equal(t, want, ParentPath(path), path)
	}
}

func TestWriteText(t *testing.T) {
	rows, issues := flattenDoc(t, `{"type":"object","required":["id"],"properties":{
		"id":{"type":"string","description":"Unique\nidentifier"},
		"v":{"oneOf":[{"type":"string"},{"type":"number"}]},
		"r":{"$ref":"#/missing"}
	}}`, Options{})
	table := &Table{Summary: Summary{Caption: "Schema defines object"}, Rows: rows, Issues: issues}

	var buf bytes.Buffer
	require.NoError(t, WriteText(&buf, table))
	out := buf.String()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Equal(t, "Schema defines object", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "NAME"))
	assert.Contains(t, out, "  id")
	assert.Contains(t, out, "Unique identifier")
	assert.Contains(t, out, "v (oneOf 2/2)")
	assert.Contains(t, out, "required")
	assert.Contains(t, out, "skipped {Root}.r:")
}

func TestRender_RelativeRefsUseFetchLocatorNotID(t *testing.T) {
	f := &mapFetcher{docs: map[string]string{
		"catalog:/people/person.json": `{"$id":"https://schemas.example.com/person.json","type":"object","properties":{"home":{"$ref":"address.json"}}}`,
		"catalog:/people/address.json": `{"type":"object","properties":{"city":{"type":"string"}}}`,
	}}
	table, err := NewEngine(f, nil, nil).Render(context.Background(), "catalog:/people/person.json", Options{})
	require.NoError(t, err)
	assert.Empty(t, table.Issues)
	assert.Equal(t, []string{"{Root}", "{Root}.home", "{Root}.home.city"}, paths(table.Rows))
	for _, c := range f.calls {
		assert.NotContains(t, c.locator, "schemas.example.com")
	}
}
