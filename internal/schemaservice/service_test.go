package schemaservice

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/checksum"
	"github.com/starford/schable/internal/flatten"
	"github.com/starford/schable/internal/index"
	"github.com/starford/schable/internal/testutil"
)

const (
	personSchema = `{
  "title": "Person",
  "type": "object",
  "required": ["name"],
  "properties": {
    "name": {"type": "string"},
    "home": {"$ref": "common/address.json"}
  }
}`
	addressSchema = `{
  "type": "object",
  "description": "A postal address",
  "properties": {"city": {"type": "string"}}
}`
)

func newTestService(t *testing.T, files map[string]string) *Service {
	t.Helper()
	_, store := testutil.TestCatalog(t, files)
	db := testutil.TestDB(t)
	if err := index.Sync(db, store, false, testutil.Logger()); err != nil {
		t.Fatal(err)
	}
	r := testutil.TestResolver(t, store, db)
	return NewService(store, db, testutil.TestEngine(r), r, false)
}

func TestCreateGetUpdateDelete(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, "person.json", []byte(personSchema))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Title != "Person" || created.Checksum != checksum.Sum([]byte(personSchema)) {
		t.Errorf("created = %+v", created.SchemaFile)
	}
	if len(created.Refs) != 1 || created.Refs[0] != "common/address.json" {
		t.Errorf("refs = %v", created.Refs)
	}

	if _, err := svc.Create(ctx, "person.json", []byte(personSchema)); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("duplicate create err = %v", err)
	}

	got, err := svc.Get(ctx, "person.json")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != personSchema {
		t.Error("content mismatch")
	}

	updated := strings.Replace(personSchema, `"Person"`, `"Human"`, 1)
	if _, err := svc.Update(ctx, "person.json", []byte(updated), "stale"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale update err = %v", err)
	}
	res, err := svc.Update(ctx, "person.json", []byte(updated), got.Checksum)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if res.Title != "Human" {
		t.Errorf("title = %q", res.Title)
	}

	if err := svc.Delete(ctx, "person.json"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := svc.Get(ctx, "person.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("get after delete err = %v", err)
	}
	if err := svc.Delete(ctx, "person.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestCreateRejectsInvalid(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "bad.json", []byte(`{"type":`)); !errors.Is(err, apperr.ErrInvalidSchema) {
		t.Errorf("invalid body err = %v", err)
	}
	for _, p := range []string{"", "notes.txt", "/abs.json"} {
		if _, err := svc.Create(ctx, p, []byte(`{}`)); !errors.Is(err, apperr.ErrInvalidPath) {
			t.Errorf("path %q err = %v", p, err)
		}
	}
	if _, err := svc.Create(ctx, "../escape.json", []byte(`{}`)); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("traversal err = %v", err)
	}
}

func TestListSearchReferrers(t *testing.T) {
	svc := newTestService(t, map[string]string{
		"person.json":         personSchema,
		"common/address.json": addressSchema,
	})
	ctx := context.Background()

	items, total, err := svc.List(ctx, 10, 0, "")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 2 || items[0].Path != "common/address.json" {
		t.Errorf("items = %+v total %d", items, total)
	}

	results, err := svc.Search(ctx, "Person", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 || results[0].Path != "person.json" {
		t.Errorf("search = %+v", results)
	}

	refs, err := svc.Referrers(ctx, "common/address.json#/properties")
	if err != nil {
		t.Fatalf("Referrers: %v", err)
	}
	if len(refs) != 1 || refs[0].Source != "person.json" || refs[0].Target != "common/address.json" {
		t.Errorf("referrers = %+v", refs)
	}

	detail, _ := svc.Get(ctx, "common/address.json")
	if len(detail.Referrers) != 1 {
		t.Errorf("detail referrers = %v", detail.Referrers)
	}
}

func TestRenderCatalogPath(t *testing.T) {
	svc := newTestService(t, map[string]string{
		"person.json":         personSchema,
		"common/address.json": addressSchema,
	})

	table, err := svc.Render(context.Background(), "person.json", flatten.Options{})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if table.Locator != "catalog:/person.json" {
		t.Errorf("locator = %q", table.Locator)
	}
	var paths []string
	for _, r := range table.Rows {
		paths = append(paths, r.Path)
	}
	want := []string{"{Root}", "{Root}.name", "{Root}.home", "{Root}.home.city"}
	if strings.Join(paths, " ") != strings.Join(want, " ") {
		t.Errorf("paths = %v, want %v", paths, want)
	}
	if table.Rows[2].Description != "A postal address" {
		t.Errorf("home description = %q", table.Rows[2].Description)
	}

	sub, err := svc.Render(context.Background(), "common/address.json#/properties/city", flatten.Options{})
	if err != nil {
		t.Fatalf("Render fragment: %v", err)
	}
	if len(sub.Rows) != 1 || sub.Rows[0].Type != "string" {
		t.Errorf("fragment rows = %+v", sub.Rows)
	}

	if _, err := svc.Render(context.Background(), "missing.json", flatten.Options{}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing err = %v", err)
	}
}

func TestRenderDocument(t *testing.T) {
	svc := newTestService(t, map[string]string{"common/address.json": addressSchema})

	table, err := svc.RenderDocument(context.Background(), []byte(personSchema), flatten.Options{Base: "person.json"})
	if err != nil {
		t.Fatalf("RenderDocument: %v", err)
	}
	if len(table.Rows) != 4 || len(table.Issues) != 0 {
		t.Errorf("rows = %d issues = %+v", len(table.Rows), table.Issues)
	}

	if _, err := svc.RenderDocument(context.Background(), []byte(`{"type":`), flatten.Options{}); !errors.Is(err, apperr.ErrInvalidSchema) {
		t.Errorf("bad doc err = %v", err)
	}

	var shapeErr *flatten.ShapeError
	if _, err := svc.RenderDocument(context.Background(), []byte(`{"title":"x"}`), flatten.Options{}); !errors.As(err, &shapeErr) {
		t.Errorf("shape err = %v", err)
	}
}

func TestImport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		_, _ = w.Write([]byte("title: Tag\ntype: string\n"))
	}))
	defer srv.Close()

	svc := newTestService(t, nil)
	d, err := svc.Import(context.Background(), srv.URL+"/schemas/tag.yaml", "", false)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if d.Path != "tag.json" || d.Title != "Tag" {
		t.Errorf("imported = %+v", d.SchemaFile)
	}
	if d.Content != `{"title":"Tag","type":"string"}` {
		t.Errorf("content = %s", d.Content)
	}
}

func TestImportName(t *testing.T) {
	if got := ImportName("https://example.com/a/order.schema.json#x"); got != "order.schema.json" {
		t.Errorf("name = %q", got)
	}
	got := ImportName("https://example.com/schemas/")
	if !strings.HasSuffix(got, ".json") || len(got) != len("00000000-0000-0000-0000-000000000000.json") {
		t.Errorf("fallback name = %q", got)
	}
}

func TestMove(t *testing.T) {
	svc := newTestService(t, map[string]string{
		"person.json":         personSchema,
		"common/address.json": addressSchema,
		"other.json":          `{"type":"string"}`,
	})
	ctx := context.Background()

	moved, err := svc.Move(ctx, "person.json", "people/person.json", "")
	if err != nil {
		t.Fatalf("Move: %v", err)
	}
	if moved.Path != "people/person.json" {
		t.Errorf("path = %q", moved.Path)
	}
	if _, err := svc.Get(ctx, "person.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("old path: err = %v", err)
	}
	// The relative ref now points at people/common/address.json.
	refs, err := svc.Referrers(ctx, "people/common/address.json")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0].Source != "people/person.json" {
		t.Errorf("referrers = %v", refs)
	}

	if _, err := svc.Move(ctx, "other.json", "people/person.json", ""); !errors.Is(err, apperr.ErrAlreadyExists) {
		t.Errorf("overwrite: err = %v, want ErrAlreadyExists", err)
	}
	if _, err := svc.Move(ctx, "other.json", "other.yaml", "wrong"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("stale: err = %v, want ErrConflict", err)
	}
	if _, err := svc.Move(ctx, "other.json", "other.txt", ""); !errors.Is(err, apperr.ErrInvalidPath) {
		t.Errorf("bad ext: err = %v, want ErrInvalidPath", err)
	}
}
