package index

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/starford/schable/internal/apperr"
	"github.com/starford/schable/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	f, err := os.CreateTemp("", "schable-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	db, err := Open(f.Name())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func file(path, title, cs string) models.SchemaFile {
	return models.SchemaFile{Path: path, Title: title, Checksum: cs, Type: "object", UpdatedAt: time.Now()}
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	for _, table := range []string{"schemas", "refs", "documents"} {
		var count int
		if err := db.conn.QueryRow(`SELECT count(*) FROM ` + table).Scan(&count); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}
}

func TestUpsertAndGetSchema(t *testing.T) {
	db := testDB(t)
	s := file("person.json", "Person", "abc123")
	s.SchemaID = "https://example.com/person.json"
	s.Dialect = "https://json-schema.org/draft/2020-12/schema"
	if err := db.UpsertSchema(s, "Person name age", []string{"address.json"}); err != nil {
		t.Fatalf("UpsertSchema: %v", err)
	}
	cs, err := db.GetChecksum("person.json")
	if err != nil {
		t.Fatalf("GetChecksum: %v", err)
	}
	if cs != "abc123" {
		t.Errorf("checksum = %q, want %q", cs, "abc123")
	}

	got, err := db.GetSchema("person.json")
	if err != nil {
		t.Fatalf("GetSchema: %v", err)
	}
	if got.Title != "Person" || got.SchemaID != s.SchemaID || got.Dialect != s.Dialect || got.Type != "object" {
		t.Errorf("schema = %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("updated_at not stored")
	}

	if _, err := db.GetSchema("missing.json"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestReferrers(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSchema(file("a.json", "A", "1"), "", []string{"b.json"})
	_ = db.UpsertSchema(file("c.json", "C", "2"), "", []string{"b.json", "https://example.com/x.json"})

	refs, err := db.Referrers("b.json")
	if err != nil {
		t.Fatalf("Referrers: %v", err)
	}
	if len(refs) != 2 || refs[0] != "a.json" || refs[1] != "c.json" {
		t.Fatalf("referrers = %v", refs)
	}
	refs, _ = db.Referrers("https://example.com/x.json")
	if len(refs) != 1 {
		t.Errorf("external referrers = %v", refs)
	}
}

func TestDeleteSchema(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSchema(file("del.json", "", "x"), "body", []string{"target.json"})

	if err := db.DeleteSchema("del.json"); err != nil {
		t.Fatalf("DeleteSchema: %v", err)
	}
	cs, _ := db.GetChecksum("del.json")
	if cs != "" {
		t.Errorf("deleted file still has checksum %q", cs)
	}
	refs, _ := db.Referrers("target.json")
	if len(refs) != 0 {
		t.Errorf("expected 0 referrers after delete, got %d", len(refs))
	}
}

func TestUpsertUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSchema(file("up.json", "Old", "1"), "old body", []string{"x.json"})
	_ = db.UpsertSchema(file("up.json", "New", "2"), "new body", []string{"y.json"})

	cs, _ := db.GetChecksum("up.json")
	if cs != "2" {
		t.Errorf("checksum = %q, want %q", cs, "2")
	}
	refs, _ := db.Referrers("x.json")
	if len(refs) != 0 {
		t.Error("old ref should be removed on upsert")
	}
	refs, _ = db.Referrers("y.json")
	if len(refs) != 1 {
		t.Error("new ref should exist")
	}
}

func TestGetChecksum_NotFound(t *testing.T) {
	db := testDB(t)
	cs, err := db.GetChecksum("nonexistent.json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cs != "" {
		t.Errorf("expected empty checksum, got %q", cs)
	}
}

func TestListSchemas(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSchema(file("b.json", "alpha", "1"), "", nil)
	_ = db.UpsertSchema(file("a.json", "Zulu", "2"), "", nil)
	_ = db.UpsertSchema(file("c.yaml", "mike", "3"), "", nil)

	items, total, err := db.ListSchemas(2, 0, "")
	if err != nil {
		t.Fatalf("ListSchemas: %v", err)
	}
	if total != 3 || len(items) != 2 || items[0].Path != "a.json" || items[1].Path != "b.json" {
		t.Errorf("page 1 = %+v total %d", items, total)
	}

	items, _, _ = db.ListSchemas(10, 2, "path")
	if len(items) != 1 || items[0].Path != "c.yaml" {
		t.Errorf("page 2 = %+v", items)
	}

	items, _, _ = db.ListSchemas(10, 0, "title")
	if len(items) != 3 || items[0].Title != "alpha" || items[2].Title != "Zulu" {
		t.Errorf("by title = %+v", items)
	}

	if _, _, err := db.ListSchemas(10, 0, "size"); err == nil {
		t.Error("expected error for unknown sort")
	}
}

func TestSearch_Basic(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSchema(file("s.json", "Search Me", "1"), "uniqueword appears here", nil)

	results, err := db.Search("uniqueword", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "s.json" {
		t.Errorf("search results = %+v, want 1 hit for s.json", results)
	}
}

func TestDocumentCache(t *testing.T) {
	db := testDB(t)
	loc := "https://example.com/s.json"

	if _, _, ok, err := db.GetDocument(loc, time.Hour); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v", ok, err)
	}
	if err := db.PutDocument(loc, []byte(`{"type":"string"}`), "application/json"); err != nil {
		t.Fatalf("PutDocument: %v", err)
	}
	body, ct, ok, err := db.GetDocument(loc, time.Hour)
	if err != nil || !ok {
		t.Fatalf("GetDocument: ok=%v err=%v", ok, err)
	}
	if string(body) != `{"type":"string"}` || ct != "application/json" {
		t.Errorf("body=%q ct=%q", body, ct)
	}

	if _, err := db.conn.Exec(`UPDATE documents SET fetched_at = ? WHERE locator = ?`, time.Now().Add(-2*time.Hour).Unix(), loc); err != nil {
		t.Fatal(err)
	}
	if _, _, ok, _ := db.GetDocument(loc, time.Hour); ok {
		t.Error("expired document returned")
	}
	if _, _, ok, _ := db.GetDocument(loc, 0); !ok {
		t.Error("zero max age should never expire")
	}

	n, err := db.PurgeDocuments(time.Hour)
	if err != nil || n != 1 {
		t.Errorf("PurgeDocuments = %d, %v", n, err)
	}
}

func TestSearch_LiteralPunctuation(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSchema(file("a.json", "Alpha", "1"), "uses $defs/Address and 100% coverage", nil)
	_ = db.UpsertSchema(file("b.json", "Beta", "2"), "plain words", nil)

	results, err := db.Search("$defs/Address", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].Path != "a.json" {
		t.Errorf("results = %+v", results)
	}

	results, err = db.Search("   ", 10)
	if err != nil || len(results) != 0 {
		t.Errorf("blank query: results = %+v, err = %v", results, err)
	}
}
