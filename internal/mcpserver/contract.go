package mcpserver

// RowFormatContract describes the rows produced by render_schema so that
// LLM consumers can interpret them without reading the source.
const RowFormatContract = `# schable Row Format

render_schema flattens a JSON Schema into an ordered list of rows. Each row
describes one property, array item or composition branch.

## Table

` + "```" + `json
{
  "locator": "https://example.com/person.json",
  "summary": {"title": "Person", "id": "...", "type": "object", "dialect": "...", "description": "...", "caption": "..."},
  "rows":   [ <row>, ... ],
  "issues": [ {"path": "{Root}.home", "name": "home", "ref": "...", "message": "..."} ]
}
` + "```" + `

## Row fields

| field              | meaning                                                              |
|--------------------|----------------------------------------------------------------------|
| name               | property name; "schema" for the root, "<parent> item" for items      |
| type               | type keyword, or "Enumerated <kinds>" when the node has an enum      |
| description        | referencing and referenced descriptions joined by ". "               |
| required           | listed in the parent's "required" (items inherit from their array)   |
| path               | unique structural path, e.g. ` + "`" + `{Root}.address[0].city` + "`" + `             |
| indent             | -1 for the root, +1 per property or item level                       |
| constraint         | allOf, oneOf, anyOf, not, or none                                    |
| constraint_index   | position of the branch in its composition (0-based)                  |
| constraint_count   | number of branches in the composition                                |
| ref                | the $ref the row was resolved through                                |
| enum / const       | literal accepted values, when declared                               |
| root / item        | flags for the root row and array item rows                           |

## Rules

1. Rows come in document order; siblings are never reordered.
2. Composition branches share the indent of the node carrying the keyword;
   their paths end in ` + "`" + `<oneOf>[i]` + "`" + ` (or allOf, anyOf, not).
3. Property names containing dots, brackets, quotes or whitespace appear in
   paths as ` + "`" + `["name"]` + "`" + `.
4. Children are listed only while indent is below max_depth (default 8).
5. A branch whose reference cannot be fetched or located is missing from
   rows and reported once in issues.
`
