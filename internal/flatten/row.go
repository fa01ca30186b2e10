package flatten

import "github.com/starford/schable/internal/schema"

// Constraint is the composition keyword a row was expanded from.
type Constraint string

// Constraint values.
const (
	ConstraintNone  Constraint = "none"
	ConstraintAllOf Constraint = "allOf"
	ConstraintOneOf Constraint = "oneOf"
	ConstraintAnyOf Constraint = "anyOf"
	ConstraintNot   Constraint = "not"
)

// Row describes one concrete property or item of a flattened schema.
type Row struct {
	Name        string     `json:"name"`
	Type        string     `json:"type"`
	Description string     `json:"description,omitempty"`
	Required    bool       `json:"required"`
	Path        string     `json:"path"`
	Indent      int        `json:"indent"`
	Constraint  Constraint `json:"constraint"`
	// ConstraintIndex and ConstraintCount locate a composition branch in
	// its set; both are zero outside a composition.
	ConstraintIndex int `json:"constraint_index,omitempty"`
	ConstraintCount int `json:"constraint_count,omitempty"`
	// Ref is the $ref the row was resolved through, if any.
	Ref   string         `json:"ref,omitempty"`
	Enum  []*schema.Node `json:"enum,omitempty"`
	Const *schema.Node   `json:"const,omitempty"`
	Root  bool           `json:"root,omitempty"`
	Item  bool           `json:"item,omitempty"`
}

// Issue is a branch that could not be resolved. Its subtree is missing
// from the rows of the run.
type Issue struct {
	Path    string `json:"path"`
	Name    string `json:"name"`
	Ref     string `json:"ref,omitempty"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Summary is the top-level metadata of a schema document.
type Summary struct {
	Title       string `json:"title,omitempty"`
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	Dialect     string `json:"dialect,omitempty"`
	Description string `json:"description,omitempty"`
	Caption     string `json:"caption,omitempty"`
}

// Table is the complete result of rendering one schema.
type Table struct {
	Locator string  `json:"locator,omitempty"`
	Summary Summary `json:"summary"`
	Rows    []Row   `json:"rows"`
	Issues  []Issue `json:"issues"`
}
