package flatten

import (
	"errors"
	"fmt"
)

// ErrReferenceCycle is reported for a branch whose $ref chain returns to a
// target it already passed through without producing a row.
var ErrReferenceCycle = errors.New("reference cycle")

// ErrRowLimit is reported once when a run stops at its row cap.
var ErrRowLimit = errors.New("row limit")

// LoadError reports a root document that could not be loaded.
type LoadError struct {
	Locator string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load schema %s: %v", e.Locator, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ShapeError reports a root that carries none of "properties", "items" or
// "type". No rows are produced for it.
type ShapeError struct {
	Kind string
}

func (e *ShapeError) Error() string {
	if e.Kind != "" && e.Kind != "object" {
		return fmt.Sprintf("schema root is a %s, not an object", e.Kind)
	}
	return "schema root has none of the keys properties, items, type"
}
