// Package apperr holds the sentinel errors shared across services and
// mapped to HTTP statuses by the API layer.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidSchema = errors.New("invalid schema document")
	ErrInvalidPath   = errors.New("invalid catalog path")
)
