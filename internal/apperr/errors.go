// Package apperr defines the sentinel errors shared across folio packages.
package apperr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
)

// Engine error taxonomy. Parse and decode failures are reported as
// diagnostics that unwrap to these; they are not used for control flow.
var (
	ErrSchemaParse     = errors.New("schema parse error")
	ErrMetadataDecode  = errors.New("metadata decode error")
	ErrValidation      = errors.New("validation error")
	ErrSyncConflict    = errors.New("sync conflict")
	ErrSave            = errors.New("save error")
	ErrUnsavedChanges  = errors.New("unsaved changes")
	ErrClosed          = errors.New("document closed")
	ErrUnreadableInput = errors.New("input is not text")
)
