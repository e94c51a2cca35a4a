package version

import (
	"errors"
	"fmt"
)

// ConflictKind discriminates the two idempotency outcomes of InitVersion
type ConflictKind string

const (
	VersionExists     ConflictKind = "VERSION_EXISTS"
	VersionProcessing ConflictKind = "VERSION_PROCESSING"
)

// ConflictError signals that a version for the requested key already
// exists. It is an idempotency signal, not a failure: callers branch on
// Kind, never on message text.
type ConflictError struct {
	Kind       ConflictKind
	DatasetID  string
	VersionTag string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: dataset %s tag %s", e.Kind, e.DatasetID, e.VersionTag)
}

// AsConflict unwraps err into a ConflictError if it is one
func AsConflict(err error) (*ConflictError, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// ValidationError signals bad caller input caught before any state was
// created.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Detail
}

// StateError signals an operation that does not match the version's
// current lifecycle state.
type StateError struct {
	VersionID string
	From      string
	To        string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s for version %s", e.From, e.To, e.VersionID)
}

// ErrDatasetNotFound is returned when a dataset code has no catalog entry
var ErrDatasetNotFound = errors.New("dataset not found")

// ErrVersionNotFound is returned when a version id does not exist
var ErrVersionNotFound = errors.New("version not found")
