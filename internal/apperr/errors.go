// Package apperr defines the error kinds surfaced by the annotation store.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

// Lookup and mutation errors.
var (
	// ErrInvalidID indicates malformed identifier text.
	ErrInvalidID = errors.New("invalid annotation id")

	// ErrDuplicateID indicates an add collided with an existing id.
	ErrDuplicateID = errors.New("duplicate annotation id")

	// ErrNotFound indicates the requested annotation or document does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDepending indicates a deletion was blocked by dependent annotations.
	ErrDepending = errors.New("annotation has dependents")

	// ErrReadOnly indicates a mutation on a store opened read-only.
	ErrReadOnly = errors.New("document is read-only")

	// ErrInvalidPath indicates a document reference outside the data area.
	ErrInvalidPath = errors.New("invalid document path")

	// ErrConflict indicates the document changed since the caller read it.
	ErrConflict = errors.New("document changed since it was read")
)

// Persistence and locking errors.
var (
	ErrPersistence   = errors.New("write-back failed")
	ErrLockTimeout   = errors.New("timed out waiting for data lock")
	ErrStaleLock     = errors.New("data lock owner no longer exists")
	ErrSessionClosed = errors.New("session is closed")
)

// InvalidID wraps ErrInvalidID with the offending text.
func InvalidID(text string) error {
	return fmt.Errorf("%w: %q", ErrInvalidID, text)
}

// DuplicateID wraps ErrDuplicateID with the colliding id.
func DuplicateID(id string) error {
	return fmt.Errorf("%w: %s", ErrDuplicateID, id)
}

// NotFound wraps ErrNotFound with what was looked up.
func NotFound(what string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, what)
}

// DependingAnnotationError reports a deletion blocked by annotations that
// reference the target and cannot be removed along with it.
type DependingAnnotationError struct {
	Target     string
	Dependents []string
}

func (e *DependingAnnotationError) Error() string {
	return fmt.Sprintf("%s is referenced by %s", e.Target, strings.Join(e.Dependents, ", "))
}

// Is reports whether target is ErrDepending.
func (e *DependingAnnotationError) Is(target error) bool {
	return target == ErrDepending
}

// PersistenceError describes a failed step of the write-back sequence.
type PersistenceError struct {
	Path string
	Op   string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %s: %v", e.Path, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}
