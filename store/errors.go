package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an unknown index name or query operation is requested.
	ErrNotFound = errors.New("scarecrow: not found")

	// ErrTypeMismatch is returned when a declared index type is unsupported or a
	// value's type disagrees with the declared type.
	ErrTypeMismatch = errors.New("scarecrow: type mismatch")

	// ErrBackend is matched by every failure surfaced by the storage backend.
	ErrBackend = errors.New("scarecrow: backend failure")

	// ErrConsistency is returned when a backend cannot uphold the required
	// set/delete atomicity.
	ErrConsistency = errors.New("scarecrow: consistency guarantee unavailable")

	// ErrConcurrentModification is returned by backends when another writer
	// changed the same entity between read and commit.
	ErrConcurrentModification = errors.New("scarecrow: entity was modified concurrently")

	// ErrNotInstalled is returned by backends when a table was never installed.
	ErrNotInstalled = errors.New("scarecrow: storage not installed")

	// ErrInvalidArguments is returned when a dynamic query gets the wrong number of arguments.
	ErrInvalidArguments = errors.New("scarecrow: invalid query arguments")
)

// NotFoundError names the index or operation that could not be resolved.
type NotFoundError struct {
	Kind string // "index" or "operation"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("scarecrow: %s %q not found", e.Kind, e.Name)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TypeMismatchError carries the offending type.
type TypeMismatchError struct {
	// Index is the index name, empty for value parsing outside an index.
	Index string

	// Declared is the kind the index was declared with. KindInvalid when the
	// declared type itself was not recognized.
	Declared Kind

	// Got describes the rejected type or declared type name.
	Got string
}

func (e *TypeMismatchError) Error() string {
	switch {
	case e.Declared == KindInvalid && e.Index != "":
		return fmt.Sprintf("scarecrow: index %q: unsupported declared type %q", e.Index, e.Got)
	case e.Declared == KindInvalid:
		return fmt.Sprintf("scarecrow: unsupported declared type %q", e.Got)
	case e.Index != "":
		return fmt.Sprintf("scarecrow: index %q: %s value expected, got %s", e.Index, e.Declared, e.Got)
	default:
		return fmt.Sprintf("scarecrow: %s value expected, got %s", e.Declared, e.Got)
	}
}

// Is reports whether target is ErrTypeMismatch.
func (e *TypeMismatchError) Is(target error) bool { return target == ErrTypeMismatch }

// BackendError wraps a failure of the underlying store.
type BackendError struct {
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("scarecrow: %s: %v", e.Op, e.Err)
}

// Is reports whether target is ErrBackend.
func (e *BackendError) Is(target error) bool { return target == ErrBackend }

func (e *BackendError) Unwrap() error { return e.Err }

// ArgumentsError reports a dynamic query called with the wrong number of
// arguments.
type ArgumentsError struct {
	Op   string
	Want int
	Got  int
}

func (e *ArgumentsError) Error() string {
	return fmt.Sprintf("scarecrow: %s takes %d arguments, got %d", e.Op, e.Want, e.Got)
}

// Is reports whether target is ErrInvalidArguments.
func (e *ArgumentsError) Is(target error) bool { return target == ErrInvalidArguments }

// ConsistencyError is returned when a Model requires a stronger guarantee
// than its backend provides.
type ConsistencyError struct {
	Required Consistency
	Actual   Consistency
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("scarecrow: backend is %s, %s required", e.Actual, e.Required)
}

// Is reports whether target is ErrConsistency.
func (e *ConsistencyError) Is(target error) bool { return target == ErrConsistency }

// backendErr wraps err as a *BackendError unless it already carries a type
// from this package's taxonomy.
func backendErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	var tm *TypeMismatchError
	if errors.As(err, &be) || errors.As(err, &tm) {
		return err
	}
	return &BackendError{Op: op, Err: err}
}
