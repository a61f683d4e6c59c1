package rbac

import "fmt"

// NotFoundError reports a referenced role, tenant or source mode that
// does not exist. It is surfaced to the caller and never retried.
type NotFoundError struct {
	Kind string // "role", "tenant", "mode"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

// ConflictError reports an operation rejected because it would collide
// with existing state: a role key that already exists on add, a role
// still referenced by users or clients on delete, or duplicate entries
// in a desired state. The operation has no partial effect.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// ValidationError reports a malformed configuration document. The
// watcher treats it as locally recoverable: the previous cached state is
// retained and the error is logged, not propagated.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration document %s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// SourceUnavailableError reports an unreachable backing transport or
// store. No fallback to another source is attempted.
type SourceUnavailableError struct {
	Mode Mode
	Err  error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("configuration source %s unavailable: %v", e.Mode, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// IntegrityError reports a reconciliation that would violate referential
// constraints, such as writing a permission for a nonexistent role. The
// enclosing transaction is rolled back whole.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string { return e.Reason }

// NotSupportedError reports an operation a source variant does not
// implement. Returned instead of panicking so unsupported queries stay
// ordinary control flow.
type NotSupportedError struct {
	Op   string
	Mode Mode
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("operation %s not supported by source %s", e.Op, e.Mode)
}
