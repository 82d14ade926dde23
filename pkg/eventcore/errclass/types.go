package errclass

import "fmt"

// TimeoutError indicates an operation exceeded its deadline.
type TimeoutError struct {
	Operation string
	Duration  string
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s: %s", e.Duration, e.Operation)
}

// TransportError indicates a network-level delivery failure
// (connection reset, refused, unreachable).
type TransportError struct {
	Op     string
	Target string
	Err    error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s to %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConflictError indicates a storage serialization or deadlock conflict.
// These resolve on retry.
type ConflictError struct {
	Table string
	Err   error
}

// Error implements the error interface.
func (e *ConflictError) Error() string {
	return fmt.Sprintf("storage conflict on %s: %v", e.Table, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConflictError) Unwrap() error {
	return e.Err
}

// StorageError indicates a non-conflict storage failure.
type StorageError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// AuthError indicates an authentication or authorization denial.
type AuthError struct {
	Subject string
	Action  string
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("access denied: %s may not %s", e.Subject, e.Action)
}

// DependencyError indicates a required collaborator is unavailable.
type DependencyError struct {
	Dependency string
	Err        error
}

// Error implements the error interface.
func (e *DependencyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("dependency %s unavailable: %v", e.Dependency, e.Err)
	}
	return fmt.Sprintf("dependency %s unavailable", e.Dependency)
}

// Unwrap returns the underlying error.
func (e *DependencyError) Unwrap() error {
	return e.Err
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("HTTP %d at %s: %s", e.StatusCode, e.Endpoint, e.Message)
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}
