package nitrate

import (
	"errors"
	"fmt"
)

// ErrNoRecord is returned by fetch functions when the server answered but
// no record matched. The entity layer reports it as a NotFoundError.
var ErrNoRecord = errors.New("no matching record")

// UninitializedIdentityError is returned when an entity is used before it
// has either an id or a natural key to fetch by.
type UninitializedIdentityError struct {
	Kind string
}

// Error returns the error message for UninitializedIdentityError.
func (e *UninitializedIdentityError) Error() string {
	return fmt.Sprintf("%s has neither an id nor a key to fetch by", e.Kind)
}

// NotFoundError is returned when the server has no object for a lookup.
type NotFoundError struct {
	Kind  string
	Key   string
	Cause error
}

// Error returns the error message for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s: not found", e.Kind, e.Key)
}

// Unwrap returns the underlying cause of the NotFoundError.
func (e *NotFoundError) Unwrap() error {
	return e.Cause
}

// RemoteFaultError wraps a failure reported by the Caller for one method.
type RemoteFaultError struct {
	Method string
	Cause  error
}

// Error returns the error message for RemoteFaultError.
func (e *RemoteFaultError) Error() string {
	return fmt.Sprintf("remote %s: %v", e.Method, e.Cause)
}

// Unwrap returns the underlying cause of the RemoteFaultError.
func (e *RemoteFaultError) Unwrap() error {
	return e.Cause
}

// InvalidArgumentError is returned for rejected input values such as an
// unknown cache level or an enum name that does not exist.
type InvalidArgumentError struct {
	What  string
	Value any
}

// Error returns the error message for InvalidArgumentError.
func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.What, e.Value)
}

// NotImplementedError is returned when an entity kind has no remote method
// for the requested operation.
type NotImplementedError struct {
	Kind      string
	Operation string
}

// Error returns the error message for NotImplementedError.
func (e *NotImplementedError) Error() string {
	return fmt.Sprintf("%s does not support %s", e.Kind, e.Operation)
}
