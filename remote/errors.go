package remote

import (
	"errors"
	"fmt"
)

// FaultNotFound is the fault code the server uses for a missing object.
const FaultNotFound = 404

// ErrClosed is returned by a Caller after Close.
var ErrClosed = errors.New("remote: caller is closed")

// ErrNoCassetteEntry is returned by a Replayer when no recorded call matches.
var ErrNoCassetteEntry = errors.New("remote: no recorded call matches")

// Fault is a fault reported by the server for one call.
type Fault struct {
	Code    int
	Message string
}

// Error returns the error message for Fault.
func (f *Fault) Error() string {
	return fmt.Sprintf("fault %d: %s", f.Code, f.Message)
}

// IsNotFound reports whether err carries a not-found fault.
func IsNotFound(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.Code == FaultNotFound
}
