package backup

import (
	"errors"
	"fmt"
)

var (
	// ErrBucketNotFound is returned when the backup bucket does not exist
	// and could not be created.
	ErrBucketNotFound = errors.New("bucket not found")
)

// ServiceError is a structured failure reported by the object store, such
// as not found, forbidden or an internal error.
type ServiceError struct {
	Op         string
	StatusCode int
	Code       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: remote returned %d %s: %v", e.Op, e.StatusCode, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: remote returned %d: %v", e.Op, e.StatusCode, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// TransportError is a network level failure talking to the object store.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
