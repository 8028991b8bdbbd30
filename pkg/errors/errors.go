// Package errors defines the domain error taxonomy shared by the execution core
// and the API layer. Errors are matched with errors.As at the boundaries.
package errors

import (
	"errors"
	"fmt"
)

// ValidationError indicates a malformed or duplicate request rejected at the
// submission boundary, before anything enters the queue.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Detail)
	}
	return fmt.Sprintf("validation failed: %s", e.Detail)
}

// NewValidation creates a ValidationError for a specific field.
func NewValidation(field, detail string) *ValidationError {
	return &ValidationError{Field: field, Detail: detail}
}

// NotFoundError indicates an unknown basket or position at lookup time.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// NewNotFound creates a NotFoundError for a resource and identifier.
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// VenueError wraps any failure reported by the execution venue: transport
// errors, execution rejections, or rate-limit violations.
type VenueError struct {
	Op  string
	Err error
}

func (e *VenueError) Error() string {
	return fmt.Sprintf("venue %s failed: %v", e.Op, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// NewVenue wraps err as a VenueError for the given venue operation.
func NewVenue(op string, err error) *VenueError {
	return &VenueError{Op: op, Err: err}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsVenue reports whether err is a VenueError.
func IsVenue(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve)
}
