package memory

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or empty required field. It is raised
// before any write is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// NotFoundError reports an operation referencing an atom, context, or chain
// id that does not exist.
type NotFoundError struct {
	Kind string // "atom", "context", "chain"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// StorageError wraps an underlying database failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure in %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
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

// IsStorage reports whether err is a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

func notFoundErr(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
