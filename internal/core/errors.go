package core

import (
	"errors"
	"fmt"
)

// ErrTooLarge marks input over a size limit. Transports wrap their own
// limit errors with it so ingest keeps them apart from malformed files.
var ErrTooLarge = errors.New("file too large")

// NotFoundError indicates a table or record does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// ValidationError indicates malformed input: a bad row payload, a
// non-numeric id, or a value that does not fit its column.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// StorageError wraps a failure of the underlying persistence layer.
// Error() never includes the wrapped error's text so query details stay
// server-side; use Unwrap for logging.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string { return "storage failure during " + e.Op }

func (e *StorageError) Unwrap() error { return e.Err }

// ErrNotFound creates a NotFoundError with a formatted message.
func ErrNotFound(format string, args ...any) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// ErrValidation creates a ValidationError with a formatted message.
func ErrValidation(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ErrStorage wraps err as a StorageError. Classified errors pass through
// unchanged and nil stays nil.
func ErrStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsNotFound(err) || IsValidation(err) || IsStorage(err) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// TableNotFound is the NotFound error for an unknown table.
func TableNotFound(name string) *NotFoundError {
	return ErrNotFound("table not found: %s", name)
}

// RecordNotFound is the NotFound error for an unknown record id.
func RecordNotFound(table string, id int64) *NotFoundError {
	return ErrNotFound("record not found: %s/%d", table, id)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsStorage(err error) bool {
	var target *StorageError
	return errors.As(err, &target)
}
