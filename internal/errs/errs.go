package errs

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("conflict")
	ErrPermissionDenied       = errors.New("permission denied")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrIntegrityViolation     = errors.New("integrity violation")
	ErrInvalidCredentials     = errors.New("invalid credentials")
)

// Kind classifies an error for the boundary layer.
type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindValidation             Kind = "validation"
	KindNotFound               Kind = "not_found"
	KindConflict               Kind = "conflict"
	KindPermissionDenied       Kind = "permission_denied"
	KindInvalidStateTransition Kind = "invalid_state_transition"
	KindIntegrityViolation     Kind = "integrity_violation"
	KindInvalidCredentials     Kind = "invalid_credentials"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrIntegrityViolation, KindIntegrityViolation},
	{ErrInvalidCredentials, KindInvalidCredentials},
	{ErrInvalidStateTransition, KindInvalidStateTransition},
	{ErrPermissionDenied, KindPermissionDenied},
	{ErrConflict, KindConflict},
	{ErrNotFound, KindNotFound},
	{ErrValidation, KindValidation},
}

// KindOf returns the taxonomy kind of err. Errors raised by collaborator I/O
// (driver faults, cancelled contexts) are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// Validationf wraps ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Denied wraps ErrPermissionDenied with the attempted operation.
func Denied(op, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", op, ErrPermissionDenied, fmt.Sprintf(format, args...))
}

// StateError reports an operation attempted from a state that forbids it.
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not permitted in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error { return ErrInvalidStateTransition }

// Wrapf annotates err with context, keeping it matchable by errors.Is.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
