package stage

import (
	"errors"
	"fmt"
)

// ErrorKind enumerates the error taxonomy the core recognises (spec §7).
type ErrorKind string

const (
	ErrBadRequest            ErrorKind = "bad_request"
	ErrUnauthorized          ErrorKind = "unauthorized"
	ErrOverloaded            ErrorKind = "overloaded"
	ErrStageTimeout          ErrorKind = "stage_timeout"
	ErrStageInternal         ErrorKind = "stage_internal"
	ErrConnectorUnavailable  ErrorKind = "connector_unavailable"
	ErrNoConnectorsAvailable ErrorKind = "no_connectors_available"
	ErrNoSuitableOption      ErrorKind = "no_suitable_option"
	ErrUserCancelled         ErrorKind = "user_cancelled"
	ErrConfirmationTimeout   ErrorKind = "confirmation_timeout"
	ErrRiskBlocked           ErrorKind = "risk_blocked"
	ErrDuplicateSuppressed   ErrorKind = "duplicate_suppressed"
	ErrJournalFailure        ErrorKind = "journal_failure"
)

// StageError is a typed, wrapped error carrying one of the ErrorKind
// values above. Modeled on the teacher's PermanentError: a thin wrapper
// that Unwraps so callers can still errors.Is/As the underlying cause.
type StageError struct {
	Kind ErrorKind
	Err  error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// NewError wraps err with the given kind. A nil err yields an error whose
// message is just the kind name, useful for sentinel-style conditions.
func NewError(kind ErrorKind, err error) *StageError {
	return &StageError{Kind: kind, Err: err}
}

// Fatal reports whether a kind is fatal to the run (journal_failure also
// surfaces to the process health check per spec §7).
func (k ErrorKind) Fatal() bool { return k == ErrJournalFailure }

// KindOf extracts the ErrorKind from err if it (or something it wraps) is
// a *StageError, otherwise returns ErrStageInternal.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrStageInternal
}

// IsKind reports whether err (or something it wraps) is a *StageError of
// the given kind. Mirrors connector.IsKind for the same taxonomy-check
// shape one layer up the stack.
func IsKind(err error, kind ErrorKind) bool {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind == kind
	}
	return false
}
