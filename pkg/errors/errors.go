package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness for the admin API.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches two domain errors by code so wrapped instances compare equal to
// their sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Session and queue coordination errors.
var (
	// ErrNotRegistered: the reviewer login has no row in the reviewers table.
	// Fatal to session start; there is no anonymous review.
	ErrNotRegistered = New("NOT_REGISTERED", http.StatusForbidden, "reviewer is not registered")
	// ErrNoEligibleRecords: the queue holds nothing in an eligible status.
	ErrNoEligibleRecords = New("NO_ELIGIBLE_RECORDS", http.StatusNotFound, "no eligible records in the queue")
	// ErrAssignmentConflict: another session won the conditional lock update.
	ErrAssignmentConflict = New("ASSIGNMENT_CONFLICT", http.StatusConflict, "record was assigned to another session")
	// ErrSourceMissing: required source files for a record could not be resolved.
	ErrSourceMissing = New("SOURCE_MISSING", http.StatusNotFound, "source files not found")
	// ErrIncompleteSubmission: at least one reviewable item is still unjudged.
	ErrIncompleteSubmission = New("INCOMPLETE_SUBMISSION", http.StatusBadRequest, "every reviewable item needs a judgment")
	// ErrMissingNotes: a Bad or NeedsFollowUp judgment lacks explanatory notes.
	ErrMissingNotes = New("MISSING_NOTES", http.StatusBadRequest, "notes are required for flagged items")
	// ErrPartialCommit: the review row was written but the status transition
	// failed; the record may be re-offered and needs reconciliation.
	ErrPartialCommit = New("PARTIAL_COMMIT", http.StatusConflict, "review stored but record transition failed")
	// ErrInconsistentState: a record's stored status diverged from what the
	// holding session expects. Never auto-resolved.
	ErrInconsistentState = New("INCONSISTENT_STATE", http.StatusInternalServerError, "record status is inconsistent")
)

// Generic admin API errors.
var (
	ErrNotFound   = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrForbidden  = New("FORBIDDEN", http.StatusForbidden, "forbidden")
	ErrConflict   = New("CONFLICT", http.StatusConflict, "conflict")
	ErrValidation = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrInternal   = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}
