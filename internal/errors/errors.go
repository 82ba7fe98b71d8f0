package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a logsort error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"     // 400
	ErrNotFound           ErrorCode = "NOT_FOUND"           // 404
	ErrIndexCollision     ErrorCode = "INDEX_COLLISION"     // 409
	ErrMalformedReference ErrorCode = "MALFORMED_REFERENCE" // 422
	ErrCatalogParse       ErrorCode = "CATALOG_PARSE"       // 422
	ErrArchive            ErrorCode = "ARCHIVE_ERROR"       // 500
	ErrMergeFailed        ErrorCode = "MERGE_FAILED"        // 500
	ErrCancelled          ErrorCode = "CANCELLED"           // 499
	ErrInternal           ErrorCode = "INTERNAL"            // 500
)

// SortError represents a structured error with code, status, and details.
type SortError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *SortError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *SortError) Unwrap() error {
	return e.Err
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SortError {
	return &SortError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for a missing path, run or item.
func NewNotFound(identifier string) *SortError {
	return &SortError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("not found: %s", identifier),
		Details: map[string]any{"identifier": identifier},
	}
}

// NewIndexCollision creates a 409 error when two eligible log files share a name.
func NewIndexCollision(name, first, second string) *SortError {
	return &SortError{
		Code:    ErrIndexCollision,
		Status:  409,
		Message: fmt.Sprintf("log name %q is present at %s and %s", name, first, second),
		Details: map[string]any{"name": name, "first": first, "second": second},
	}
}

// NewMalformedReference creates a 422 error for a catalog log reference whose
// path does not have enough segments to name a log file.
func NewMalformedReference(ref string, segments, want int) *SortError {
	return &SortError{
		Code:    ErrMalformedReference,
		Status:  422,
		Message: fmt.Sprintf("log reference %q has %d segments, need at least %d", ref, segments, want),
		Details: map[string]any{"reference": ref, "segments": segments, "want": want},
	}
}

// NewCatalogParse creates a 422 error for an undecodable catalog document or entry.
func NewCatalogParse(document string, err error) *SortError {
	msg := "invalid catalog"
	if err != nil {
		msg = err.Error()
	}
	return &SortError{
		Code:    ErrCatalogParse,
		Status:  422,
		Message: fmt.Sprintf("%s: %s", document, msg),
		Details: map[string]any{"document": document},
		Err:     err,
	}
}

// NewArchive creates a 500 error for a failed zip operation on path.
func NewArchive(path string, err error) *SortError {
	msg := "archive failure"
	if err != nil {
		msg = err.Error()
	}
	return &SortError{
		Code:    ErrArchive,
		Status:  500,
		Message: fmt.Sprintf("%s: %s", path, msg),
		Details: map[string]any{"path": path},
		Err:     err,
	}
}

// NewMergeFailed creates a 500 error when split parts could not be merged
// even after regenerating them.
func NewMergeFailed(err error) *SortError {
	msg := "merge failed"
	if err != nil {
		msg = "merge failed after regenerating split parts: " + err.Error()
	}
	return &SortError{
		Code:    ErrMergeFailed,
		Status:  500,
		Message: msg,
		Err:     err,
	}
}

// NewCancelled creates an error for an operation interrupted by its context.
func NewCancelled(op string) *SortError {
	return &SortError{
		Code:    ErrCancelled,
		Status:  499,
		Message: fmt.Sprintf("%s cancelled", op),
		Details: map[string]any{"operation": op},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message stays generic; the cause is kept in Details for logging.
func NewInternal(err error) *SortError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SortError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
		Err:     err,
	}
}

// Is checks if err, or anything it wraps, is a SortError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SortError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}

// As reports whether err wraps a SortError and returns it.
func As(err error) (*SortError, bool) {
	var sErr *SortError
	if stderrors.As(err, &sErr) {
		return sErr, true
	}
	return nil, false
}
