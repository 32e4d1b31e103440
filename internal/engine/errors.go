package engine

import (
	"errors"
	"fmt"

	"github.com/synclib/diffsync/internal/jsonpatch"
)

// SyncError represents a structural failure surfaced by the engine.
// Skippable conditions (stale edits, version mismatches, missing
// backups) are recovered locally and never reach the caller.
type SyncError struct {
	// Code identifies the error category.
	Code SyncErrorCode

	// Message is a human-readable description.
	Message string

	// DocumentID and ClientID identify the affected document, when known.
	DocumentID string
	ClientID   string

	// Err is the underlying cause, when there is one. For PATCH_FAILED
	// on JSON documents this chain reaches the jsonpatch.ApplyError
	// carrying the offending op.
	Err error
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// SyncErrorCode categorizes engine errors.
type SyncErrorCode string

const (
	// ErrCodeMissingCallback indicates a patched document has no
	// callback registered via Add.
	ErrCodeMissingCallback SyncErrorCode = "MISSING_CALLBACK"

	// ErrCodeMissingDocument indicates a shadow was patched but no
	// working document exists for its key.
	ErrCodeMissingDocument SyncErrorCode = "MISSING_DOCUMENT"

	// ErrCodePatchFailed indicates a diff operation could not be
	// applied; the wrapped jsonpatch error carries the offending op.
	ErrCodePatchFailed SyncErrorCode = "PATCH_FAILED"

	// ErrCodeStoreFailed indicates the data store rejected an operation.
	ErrCodeStoreFailed SyncErrorCode = "STORE_FAILED"

	// ErrCodeSchemaViolation indicates the reconciled document failed
	// the installed validator.
	ErrCodeSchemaViolation SyncErrorCode = "SCHEMA_VIOLATION"

	// ErrCodeMalformedMessage indicates an inbound message that did not
	// parse.
	ErrCodeMalformedMessage SyncErrorCode = "MALFORMED_MESSAGE"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	if e.DocumentID != "" {
		return fmt.Sprintf("%s: %s (document=%s, client=%s)", e.Code, e.Message, e.DocumentID, e.ClientID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsMissingCallback reports whether err is a missing-callback error.
// Uses errors.As to handle wrapped errors.
func IsMissingCallback(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeMissingCallback
}

// IsPatchFailed reports whether err is a patch-application error.
func IsPatchFailed(err error) bool {
	var se *SyncError
	if errors.As(err, &se) && se.Code == ErrCodePatchFailed {
		return true
	}
	return jsonpatch.IsApplyError(err)
}

// OffendingOp extracts the JSON-Patch operation that failed to apply,
// when the error chain carries one.
func OffendingOp(err error) (jsonpatch.Operation, bool) {
	var ae *jsonpatch.ApplyError
	if errors.As(err, &ae) {
		return ae.Op, true
	}
	return jsonpatch.Operation{}, false
}

// IsSchemaViolation reports whether err is a schema validation error.
func IsSchemaViolation(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeSchemaViolation
}

// IsMalformedMessage reports whether err is a message parse error.
func IsMalformedMessage(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.Code == ErrCodeMalformedMessage
}

// storeError wraps a data-store failure.
func storeError(op string, err error) error {
	return fmt.Errorf("%s: %s: %w", ErrCodeStoreFailed, op, err)
}

// patchError wraps a patch-application failure, preserving the
// jsonpatch.ApplyError (and its offending op) in the chain.
func patchError(err error) error {
	return &SyncError{Code: ErrCodePatchFailed, Message: err.Error(), Err: err}
}
