package errs

import (
	"errors"
	"fmt"
)

// ErrNoSession is returned when an operation requires an authenticated
// session and none is active. Surfaced to the user as "please sign in".
var ErrNoSession = errors.New("no active session, please sign in")

// UploadError reports a failed object-store upload or an unreadable local
// source. It is propagated for local-file sources and downgraded to a
// direct-URL fallback for remote sources by the upload orchestrator.
type UploadError struct {
	Status int    // HTTP status from the object store, 0 for local read failures
	Body   string // response body snippet kept for diagnostics
	Err    error
}

func (e *UploadError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upload failed: HTTP %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error { return e.Err }

// QueryError reports a backend read failure. Collection providers absorb it
// by logging and resetting their cache; it never reaches the UI.
type QueryError struct {
	Table string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s failed: %v", e.Table, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// MutationError reports a backend write failure. It is always surfaced to
// the initiating caller and does not trigger a cache reload.
type MutationError struct {
	Table string
	Op    string // insert, update, delete
	Err   error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("%s on %s failed: %v", e.Op, e.Table, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// ValidationError rejects a mutation before any network call is attempted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is a client-side validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
