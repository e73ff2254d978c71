package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrBadCredential indicates the supplied secret did not match.
	ErrBadCredential = errors.New("bad credential")
	// ErrUnavailable indicates a backing store could not be reached.
	ErrUnavailable = errors.New("store unavailable")
	// ErrDuplicate indicates a unique record already exists.
	ErrDuplicate = errors.New("duplicate entry")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
