package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrAuthentication covers every credential failure surfaced to users:
	// unknown email, wrong password, or an already-registered signup email.
	// It carries no field-level detail to prevent account enumeration.
	ErrAuthentication = errors.New("authentication failed")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)
