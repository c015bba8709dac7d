package records

import "errors"

var (
	// ErrNotFound means the patient does not exist.
	ErrNotFound = errors.New("patient not found")
	// ErrAccessDenied covers a missing, expired or mismatched code alike.
	ErrAccessDenied = errors.New("access denied")
	// ErrStoreUnavailable wraps failures of the code store or record store.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotifierUnavailable means the code could not be delivered.
	ErrNotifierUnavailable = errors.New("notifier unavailable")
	// ErrInvalidInput means the add-record body failed validation.
	ErrInvalidInput = errors.New("invalid input")
)
