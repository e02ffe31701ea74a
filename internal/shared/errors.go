package shared

import "errors"

// Domain failure taxonomy. Services wrap these with fmt.Errorf("%w: ...")
// so callers can classify failures with errors.Is while keeping context.
var (
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict indicates an operation that is illegal in the
	// entity's current state, including uniqueness violations such as
	// "order already exists for request".
	ErrStateConflict = errors.New("state conflict")
	// ErrAuthorizationRequired indicates supervisor approval is needed
	// but the authorization fields were not supplied.
	ErrAuthorizationRequired = errors.New("authorization required")
	// ErrAuthorizationDenied indicates the supervisor lacks the permission
	// or the daily passphrase did not validate.
	ErrAuthorizationDenied = errors.New("authorization denied")
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrConcurrencyConflict indicates a race was detected, e.g. two
	// concurrent session opens for the same operator.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)
