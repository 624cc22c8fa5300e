package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrDuplicate        = errors.New("duplicate entry")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")

	// Pipeline item errors. Only ErrStoreUnavailable ends a stage; the rest
	// drop the current item.
	ErrTransientFetch = errors.New("transient fetch error")
	ErrFetch          = errors.New("fetch failed")
	ErrParse          = errors.New("parse error")
	ErrValidation     = errors.New("validation error")
	ErrPersist        = errors.New("persist failed")
)

// IsRetryable reports whether an operation that failed with err may succeed
// when attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientFetch)
}

// IsFatal reports whether err should terminate the stage that observed it.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
