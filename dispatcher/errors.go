package dispatcher

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownPool is returned for a Category outside the fixed table.
	ErrUnknownPool = errors.New("unknown callback pool")
	// ErrNoAction is returned when a registration carries no callable action.
	ErrNoAction = errors.New("callback has no action")
	// ErrDuplicateID is returned when a callback id is already present in the pool.
	ErrDuplicateID = errors.New("callback id already registered")
	// ErrCallbackNotFound is returned when no callback with the id exists in the pool.
	ErrCallbackNotFound = errors.New("callback not found")
	// ErrInvalidBinding is returned for an empty binding.
	ErrInvalidBinding = errors.New("invalid binding")
	// ErrInvalidBase is returned when a base URL does not look like a URL.
	ErrInvalidBase = errors.New("invalid base url")
	// ErrInvalidHeader is returned for a header with an empty name.
	ErrInvalidHeader = errors.New("invalid header name")
	// ErrNilParams is returned when parameters are set to nil.
	ErrNilParams = errors.New("params cannot be nil")
	// ErrInvalidRetry is returned for a negative retry count or a wait below one tick.
	ErrInvalidRetry = errors.New("invalid retry policy")
	// ErrNoHandle is returned when every transport handle is busy and the cap is reached.
	ErrNoHandle = errors.New("no transport handle available")
)

// CallbackError reports a callback that returned an error or panicked. It is
// attached to the Call passed to InternalError callbacks.
type CallbackError struct {
	Category Category
	ID       string
	Err      error
	// Panicked is set when Err was recovered from a panic.
	Panicked bool
}

func (e *CallbackError) Error() string {
	verb := "failed"
	if e.Panicked {
		verb = "panicked"
	}
	return fmt.Sprintf("callback %q in pool %s %s: %v", e.ID, e.Category, verb, e.Err)
}

func (e *CallbackError) Unwrap() error { return e.Err }
