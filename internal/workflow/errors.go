package workflow

import "errors"

// Transition errors. Callers disambiguate with errors.Is; the API layer maps
// them onto HTTP status codes (400/403) and the store's version-conflict
// error onto 409.
var (
	// ErrIllegalTransition means the (state, event) pair is not in the
	// transition table. Client or programmer error, never retried.
	ErrIllegalTransition = errors.New("illegal transition")

	// ErrUnauthorized means the actor's role is not allowed to drive the
	// requested event from the current state.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrReasonRequired means a rejection was requested without a reason.
	ErrReasonRequired = errors.New("rejection reason required")
)
