package collab

import "errors"

var (
	// ErrValidation marks an inbound event with a missing or malformed field.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when a credential is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")

	ErrRateLimited = errors.New("rate limited")

	// ErrEntryNotFound is returned by an EntryStore for an unknown entry.
	ErrEntryNotFound = errors.New("not found")

	// ErrNotMember is returned when a room-scoped event arrives for a room the
	// user has not joined.
	ErrNotMember = errors.New("not a member of the room")

	// ErrStoreUnavailable wraps transient failures of an external store.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrFatal marks an internal invariant violation; the connection is dropped.
	ErrFatal = errors.New("fatal internal error")
)
