package models

import "errors"

var (
	ErrInvalidSelection = errors.New("invalid selection")
	ErrInvalidState     = errors.New("invalid state")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrPublisherFailure = errors.New("publisher failure")
)

var reasons = []struct {
	err  error
	name string
}{
	{ErrInvalidSelection, "InvalidSelection"},
	{ErrInvalidState, "InvalidState"},
	{ErrConflict, "Conflict"},
	{ErrNotFound, "NotFound"},
	{ErrStoreUnavailable, "StoreUnavailable"},
	{ErrPublisherFailure, "PublisherFailure"},
}

// ReasonOf maps err onto the error taxonomy name reported to callers.
// Errors outside the taxonomy are reported as "Internal".
func ReasonOf(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.name
		}
	}
	return "Internal"
}
