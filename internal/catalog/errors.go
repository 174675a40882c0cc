package catalog

import (
	"context"
	"errors"
)

// Failure taxonomy. Fetch and normalize failures are per unit; they leave the
// unit's marker unset so the next run retries it.
var (
	// ErrUnreachable covers transport failures, timeouts and upstream 5xx.
	ErrUnreachable = errors.New("upstream unreachable")
	// ErrInvalidResponse means the document was malformed or of an unexpected shape.
	ErrInvalidResponse = errors.New("invalid upstream response")
	// ErrNotFound means the upstream has no document for the identifier.
	ErrNotFound = errors.New("upstream document not found")
	// ErrEmptyResult is a well-formed response without the expected data node.
	ErrEmptyResult = errors.New("empty upstream result")
	// ErrPersistence means the unit's transaction was rolled back.
	ErrPersistence = errors.New("persistence failure")
)

// Reason maps an error to a stable label for metrics and summaries.
func Reason(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrUnreachable):
		return "unreachable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidResponse):
		return "invalid_response"
	case errors.Is(err, ErrEmptyResult):
		return "empty_result"
	case errors.Is(err, ErrPersistence):
		return "persistence"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
