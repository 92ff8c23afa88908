// Package apperr defines the error kinds returned by the escrow core.
// Callers wrap them with fmt.Errorf("...: %w", apperr.ErrX) and test with errors.Is.
package apperr

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidState is returned when a transition is not allowed from the current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the caller has no authority over the entity.
	ErrForbidden = errors.New("forbidden")
	// ErrExternalUnavailable is returned when a ledger, payout or deposit
	// provider call failed or timed out. It is always retryable.
	ErrExternalUnavailable = errors.New("external service unavailable")
	// ErrPreconditionFailed is returned for missing payout destinations,
	// non-positive budgets and similar input problems.
	ErrPreconditionFailed = errors.New("precondition failed")
	// ErrConflict is returned when an idempotency key is reused with different data.
	ErrConflict = errors.New("conflict")
)

// Kind returns the taxonomy error err wraps, or nil for unclassified errors.
func Kind(err error) error {
	for _, k := range []error{ErrInvalidState, ErrNotFound, ErrForbidden, ErrExternalUnavailable, ErrPreconditionFailed, ErrConflict} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Retryable reports whether the caller may safely retry the operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrExternalUnavailable)
}

// HTTPStatus maps an error to the status code handlers should answer with.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case ErrInvalidState, ErrConflict:
		return http.StatusConflict
	case ErrNotFound:
		return http.StatusNotFound
	case ErrForbidden:
		return http.StatusForbidden
	case ErrExternalUnavailable:
		return http.StatusServiceUnavailable
	case ErrPreconditionFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
