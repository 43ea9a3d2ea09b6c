/*
errors.go - Centralized error taxonomy for the ledger engine

All sentinel errors in one place. The api package maps these onto HTTP
statuses: validation -> 400, not found -> 404, conflict -> 409,
transient -> 503. Anything unclassified is an internal error.

USAGE:
  if errors.Is(err, ledger.ErrAlreadyReversed) { ... }
  if ledger.IsValidation(err) { respond 400 }
*/
package ledger

import "errors"

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when an entry, account, or transfer does not
	// exist for the calling user. Ownership failures are deliberately
	// indistinguishable from absence.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyReversed is returned on a second reversal attempt.
	// Reversed is terminal; re-reversal must never double-post compensation.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrDuplicateOpeningBalance enforces at most one non-reversed opening
	// balance per (user, account).
	ErrDuplicateOpeningBalance = errors.New("account already has an opening balance")

	// ErrInvalidAccount is returned for a missing, foreign, or inactive
	// bank account reference.
	ErrInvalidAccount = errors.New("invalid or inactive account")

	// ErrSameAccount is returned when a transfer names one account twice.
	ErrSameAccount = errors.New("source and destination accounts are the same")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInvalidKind is returned for a manual entry kind outside {inflow, outflow}.
	ErrInvalidKind = errors.New("invalid entry kind")

	// ErrInvalidPeriod is returned for a month outside [1,12] or a year
	// outside [2020,2030].
	ErrInvalidPeriod = errors.New("invalid month/year period")

	// ErrBillNotPayable is returned when paying a bill that is already paid
	// or cancelled.
	ErrBillNotPayable = errors.New("bill is not payable")

	// ErrUnavailable is returned when the store is transiently unreachable
	// after bounded retries. Callers may retry the whole operation.
	ErrUnavailable = errors.New("storage temporarily unavailable")
)

// =============================================================================
// CLASSIFICATION HELPERS
// =============================================================================

// IsValidation reports malformed or out-of-range input.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, ErrSameAccount) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict reports a state conflict with existing data.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrDuplicateOpeningBalance) ||
		errors.Is(err, ErrBillNotPayable)
}

// IsNotFound reports a missing or not-owned resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports an error that might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
