package ledger

import "errors"

var (
	// ErrValidation tags malformed or out-of-range requests.
	ErrValidation = errors.New("validation failed")

	// ErrIdempotencyConflict is returned when an idempotency key is reused
	// with a different request body.
	ErrIdempotencyConflict = errors.New("idempotency key already used with different request")

	// ErrEntryNotFound is returned when a referenced ledger entry does not exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrBalanceNotFound is returned by the repository when no balance row
	// exists for a user. Callers translate it into a synthetic zero balance.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrInsufficientBalance is returned when a debit, or the reversal of a
	// credit, would drive a balance negative.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyReversed is returned when the target entry already has a
	// reversal pointing at it.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrCannotReverseReversal is returned when the reversal target is itself
	// a reversal entry.
	ErrCannotReverseReversal = errors.New("cannot reverse a reversal entry")

	// ErrDuplicateIdempotencyKey is the repository-level signal for a unique
	// violation on the idempotency key index. The service resolves it into
	// either a duplicate response or ErrIdempotencyConflict.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
)
