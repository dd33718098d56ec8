package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers both genuinely absent rows and rows owned by a
	// different tenant, so cross-tenant probes cannot learn existence.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySettled is returned when marking a settled transaction as
	// paid a second time.
	ErrAlreadySettled = errors.New("transaction already settled")

	// ErrAccountInactive is returned when posting against a deactivated
	// account.
	ErrAccountInactive = errors.New("account is inactive")

	// ErrStorageUnavailable wraps transient persistence faults. Safe for the
	// caller to retry with backoff; the engine itself never retries.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrBalanceInvariant signals that account balances no longer reconcile
	// with the transaction log. Fatal; never retried, never swallowed.
	ErrBalanceInvariant = errors.New("balance invariant violation")
)

// ValidationError reports malformed or out-of-range input. The caller must
// correct the request and retry.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Code maps an engine error to its stable machine-readable code.
func Code(err error) string {
	switch {
	case IsValidation(err):
		return "VALIDATION_ERROR"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrAlreadySettled):
		return "ALREADY_SETTLED"
	case errors.Is(err, ErrAccountInactive):
		return "ACCOUNT_INACTIVE"
	case errors.Is(err, ErrStorageUnavailable):
		return "STORAGE_UNAVAILABLE"
	case errors.Is(err, ErrBalanceInvariant):
		return "BALANCE_INVARIANT_VIOLATION"
	default:
		return "INTERNAL_ERROR"
	}
}

func storage(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
