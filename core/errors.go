/*
errors.go - Centralized error kinds for the compliance engine

PURPOSE:
  All error kinds in one place. Every error the core produces wraps exactly
  one of these sentinels, and the API collaborator maps each sentinel to an
  HTTP status. The core itself never swallows an error and never returns a
  status code.

ERROR KINDS (one sentinel each):
  ErrNotFound                - missing report, line item, org, or refdata row
  ErrIllegalTransition       - state-machine transition not allowed
  ErrValidation              - malformed or inconsistent input
  ErrInsufficientBalance     - ledger precondition failure
  ErrInvalidTransactionState - ledger op on a terminal transaction
  ErrConflict                - optimistic-concurrency failure
  ErrTimeout                 - request deadline exceeded
  ErrInternal                - everything else

USAGE:
  Components return structured errors that Unwrap() to a sentinel:

    if errors.Is(err, core.ErrInsufficientBalance) { ... }

SEE ALSO:
  - api/handlers.go: maps sentinels to HTTP statuses
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound                = errors.New("not found")
	ErrIllegalTransition       = errors.New("illegal transition")
	ErrValidation              = errors.New("validation failed")
	ErrInsufficientBalance     = errors.New("insufficient balance")
	ErrInvalidTransactionState = errors.New("invalid transaction state")
	ErrConflict                = errors.New("concurrent modification detected")
	ErrTimeout                 = errors.New("deadline exceeded")
	ErrInternal                = errors.New("internal error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the thing the caller asked for.
type NotFoundError struct {
	Entity string // "report", "organization", "transaction", ...
	ID     any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IllegalTransitionError carries the source and attempted-target states.
type IllegalTransitionError struct {
	From   string
	Target string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal transition from %s to %s", e.From, e.Target)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// FieldError is one field-level validation message.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries a list of field-level messages.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 1 {
		return fmt.Sprintf("validation failed: %s: %s", e.Fields[0].Field, e.Fields[0].Message)
	}
	return fmt.Sprintf("validation failed: %d field errors", len(e.Fields))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Add appends a field-level message and returns the error for chaining.
func (e *ValidationError) Add(field, message string) *ValidationError {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: message})
	return e
}

// Empty reports whether no field errors were collected.
func (e *ValidationError) Empty() bool { return len(e.Fields) == 0 }

// InsufficientBalanceError details a balance shortage.
type InsufficientBalanceError struct {
	OrgID     OrgID
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %d, requested %d",
		e.OrgID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransactionStateError details a ledger op applied to a transaction
// in the wrong state.
type InvalidTransactionStateError struct {
	TxID   TransactionID
	Action TxAction
	Op     string // "confirm", "release"
}

func (e *InvalidTransactionStateError) Error() string {
	return fmt.Sprintf("cannot %s transaction %d in state %s", e.Op, e.TxID, e.Action)
}

func (e *InvalidTransactionStateError) Unwrap() error { return ErrInvalidTransactionState }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsClientError reports whether the error is due to invalid client input
// rather than a server-side failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransactionState) ||
		errors.Is(err, ErrConflict)
}

// IsRetryable reports whether the operation might succeed on retry.
func IsRetryable(err error) bool { return errors.Is(err, ErrConflict) }

// Internalf wraps an unexpected failure as an Internal error.
func Internalf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternal, fmt.Sprintf(format, args...))
}
