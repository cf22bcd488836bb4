/*
errors.go - Centralized error taxonomy for the loan engine

ERROR CATEGORIES:
  1. ValidationError       - bad input, no state mutated
  2. PolicyViolation       - product mis-configuration, rejected at config time
  3. IllegalStateTransition - operation not legal in the loan's current status
  4. ReplayFailure         - internal invariant broken mid-replay; the
                             operation aborts and persisted state is untouched

USAGE:
  Callers branch with errors.Is on the sentinels; the structured types carry
  the detail needed for error responses and operator logs.
*/
package loan

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all input validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrPolicyViolation marks a product configuration rejected before any
	// transaction processing can happen.
	ErrPolicyViolation = errors.New("allocation policy violation")

	// ErrIllegalTransition marks an operation that is not legal in the
	// loan's current status. Terminal for the caller; never retried.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrReplayFailure marks a broken invariant detected mid-replay.
	// The triggering operation is aborted wholesale.
	ErrReplayFailure = errors.New("replay failure")

	// ErrLoanNotFound is returned for unknown loan IDs.
	ErrLoanNotFound = errors.New("loan not found")

	// ErrTransactionNotFound is returned for unknown transaction IDs.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAlreadyReversed is returned when reversing or charging back a
	// transaction that is already reversed.
	ErrAlreadyReversed = errors.New("transaction already reversed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// PolicyViolationError reports an invalid product allocation configuration.
type PolicyViolationError struct {
	Product ProductID
	Message string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("policy violation on product %s: %s", e.Product, e.Message)
}

func (e *PolicyViolationError) Unwrap() error { return ErrPolicyViolation }

// IllegalTransitionError reports an operation rejected for the loan's status.
type IllegalTransitionError struct {
	Loan      LoanID
	Status    LoanStatus
	Operation string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("loan %s: cannot %s while %s", e.Loan, e.Operation, e.Status)
}

func (e *IllegalTransitionError) Unwrap() error { return ErrIllegalTransition }

// ReplayError reports the transaction and invariant that broke a replay.
type ReplayError struct {
	Loan        LoanID
	Transaction TransactionID
	Detail      string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("replay aborted on loan %s at tx %s: %s", e.Loan, e.Transaction, e.Detail)
}

func (e *ReplayError) Unwrap() error { return ErrReplayFailure }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the error is the caller's fault (4xx).
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrPolicyViolation) ||
		errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound reports whether the error indicates a missing aggregate.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLoanNotFound) || errors.Is(err, ErrTransactionNotFound)
}
