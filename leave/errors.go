/*
errors.go - Centralized error types for the workflow core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers branch with errors.Is / errors.As; the API layer maps these
  to HTTP statuses.

ERROR CATEGORIES:
  1. Validation errors - policy/overlap/notice violations, never touch the ledger
  2. Ledger errors - insufficient balance, concurrency conflicts
  3. Workflow errors - illegal state transitions, missing requests

SEE ALSO:
  - ledger.go: Returns balance and concurrency errors
  - workflow.go: Returns transition errors
  - api/handlers.go: Maps errors to HTTP statuses
*/
package leave

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidationFailed is returned when a request violates policy rules.
	// Recoverable: the caller corrects the input and resubmits.
	ErrValidationFailed = errors.New("validation failed")

	// ErrInsufficientBalance is returned when a reservation would exceed the
	// available balance. No partial reservation is ever made.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransition is returned when a workflow action is attempted on
	// a request whose state does not permit it. Indicates a stale client view
	// or a duplicate action; safe to retry-read-then-decide.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidRange is returned when a request's end date precedes its start.
	ErrInvalidRange = errors.New("invalid range: end before start")

	// ErrConcurrencyConflict is returned by stores when an optimistic update
	// loses a race. Internal: the ledger retries with backoff and only
	// surfaces ErrServiceUnavailable when retries are exhausted.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrServiceUnavailable is returned when contended ledger updates could
	// not be applied within the retry budget. Scoped to a single balance key.
	ErrServiceUnavailable = errors.New("service unavailable: retries exhausted")

	// ErrRequestNotFound is returned when a referenced request doesn't exist.
	ErrRequestNotFound = errors.New("request not found")

	// ErrBalanceNotFound is returned when no balance exists for the key.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrLeaveTypeNotFound is returned when a referenced leave type doesn't exist.
	ErrLeaveTypeNotFound = errors.New("leave type not found")

	// ErrReservationNotFound is returned when a commit/release references an
	// unknown reservation. Normally indicates store corruption.
	ErrReservationNotFound = errors.New("reservation not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Available   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s/%s: available %s, requested %s",
		e.EmployeeID, e.LeaveTypeID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidTransitionError provides details about an illegal workflow action.
type InvalidTransitionError struct {
	RequestID RequestID
	From      RequestState
	Action    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot %s request %s in state %q", e.Action, e.RequestID, e.From)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// ValidationError wraps the violations a candidate request accumulated.
// All violations are collected before returning so the caller can present
// every problem at once.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("validation failed: %s", e.Violations[0].Message)
	}
	return fmt.Sprintf("validation failed: %d violations", len(e.Violations))
}

func (e *ValidationError) Unwrap() error { return ErrValidationFailed }

// BalanceInvariantError reports a corrupt balance. This should never escape
// the ledger; it exists so the invariant check has a typed failure.
type BalanceInvariantError struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Total       decimal.Decimal
	Reserved    decimal.Decimal
	Consumed    decimal.Decimal
}

func (e *BalanceInvariantError) Error() string {
	return fmt.Sprintf("balance invariant violated for %s/%s: total=%s reserved=%s consumed=%s",
		e.EmployeeID, e.LeaveTypeID, e.Total, e.Reserved, e.Consumed)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrServiceUnavailable)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidationFailed) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidRange) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrBalanceNotFound) ||
		errors.Is(err, ErrLeaveTypeNotFound)
}
