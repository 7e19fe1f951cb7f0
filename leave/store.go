/*
store.go - Persistence interfaces for the workflow core

PURPOSE:
  Defines the interface between domain logic and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  BalanceStore:   Balance rows + reservations + append-only entry log
  RequestStore:   Request persistence and read-side queries
  ApprovalLog:    Append-only audit of terminal decisions
  LeaveTypeStore: Immutable leave type reference data

ATOMICITY CONTRACT:
  UpdateBalance persists the new balance row, the reservation state, and the
  audit entry in a single storage transaction. Either all are written or none
  are - a reservation is never observable without its balance effect.

OPTIMISTIC CONCURRENCY:
  Balance rows carry a version column. UpdateBalance succeeds only when the
  stored version matches Balance.Version and increments it; otherwise it
  returns ErrConcurrencyConflict and the ledger re-reads and retries.

APPEND-ONLY CONTRACT:
  BalanceEntry and Approval records are append-only. No Update, no Delete.
  Corrections happen through new ledger operations, never edits.

IMPLEMENTATIONS:
  - store/sqlite: Production SQLite
  - leave/store:  In-memory for testing

SEE ALSO:
  - ledger.go: Drives BalanceStore
  - workflow.go: Drives RequestStore and ApprovalLog
*/
package leave

import (
	"context"
	"time"
)

// =============================================================================
// BALANCE STORE
// =============================================================================

// BalanceStore persists balances, reservations and the audit entry log.
type BalanceStore interface {
	// GetBalance loads the balance row for a key.
	// Returns ErrBalanceNotFound when no row exists.
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)

	// InsertBalance creates a new balance row together with its first audit
	// entry. Fails if a row already exists for the key.
	InsertBalance(ctx context.Context, b Balance, entry BalanceEntry) error

	// UpdateBalance atomically writes the balance row (checking and
	// incrementing the optimistic version), the reservation state when res is
	// non-nil, and the audit entry. Returns ErrConcurrencyConflict when the
	// stored version no longer matches b.Version.
	UpdateBalance(ctx context.Context, b Balance, res *Reservation, entry BalanceEntry) error

	// GetReservation loads the reservation bound to a request.
	// Returns ErrReservationNotFound when none exists.
	GetReservation(ctx context.Context, requestID RequestID) (Reservation, error)

	// Entries returns the append-only audit trail for a key, oldest first.
	Entries(ctx context.Context, key BalanceKey) ([]BalanceEntry, error)
}

// =============================================================================
// REQUEST STORE
// =============================================================================

// RequestFilter narrows ListRequests. Nil fields match everything; the
// read-side status/employee queries compose these predicates.
type RequestFilter struct {
	EmployeeID      *EmployeeID
	LeaveTypeID     *LeaveTypeID
	State           *RequestState
	SubmittedBefore *time.Time
}

// RequestStore persists leave requests.
type RequestStore interface {
	// SaveRequest inserts or updates a request by id.
	SaveRequest(ctx context.Context, r Request) error

	// TransitionRequest atomically moves a Submitted request to a terminal
	// state, recording the actor and decision time. Compare-and-swap: when the
	// request is no longer Submitted a concurrent decision already won and
	// InvalidTransitionError is returned; ErrRequestNotFound when missing.
	TransitionRequest(ctx context.Context, id RequestID, to RequestState, actorID string, decidedAt time.Time) (Request, error)

	// GetRequest loads a request. Returns ErrRequestNotFound when missing.
	GetRequest(ctx context.Context, id RequestID) (Request, error)

	// ListRequests returns requests matching the filter, oldest first.
	ListRequests(ctx context.Context, filter RequestFilter) ([]Request, error)

	// ActiveRequests returns the employee's Submitted and Approved requests.
	// Used for overlap validation.
	ActiveRequests(ctx context.Context, employeeID EmployeeID) ([]Request, error)
}

// =============================================================================
// APPROVAL LOG - Append-only audit of terminal decisions
// =============================================================================

type ApprovalLog interface {
	// AppendApproval records a terminal decision. Append-only.
	AppendApproval(ctx context.Context, a Approval) error

	// ApprovalsForRequest returns decisions for a request, oldest first.
	ApprovalsForRequest(ctx context.Context, id RequestID) ([]Approval, error)
}

// =============================================================================
// LEAVE TYPE STORE
// =============================================================================

type LeaveTypeStore interface {
	SaveLeaveType(ctx context.Context, lt LeaveType) error

	// GetLeaveType returns ErrLeaveTypeNotFound when missing.
	GetLeaveType(ctx context.Context, id LeaveTypeID) (LeaveType, error)

	ListLeaveTypes(ctx context.Context) ([]LeaveType, error)
}

// Store aggregates every persistence interface the engine needs. Concrete
// stores implement all of them against one database.
type Store interface {
	BalanceStore
	RequestStore
	ApprovalLog
	LeaveTypeStore
}
