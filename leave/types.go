/*
Package leave implements the leave balance and approval workflow core.

PURPOSE:
  An actor requests to consume a finite, typed leave balance over a date
  range. The request is validated against the current balance and calendar
  policy, then moves through an approval state machine that never allows the
  balance to go negative or two concurrent approvals to double-spend.

KEY CONCEPTS IN THIS FILE (types.go):
  - EmployeeID/LeaveTypeID/RequestID: Type-safe identifiers
  - LeaveType: Immutable reference data with per-type policy knobs
  - Balance: {total, reserved, consumed} with available derived
  - Request: The workflow entity; only state/approver/decidedAt mutate
  - Approval: Append-only audit record of terminal decisions

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal for day amounts (half days are exact)
  2. Type Safety: Strong typing for IDs prevents mixing employee/type IDs
  3. Ownership: Requests are owned by the WorkflowEngine once created;
     balances are mutated only through the BalanceLedger

SEE ALSO:
  - ledger.go: Reserve/commit/release against Balance
  - workflow.go: Request lifecycle
  - validator.go: Pre-reservation policy checks
*/
package leave

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EmployeeID string
type LeaveTypeID string
type RequestID string

// BalanceKey identifies one employee's balance for one leave type. All ledger
// mutations for a key are serialized; different keys proceed independently.
type BalanceKey struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
}

// =============================================================================
// AMOUNT HELPERS - Day amounts as exact decimals
// =============================================================================

// Days builds a day amount from a float. Only used at construction edges;
// all arithmetic stays in decimal.Decimal.
func Days(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// HalfDay is the duration of a half-day request.
var HalfDay = decimal.New(5, -1) // 0.5

// =============================================================================
// LEAVE TYPE - Immutable reference data
// =============================================================================

// AccrualPolicy describes how a leave type's entitlement renews.
type AccrualPolicy string

const (
	AccrualAnnualReset AccrualPolicy = "annual_reset" // entitlement resets each year
	AccrualRolling     AccrualPolicy = "rolling"      // entitlement carries over
)

// LeaveType is immutable reference data describing one kind of leave and the
// policy knobs the validator consults.
type LeaveType struct {
	ID          LeaveTypeID
	Name        string
	Accrual     AccrualPolicy
	DefaultDays decimal.Decimal

	// AdvanceNoticeDays: submissions must precede the start date by at least
	// this many calendar days. Zero disables the check.
	AdvanceNoticeDays int

	// EmergencyExempt leave types (e.g. sick, bereavement) skip the
	// advance-notice check entirely.
	EmergencyExempt bool
}

// =============================================================================
// BALANCE - Per (employee, leave type) ledger state
// =============================================================================

// Balance holds the ledger state for one BalanceKey.
//
// INVARIANT (enforced after every ledger operation):
//
//	0 <= Reserved, 0 <= Consumed, Reserved + Consumed <= Total
type Balance struct {
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Total       decimal.Decimal
	Reserved    decimal.Decimal
	Consumed    decimal.Decimal

	// Version is the optimistic concurrency token maintained by the store.
	Version int64
}

// Available is the amount a new request may reserve.
func (b Balance) Available() decimal.Decimal {
	return b.Total.Sub(b.Reserved).Sub(b.Consumed)
}

// CheckInvariant returns a BalanceInvariantError if the balance is corrupt.
func (b Balance) CheckInvariant() error {
	if b.Reserved.IsNegative() || b.Consumed.IsNegative() ||
		b.Reserved.Add(b.Consumed).GreaterThan(b.Total) {
		return &BalanceInvariantError{
			EmployeeID:  b.EmployeeID,
			LeaveTypeID: b.LeaveTypeID,
			Total:       b.Total,
			Reserved:    b.Reserved,
			Consumed:    b.Consumed,
		}
	}
	return nil
}

// =============================================================================
// RESERVATION - Token binding held balance to a request
// =============================================================================

type ReservationState string

const (
	ReservationHeld      ReservationState = "held"
	ReservationCommitted ReservationState = "committed"
	ReservationReleased  ReservationState = "released"
)

// Reservation binds a held amount to a request id. Commit and release are
// idempotent by the reservation's state: re-committing a committed
// reservation is a no-op, never a double spend.
type Reservation struct {
	RequestID   RequestID
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Amount      decimal.Decimal
	State       ReservationState
	CreatedAt   time.Time
}

func (r Reservation) Key() BalanceKey {
	return BalanceKey{EmployeeID: r.EmployeeID, LeaveTypeID: r.LeaveTypeID}
}

// =============================================================================
// REQUEST - Workflow entity
// =============================================================================

type RequestState string

const (
	StateSubmitted RequestState = "submitted"
	StateApproved  RequestState = "approved"
	StateRejected  RequestState = "rejected"
	StateCancelled RequestState = "cancelled"
)

// Terminal reports whether no further transitions may leave the state.
func (s RequestState) Terminal() bool { return s != StateSubmitted }

type HalfDayPeriod string

const (
	HalfDayMorning   HalfDayPeriod = "morning"
	HalfDayAfternoon HalfDayPeriod = "afternoon"
)

// Request is a leave request. Once created it is owned by the WorkflowEngine;
// only State, ApproverID and DecidedAt change after creation. Terminal states
// are final: rejected and cancelled requests are retained, never deleted.
type Request struct {
	ID            RequestID
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	StartDate     Date
	EndDate       Date
	IsHalfDay     bool
	HalfDayPeriod HalfDayPeriod // informational; only meaningful when IsHalfDay
	DurationDays  decimal.Decimal
	Reason        string
	State         RequestState
	ApproverID    string
	CreatedAt     time.Time
	DecidedAt     *time.Time
}

// Overlaps reports whether two requests block each other on the calendar.
// Ranges sharing any date overlap, except two half-day requests on the same
// date with opposite periods.
func (r Request) Overlaps(other Request) bool {
	if r.StartDate.After(other.EndDate) || r.EndDate.Before(other.StartDate) {
		return false
	}
	if r.IsHalfDay && other.IsHalfDay &&
		r.StartDate.Equal(other.StartDate) &&
		r.HalfDayPeriod != other.HalfDayPeriod &&
		r.HalfDayPeriod != "" && other.HalfDayPeriod != "" {
		return false
	}
	return true
}

// =============================================================================
// APPROVAL - Append-only audit record
// =============================================================================

type Decision string

const (
	DecisionApproved  Decision = "approved"
	DecisionRejected  Decision = "rejected"
	DecisionCancelled Decision = "cancelled"
)

// Approval records one terminal decision on a request. Append-only.
type Approval struct {
	ID         string
	RequestID  RequestID
	ApproverID string
	Decision   Decision
	Comment    string
	Timestamp  time.Time
}

// =============================================================================
// BALANCE ENTRY - Immutable audit trail of ledger mutations
// =============================================================================

type EntryType string

const (
	EntryGrant   EntryType = "grant"   // total increased (accrual, adjustment)
	EntryReserve EntryType = "reserve" // reserved increased for a request
	EntryCommit  EntryType = "commit"  // reserved moved to consumed
	EntryRelease EntryType = "release" // reserved returned to available
)

// BalanceEntry is an append-only record of one ledger mutation. Entries are
// never updated or deleted; the mutable balance row is the fast path and the
// entry log is how any balance value can be explained after the fact.
type BalanceEntry struct {
	ID          string
	EmployeeID  EmployeeID
	LeaveTypeID LeaveTypeID
	Type        EntryType
	Amount      decimal.Decimal
	RequestID   RequestID // empty for grants
	Reason      string
	CreatedAt   time.Time
}
