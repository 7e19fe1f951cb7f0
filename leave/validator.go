/*
validator.go - Pre-reservation policy checks

PURPOSE:
  Checks a candidate request against ledger state, calendar rules and policy
  constraints before the workflow engine acts. All checks here are advisory:
  the balance check in particular is a fast-feedback pre-check, and the
  binding decision happens inside BalanceLedger.Reserve under the key lock.

CHECKS:
  - Balance sufficiency (non-binding; the ledger re-checks atomically)
  - No overlapping Submitted/Approved request shares a date. Two half-day
    requests on the same date with opposite periods do not overlap.
  - Advance notice: submission must precede the start date by the leave
    type's configured number of calendar days, unless the type is
    emergency-exempt.

NOT FAIL-FAST:
  Every check runs and all violations are returned together so the caller
  can present the full list at once.

SEE ALSO:
  - workflow.go: Runs the validator before reserving
  - types.go: Request.Overlaps
*/
package leave

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// VIOLATIONS
// =============================================================================

type ViolationCode string

const (
	ViolationInsufficientBalance ViolationCode = "insufficient_balance"
	ViolationOverlap             ViolationCode = "overlapping_request"
	ViolationAdvanceNotice       ViolationCode = "advance_notice"
)

// Violation describes one policy problem with a candidate request.
type Violation struct {
	Code    ViolationCode `json:"code"`
	Message string        `json:"message"`
}

// =============================================================================
// REQUEST VALIDATOR
// =============================================================================

// RequestValidator checks candidate requests. Stateless given its stores.
type RequestValidator struct {
	Balances BalanceStore
	Requests RequestStore

	// Now allows tests to pin the submission date. Nil means Today.
	Now func() Date
}

func NewRequestValidator(balances BalanceStore, requests RequestStore) *RequestValidator {
	return &RequestValidator{Balances: balances, Requests: requests}
}

func (v *RequestValidator) today() Date {
	if v.Now != nil {
		return v.Now()
	}
	return Today()
}

// Validate returns every violation the candidate request accumulates against
// the given leave type's policy. An empty slice means the request may proceed
// to reservation. Store read errors abort validation.
func (v *RequestValidator) Validate(ctx context.Context, candidate Request, lt LeaveType) ([]Violation, error) {
	var violations []Violation

	// Balance pre-check. Advisory: the ledger performs the binding check at
	// reserve time under the key lock. A missing balance row reads as zero.
	balance, err := v.Balances.GetBalance(ctx, BalanceKey{
		EmployeeID:  candidate.EmployeeID,
		LeaveTypeID: candidate.LeaveTypeID,
	})
	if err != nil && !errors.Is(err, ErrBalanceNotFound) {
		return nil, err
	}
	if balance.Available().LessThan(candidate.DurationDays) {
		violations = append(violations, Violation{
			Code: ViolationInsufficientBalance,
			Message: fmt.Sprintf("requested %s days but only %s available",
				candidate.DurationDays, balance.Available()),
		})
	}

	// Overlap against the employee's Submitted and Approved requests.
	active, err := v.Requests.ActiveRequests(ctx, candidate.EmployeeID)
	if err != nil {
		return nil, err
	}
	for _, existing := range active {
		if existing.ID == candidate.ID {
			continue
		}
		if candidate.Overlaps(existing) {
			violations = append(violations, Violation{
				Code: ViolationOverlap,
				Message: fmt.Sprintf("overlaps request %s (%s to %s, %s)",
					existing.ID, existing.StartDate, existing.EndDate, existing.State),
			})
		}
	}

	// Advance notice, unless the leave type is emergency-exempt.
	if lt.AdvanceNoticeDays > 0 && !lt.EmergencyExempt {
		notice := DaysUntil(v.today(), candidate.StartDate)
		if notice < lt.AdvanceNoticeDays {
			violations = append(violations, Violation{
				Code: ViolationAdvanceNotice,
				Message: fmt.Sprintf("requires %d days notice, got %d",
					lt.AdvanceNoticeDays, notice),
			})
		}
	}

	return violations, nil
}
