/*
accrual.go - Periodic entitlement accrual

PURPOSE:
  Applies each leave type's yearly entitlement to employee balances through
  the ledger's Grant path, so accruals land in the same audit trail as every
  other balance mutation.

POLICY SEMANTICS:
  annual_reset: The new year tops the balance up to DefaultDays of available
                entitlement. Unused days do not stack; an employee already
                holding DefaultDays available accrues nothing.
  rolling:      The full DefaultDays are granted on top of whatever carried
                over.

IDEMPOTENCE:
  Each run writes grant entries tagged with the accrual year. A re-run for
  the same year finds the tag in the entry log and skips the key, so a
  crashed or repeated job never double-grants.

SEE ALSO:
  - ledger.go: Grant
  - types.go: AccrualPolicy, LeaveType.DefaultDays
*/
package leave

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// =============================================================================
// ACCRUAL RUNNER
// =============================================================================

// AccrualRunner applies yearly entitlements. Run it once per year per
// employee population, typically from a cron-style job or an admin trigger.
type AccrualRunner struct {
	ledger     *BalanceLedger
	balances   BalanceStore
	leaveTypes LeaveTypeStore
	logger     *zap.Logger
}

func NewAccrualRunner(ledger *BalanceLedger, store Store, logger *zap.Logger) *AccrualRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccrualRunner{
		ledger:     ledger,
		balances:   store,
		leaveTypes: store,
		logger:     logger.Named("accrual"),
	}
}

func accrualReason(year int) string {
	return fmt.Sprintf("annual accrual %d", year)
}

// RunAnnual applies the given year's entitlement for every (employee, leave
// type) pair. Returns the number of grants applied. Safe to re-run: keys
// already accrued for the year are skipped.
func (r *AccrualRunner) RunAnnual(ctx context.Context, year int, employees []EmployeeID) (int, error) {
	types, err := r.leaveTypes.ListLeaveTypes(ctx)
	if err != nil {
		return 0, fmt.Errorf("list leave types: %w", err)
	}

	applied := 0
	for _, emp := range employees {
		for _, lt := range types {
			if !lt.DefaultDays.IsPositive() {
				continue
			}
			granted, err := r.accrueOne(ctx, year, emp, lt)
			if err != nil {
				return applied, err
			}
			if granted {
				applied++
			}
		}
	}

	r.logger.Info("annual accrual complete",
		zap.Int("year", year),
		zap.Int("employees", len(employees)),
		zap.Int("grants", applied),
	)
	return applied, nil
}

func (r *AccrualRunner) accrueOne(ctx context.Context, year int, emp EmployeeID, lt LeaveType) (bool, error) {
	key := BalanceKey{EmployeeID: emp, LeaveTypeID: lt.ID}
	reason := accrualReason(year)

	done, err := r.alreadyAccrued(ctx, key, reason)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	amount := lt.DefaultDays
	if lt.Accrual == AccrualAnnualReset {
		// Top up to DefaultDays available; unused entitlement does not stack.
		b, err := r.balances.GetBalance(ctx, key)
		if err != nil && !errors.Is(err, ErrBalanceNotFound) {
			return false, err
		}
		if err == nil {
			amount = lt.DefaultDays.Sub(b.Available())
			if !amount.IsPositive() {
				return false, nil
			}
		}
	}

	if _, err := r.ledger.Grant(ctx, key, amount, reason); err != nil {
		return false, fmt.Errorf("accrue %s/%s: %w", emp, lt.ID, err)
	}
	return true, nil
}

func (r *AccrualRunner) alreadyAccrued(ctx context.Context, key BalanceKey, reason string) (bool, error) {
	entries, err := r.balances.Entries(ctx, key)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e.Type == EntryGrant && e.Reason == reason {
			return true, nil
		}
	}
	return false, nil
}
