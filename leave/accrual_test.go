package leave_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// ANNUAL ACCRUAL TESTS
// =============================================================================

func newAccrualFixture(t *testing.T) (*leave.AccrualRunner, *leave.BalanceLedger, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	ledger := leave.NewBalanceLedger(mem, zap.NewNop())

	require.NoError(t, mem.SaveLeaveType(context.Background(), leave.LeaveType{
		ID:          "annual",
		Name:        "Annual Leave",
		Accrual:     leave.AccrualAnnualReset,
		DefaultDays: leave.Days(18),
	}))
	require.NoError(t, mem.SaveLeaveType(context.Background(), leave.LeaveType{
		ID:          "unpaid",
		Name:        "Unpaid Leave",
		Accrual:     leave.AccrualRolling,
		DefaultDays: leave.Days(30),
	}))

	return leave.NewAccrualRunner(ledger, mem, zap.NewNop()), ledger, mem
}

func TestRunAnnual_GrantsAllTypesForAllEmployees(t *testing.T) {
	// GIVEN: Two leave types and two employees with no balances
	// WHEN: Running the annual accrual
	// THEN: Four grants, each balance at its type's DefaultDays

	runner, ledger, _ := newAccrualFixture(t)

	applied, err := runner.RunAnnual(context.Background(), 2024,
		[]leave.EmployeeID{"emp-1", "emp-2"})
	require.NoError(t, err)
	assert.Equal(t, 4, applied)

	b, err := ledger.Balance(context.Background(),
		leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual"})
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(leave.Days(18)))

	b, err = ledger.Balance(context.Background(),
		leave.BalanceKey{EmployeeID: "emp-2", LeaveTypeID: "unpaid"})
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(leave.Days(30)))
}

func TestRunAnnual_IsIdempotentPerYear(t *testing.T) {
	// GIVEN: A completed 2024 accrual
	// WHEN: Running 2024 again
	// THEN: Zero grants; a 2025 run applies normally

	runner, ledger, _ := newAccrualFixture(t)
	employees := []leave.EmployeeID{"emp-1"}

	applied, err := runner.RunAnnual(context.Background(), 2024, employees)
	require.NoError(t, err)
	require.Equal(t, 2, applied)

	applied, err = runner.RunAnnual(context.Background(), 2024, employees)
	require.NoError(t, err)
	assert.Zero(t, applied)

	// 2025: unpaid (rolling) grants again; annual (reset) is already at its
	// full entitlement and tops up nothing.
	applied, err = runner.RunAnnual(context.Background(), 2025, employees)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	// Rolling entitlement stacked across years.
	b, err := ledger.Balance(context.Background(),
		leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "unpaid"})
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(leave.Days(60)))
}

func TestRunAnnual_ResetPolicyTopsUpWithoutStacking(t *testing.T) {
	// GIVEN: An annual_reset balance with 11 days still available after 7
	//        consumed in the prior year
	// WHEN: The new year accrues
	// THEN: The grant tops available back up to 18, not 18 on top of 11

	runner, ledger, _ := newAccrualFixture(t)
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual"}

	_, err := runner.RunAnnual(context.Background(), 2024, []leave.EmployeeID{"emp-1"})
	require.NoError(t, err)

	_, err = ledger.Reserve(context.Background(), key, "req-1", leave.Days(7))
	require.NoError(t, err)
	_, err = ledger.Commit(context.Background(), "req-1")
	require.NoError(t, err)
	assertAvailable(t, ledger, key, leave.Days(11))

	_, err = runner.RunAnnual(context.Background(), 2025, []leave.EmployeeID{"emp-1"})
	require.NoError(t, err)
	assertAvailable(t, ledger, key, leave.Days(18))
}

func TestRunAnnual_ResetPolicySkipsFullBalance(t *testing.T) {
	// An untouched annual_reset balance accrues nothing in the new year.

	runner, ledger, _ := newAccrualFixture(t)
	key := leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual"}

	_, err := runner.RunAnnual(context.Background(), 2024, []leave.EmployeeID{"emp-1"})
	require.NoError(t, err)

	_, err = runner.RunAnnual(context.Background(), 2025, []leave.EmployeeID{"emp-1"})
	require.NoError(t, err)
	assertAvailable(t, ledger, key, leave.Days(18))

	b, err := ledger.Balance(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(leave.Days(18)))
}
