package leave_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

var testKey = leave.BalanceKey{EmployeeID: "emp-1", LeaveTypeID: "annual"}

// newLedger returns a ledger over a fresh in-memory store, pre-granted with
// the given total for testKey.
func newLedger(t *testing.T, total decimal.Decimal) (*leave.BalanceLedger, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	ledger := leave.NewBalanceLedger(mem, zap.NewNop())
	if total.IsPositive() {
		_, err := ledger.Grant(context.Background(), testKey, total, "test grant")
		require.NoError(t, err)
	}
	return ledger, mem
}

func assertAvailable(t *testing.T, ledger *leave.BalanceLedger, key leave.BalanceKey, want decimal.Decimal) {
	t.Helper()
	b, err := ledger.Balance(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, b.Available().Equal(want),
		"available = %s, want %s (total=%s reserved=%s consumed=%s)",
		b.Available(), want, b.Total, b.Reserved, b.Consumed)
}

// =============================================================================
// GRANT TESTS
// =============================================================================

func TestGrant_CreatesBalanceOnFirstAccrual(t *testing.T) {
	// GIVEN: No balance row for the key
	// WHEN: Granting 18 days
	// THEN: A balance exists with total 18, nothing reserved or consumed

	ledger, _ := newLedger(t, decimal.Zero)

	b, err := ledger.Grant(context.Background(), testKey, leave.Days(18), "annual accrual")
	require.NoError(t, err)

	assert.True(t, b.Total.Equal(leave.Days(18)))
	assert.True(t, b.Reserved.IsZero())
	assert.True(t, b.Consumed.IsZero())
	assertAvailable(t, ledger, testKey, leave.Days(18))
}

func TestGrant_AccumulatesOnExistingBalance(t *testing.T) {
	// GIVEN: A balance with total 18
	// WHEN: Granting 5 more
	// THEN: Total is 23

	ledger, _ := newLedger(t, leave.Days(18))

	b, err := ledger.Grant(context.Background(), testKey, leave.Days(5), "adjustment")
	require.NoError(t, err)
	assert.True(t, b.Total.Equal(leave.Days(23)))
}

func TestGrant_RejectsNonPositiveAmount(t *testing.T) {
	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Grant(context.Background(), testKey, decimal.Zero, "noop")
	assert.Error(t, err)

	_, err = ledger.Grant(context.Background(), testKey, leave.Days(-1), "negative")
	assert.Error(t, err)
}

// =============================================================================
// RESERVE TESTS
// =============================================================================

func TestReserve_HoldsAmountAgainstAvailable(t *testing.T) {
	// GIVEN: total 18, consumed 0
	// WHEN: Reserving 3 days for a request
	// THEN: available drops to 15, reserved is 3

	ledger, _ := newLedger(t, leave.Days(18))

	res, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)

	assert.Equal(t, leave.ReservationHeld, res.State)
	assert.True(t, res.Amount.Equal(leave.Days(3)))
	assertAvailable(t, ledger, testKey, leave.Days(15))
}

func TestReserve_InsufficientBalanceLeavesLedgerUnchanged(t *testing.T) {
	// GIVEN: total 18, consumed 7 (available 11)
	// WHEN: Reserving 12 days
	// THEN: InsufficientBalanceError and the balance is untouched

	ledger, _ := newLedger(t, leave.Days(18))

	// Consume 7 through a full reserve/commit cycle.
	_, err := ledger.Reserve(context.Background(), testKey, "req-prior", leave.Days(7))
	require.NoError(t, err)
	_, err = ledger.Commit(context.Background(), "req-prior")
	require.NoError(t, err)
	assertAvailable(t, ledger, testKey, leave.Days(11))

	_, err = ledger.Reserve(context.Background(), testKey, "req-big", leave.Days(12))
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrInsufficientBalance)

	var ibe *leave.InsufficientBalanceError
	require.ErrorAs(t, err, &ibe)
	assert.True(t, ibe.Available.Equal(leave.Days(11)))
	assert.True(t, ibe.Requested.Equal(leave.Days(12)))

	// No partial reservation.
	assertAvailable(t, ledger, testKey, leave.Days(11))
	_, err = ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
}

func TestReserve_ExactAvailableSucceeds(t *testing.T) {
	// Boundary: reserving exactly the available amount is allowed.

	ledger, _ := newLedger(t, leave.Days(5))

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(5))
	require.NoError(t, err)
	assertAvailable(t, ledger, testKey, decimal.Zero)
}

func TestReserve_HalfDayAmount(t *testing.T) {
	ledger, _ := newLedger(t, leave.Days(1))

	res, err := ledger.Reserve(context.Background(), testKey, "req-half", leave.HalfDay)
	require.NoError(t, err)
	assert.True(t, res.Amount.Equal(leave.HalfDay))
	assertAvailable(t, ledger, testKey, leave.HalfDay)
}

func TestReserve_RetryReturnsExistingHold(t *testing.T) {
	// GIVEN: A reservation already held for req-1
	// WHEN: Reserving again for the same request id
	// THEN: The existing hold is returned; reserved is not doubled

	ledger, _ := newLedger(t, leave.Days(18))

	first, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)

	second, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)

	assert.Equal(t, first.RequestID, second.RequestID)
	assertAvailable(t, ledger, testKey, leave.Days(15))
}

// =============================================================================
// COMMIT / RELEASE TESTS
// =============================================================================

func TestCommit_MovesReservedToConsumed(t *testing.T) {
	// Scenario: total 18, consumed 7, reserve 3 -> available 8 -> approve
	// -> consumed 10, reserved 0, available 8.

	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Reserve(context.Background(), testKey, "req-prior", leave.Days(7))
	require.NoError(t, err)
	_, err = ledger.Commit(context.Background(), "req-prior")
	require.NoError(t, err)

	_, err = ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	assertAvailable(t, ledger, testKey, leave.Days(8))

	res, err := ledger.Commit(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.ReservationCommitted, res.State)

	b, err := ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, b.Consumed.Equal(leave.Days(10)))
	assert.True(t, b.Reserved.IsZero())
	assertAvailable(t, ledger, testKey, leave.Days(8))
}

func TestRelease_ReturnsReservedToAvailable(t *testing.T) {
	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	assertAvailable(t, ledger, testKey, leave.Days(15))

	res, err := ledger.Release(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.ReservationReleased, res.State)
	assertAvailable(t, ledger, testKey, leave.Days(18))
}

func TestCommit_IsIdempotent(t *testing.T) {
	// GIVEN: A committed reservation
	// WHEN: Committing it again (at-least-once retry)
	// THEN: No-op; consumed is not doubled

	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	_, err = ledger.Commit(context.Background(), "req-1")
	require.NoError(t, err)

	res, err := ledger.Commit(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, leave.ReservationCommitted, res.State)

	b, err := ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, b.Consumed.Equal(leave.Days(3)), "consumed doubled on retry: %s", b.Consumed)
}

func TestRelease_IsIdempotent(t *testing.T) {
	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	_, err = ledger.Release(context.Background(), "req-1")
	require.NoError(t, err)

	_, err = ledger.Release(context.Background(), "req-1")
	require.NoError(t, err)
	assertAvailable(t, ledger, testKey, leave.Days(18))
}

func TestCommitAfterRelease_Fails(t *testing.T) {
	// GIVEN: A released reservation
	// WHEN: Committing it
	// THEN: ErrInvalidTransition; the balance is untouched

	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	_, err = ledger.Release(context.Background(), "req-1")
	require.NoError(t, err)

	_, err = ledger.Commit(context.Background(), "req-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)
	assertAvailable(t, ledger, testKey, leave.Days(18))
}

func TestCommit_UnknownReservation(t *testing.T) {
	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Commit(context.Background(), "req-missing")
	assert.ErrorIs(t, err, leave.ErrReservationNotFound)
}

// =============================================================================
// AUDIT TRAIL TESTS
// =============================================================================

func TestEntries_RecordEveryMutation(t *testing.T) {
	// GIVEN: grant -> reserve -> commit
	// THEN: Three entries in order, each with the mutation amount

	ledger, _ := newLedger(t, leave.Days(18))

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	_, err = ledger.Commit(context.Background(), "req-1")
	require.NoError(t, err)

	entries, err := ledger.Entries(context.Background(), testKey)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, leave.EntryGrant, entries[0].Type)
	assert.Equal(t, leave.EntryReserve, entries[1].Type)
	assert.Equal(t, leave.EntryCommit, entries[2].Type)
	assert.Equal(t, leave.RequestID("req-1"), entries[2].RequestID)
	assert.True(t, entries[2].Amount.Equal(leave.Days(3)))
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestReserve_ConcurrentRequestsNeverOversell(t *testing.T) {
	// GIVEN: 10 days available
	// WHEN: 20 goroutines each try to reserve 3 days for distinct requests
	// THEN: Exactly 3 succeed (9 days held) and the invariant holds

	ledger, _ := newLedger(t, leave.Days(10))

	const attempts = 20
	results := make(chan error, attempts)
	var wg sync.WaitGroup

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := leave.RequestID(fmt.Sprintf("req-%d", n))
			_, err := ledger.Reserve(context.Background(), testKey, id, leave.Days(3))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 3, succeeded)

	b, err := ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, b.Reserved.Equal(leave.Days(9)))
	assert.NoError(t, b.CheckInvariant())
}

func TestReserve_SingleSlotOneWinner(t *testing.T) {
	// GIVEN: 3 days available
	// WHEN: Two concurrent 3-day reservations race
	// THEN: Exactly one wins

	ledger, _ := newLedger(t, leave.Days(3))

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []leave.RequestID{"req-a", "req-b"} {
		wg.Add(1)
		go func(id leave.RequestID) {
			defer wg.Done()
			_, err := ledger.Reserve(context.Background(), testKey, id, leave.Days(3))
			errs <- err
		}(id)
	}
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
		} else {
			losses++
			assert.ErrorIs(t, err, leave.ErrInsufficientBalance)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)
	assertAvailable(t, ledger, testKey, decimal.Zero)
}

// =============================================================================
// OPTIMISTIC RETRY TESTS
// =============================================================================

func TestWithRetry_RecoversFromTransientConflict(t *testing.T) {
	// GIVEN: The store reports a version conflict on the first two writes
	// WHEN: Reserving
	// THEN: The ledger retries and succeeds

	ledger, mem := newLedger(t, leave.Days(18))
	ledger.InitialBackoff = 1 // keep the test fast

	remaining := 2
	mem.ConflictHook = func() error {
		if remaining > 0 {
			remaining--
			return leave.ErrConcurrencyConflict
		}
		return nil
	}

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.NoError(t, err)
	assertAvailable(t, ledger, testKey, leave.Days(15))
}

func TestWithRetry_ExhaustionDegradesToServiceUnavailable(t *testing.T) {
	// GIVEN: The store conflicts on every write
	// WHEN: Reserving
	// THEN: ErrServiceUnavailable after bounded retries; no state applied

	ledger, mem := newLedger(t, leave.Days(18))
	ledger.MaxRetries = 2
	ledger.InitialBackoff = 1

	mem.ConflictHook = func() error { return leave.ErrConcurrencyConflict }

	_, err := ledger.Reserve(context.Background(), testKey, "req-1", leave.Days(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrServiceUnavailable)
	assert.True(t, leave.IsRetryable(err))

	mem.ConflictHook = nil
	assertAvailable(t, ledger, testKey, leave.Days(18))
}
