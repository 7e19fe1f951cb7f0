package leave_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/leave/store"
)

// =============================================================================
// FIXTURES
// =============================================================================

// captureDispatcher records every dispatched event for assertions.
type captureDispatcher struct {
	mu     sync.Mutex
	events []leave.Event
}

func (c *captureDispatcher) Dispatch(_ context.Context, e leave.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureDispatcher) types() []leave.EventType {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]leave.EventType, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

type workflowFixture struct {
	engine     *leave.WorkflowEngine
	ledger     *leave.BalanceLedger
	mem        *store.Memory
	dispatcher *captureDispatcher
	today      leave.Date
}

// newWorkflowFixture wires a full engine over the in-memory store with 18 days
// granted for testKey and an annual leave type requiring 3 days notice.
func newWorkflowFixture(t *testing.T) workflowFixture {
	t.Helper()

	mem := store.NewMemory()
	today := leave.NewDate(2024, time.March, 1)

	ledger := leave.NewBalanceLedger(mem, zap.NewNop())
	_, err := ledger.Grant(context.Background(), testKey, leave.Days(18), "seed")
	require.NoError(t, err)

	require.NoError(t, mem.SaveLeaveType(context.Background(), leave.LeaveType{
		ID:                "annual",
		Name:              "Annual Leave",
		Accrual:           leave.AccrualAnnualReset,
		DefaultDays:       leave.Days(18),
		AdvanceNoticeDays: 3,
	}))
	require.NoError(t, mem.SaveLeaveType(context.Background(), leave.LeaveType{
		ID:              "sick",
		Name:            "Sick Leave",
		Accrual:         leave.AccrualAnnualReset,
		DefaultDays:     leave.Days(10),
		EmergencyExempt: true,
	}))

	validator := leave.NewRequestValidator(mem, mem)
	validator.Now = func() leave.Date { return today }

	dispatcher := &captureDispatcher{}
	engine := leave.NewWorkflowEngine(ledger, validator, mem, dispatcher, zap.NewNop())
	engine.Now = func() time.Time { return today.Time }

	return workflowFixture{engine: engine, ledger: ledger, mem: mem, dispatcher: dispatcher, today: today}
}

func (f workflowFixture) submit(t *testing.T, days int) leave.Request {
	t.Helper()
	req, err := f.engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:  testKey.EmployeeID,
		LeaveTypeID: testKey.LeaveTypeID,
		StartDate:   f.today.AddDays(10),
		EndDate:     f.today.AddDays(10 + days - 1),
		Reason:      "vacation",
	})
	require.NoError(t, err)
	return req
}

// =============================================================================
// SUBMIT TESTS
// =============================================================================

func TestSubmit_ReservesAndPersists(t *testing.T) {
	// GIVEN: 18 days available
	// WHEN: Submitting a 3-day request
	// THEN: The request is Submitted, 3 days are reserved, an event is emitted

	f := newWorkflowFixture(t)
	req := f.submit(t, 3)

	assert.Equal(t, leave.StateSubmitted, req.State)
	assert.True(t, req.DurationDays.Equal(leave.Days(3)))
	assert.NotEmpty(t, req.ID)

	assertAvailable(t, f.ledger, testKey, leave.Days(15))

	stored, err := f.engine.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, leave.StateSubmitted, stored.State)

	assert.Equal(t, []leave.EventType{leave.EventRequestSubmitted}, f.dispatcher.types())
}

func TestSubmit_ValidationFailureHoldsNothing(t *testing.T) {
	// GIVEN: Only 18 days available
	// WHEN: Submitting a 19-day request
	// THEN: ValidationError; no reservation, no stored request, no event

	f := newWorkflowFixture(t)

	_, err := f.engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:  testKey.EmployeeID,
		LeaveTypeID: testKey.LeaveTypeID,
		StartDate:   f.today.AddDays(10),
		EndDate:     f.today.AddDays(28),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, leave.ErrValidationFailed)

	var ve *leave.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, leave.ViolationInsufficientBalance, ve.Violations[0].Code)

	assertAvailable(t, f.ledger, testKey, leave.Days(18))
	assert.Empty(t, f.dispatcher.types())

	requests, err := f.engine.List(context.Background(), leave.RequestFilter{})
	require.NoError(t, err)
	assert.Empty(t, requests)
}

func TestSubmit_UnknownLeaveType(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:  testKey.EmployeeID,
		LeaveTypeID: "sabbatical",
		StartDate:   f.today.AddDays(10),
		EndDate:     f.today.AddDays(10),
	})
	assert.ErrorIs(t, err, leave.ErrLeaveTypeNotFound)
}

func TestSubmit_InvalidRange(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:  testKey.EmployeeID,
		LeaveTypeID: testKey.LeaveTypeID,
		StartDate:   f.today.AddDays(12),
		EndDate:     f.today.AddDays(10),
	})
	assert.ErrorIs(t, err, leave.ErrInvalidRange)
}

func TestSubmit_HalfDay(t *testing.T) {
	f := newWorkflowFixture(t)
	day := f.today.AddDays(10)

	req, err := f.engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:    testKey.EmployeeID,
		LeaveTypeID:   testKey.LeaveTypeID,
		StartDate:     day,
		EndDate:       day,
		IsHalfDay:     true,
		HalfDayPeriod: leave.HalfDayAfternoon,
	})
	require.NoError(t, err)
	assert.True(t, req.DurationDays.Equal(leave.HalfDay))
	assertAvailable(t, f.ledger, testKey, leave.Days(17.5))
}

// =============================================================================
// APPROVE / REJECT / CANCEL TESTS
// =============================================================================

func TestApprove_CommitsReservation(t *testing.T) {
	// GIVEN: A submitted 3-day request
	// WHEN: Approving it
	// THEN: Approved state, consumed 3, approval record, event emitted

	f := newWorkflowFixture(t)
	req := f.submit(t, 3)

	approved, err := f.engine.Approve(context.Background(), req.ID, "mgr-1")
	require.NoError(t, err)

	assert.Equal(t, leave.StateApproved, approved.State)
	assert.Equal(t, "mgr-1", approved.ApproverID)
	require.NotNil(t, approved.DecidedAt)

	b, err := f.ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, b.Consumed.Equal(leave.Days(3)))
	assert.True(t, b.Reserved.IsZero())

	approvals, err := f.engine.Approvals(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, leave.DecisionApproved, approvals[0].Decision)
	assert.Equal(t, "mgr-1", approvals[0].ApproverID)

	assert.Equal(t,
		[]leave.EventType{leave.EventRequestSubmitted, leave.EventRequestApproved},
		f.dispatcher.types())
}

func TestReject_ReleasesReservation(t *testing.T) {
	// GIVEN: A submitted 3-day request
	// WHEN: Rejecting it
	// THEN: Rejected state, full balance restored, reason recorded

	f := newWorkflowFixture(t)
	req := f.submit(t, 3)

	rejected, err := f.engine.Reject(context.Background(), req.ID, "mgr-1", "coverage gap")
	require.NoError(t, err)

	assert.Equal(t, leave.StateRejected, rejected.State)
	assertAvailable(t, f.ledger, testKey, leave.Days(18))

	approvals, err := f.engine.Approvals(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, leave.DecisionRejected, approvals[0].Decision)
	assert.Equal(t, "coverage gap", approvals[0].Comment)
}

func TestCancel_ReleasesReservation(t *testing.T) {
	f := newWorkflowFixture(t)
	req := f.submit(t, 3)

	cancelled, err := f.engine.Cancel(context.Background(), req.ID, string(testKey.EmployeeID))
	require.NoError(t, err)

	assert.Equal(t, leave.StateCancelled, cancelled.State)
	assertAvailable(t, f.ledger, testKey, leave.Days(18))
	assert.Equal(t,
		[]leave.EventType{leave.EventRequestSubmitted, leave.EventRequestCancelled},
		f.dispatcher.types())
}

func TestDecide_TerminalStatesAreFinal(t *testing.T) {
	// GIVEN: An approved request
	// WHEN: Approving, rejecting or cancelling it again
	// THEN: ErrInvalidTransition each time; the balance never moves

	f := newWorkflowFixture(t)
	req := f.submit(t, 3)

	_, err := f.engine.Approve(context.Background(), req.ID, "mgr-1")
	require.NoError(t, err)

	_, err = f.engine.Approve(context.Background(), req.ID, "mgr-2")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	_, err = f.engine.Reject(context.Background(), req.ID, "mgr-2", "late")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	_, err = f.engine.Cancel(context.Background(), req.ID, "emp-1")
	assert.ErrorIs(t, err, leave.ErrInvalidTransition)

	b, err := f.ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, b.Consumed.Equal(leave.Days(3)), "double decision moved the balance")
	assert.True(t, b.Reserved.IsZero())

	// Only one approval record despite three rejected attempts.
	approvals, err := f.engine.Approvals(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Len(t, approvals, 1)
}

func TestDecide_UnknownRequest(t *testing.T) {
	f := newWorkflowFixture(t)

	_, err := f.engine.Approve(context.Background(), "missing", "mgr-1")
	assert.ErrorIs(t, err, leave.ErrRequestNotFound)
}

func TestDecide_ConcurrentApproveAndCancel(t *testing.T) {
	// GIVEN: A submitted request
	// WHEN: Approve and Cancel race
	// THEN: Exactly one wins; the loser gets ErrInvalidTransition and the
	//       balance reflects only the winner

	f := newWorkflowFixture(t)
	req := f.submit(t, 3)

	type outcome struct {
		state leave.RequestState
		err   error
	}
	results := make(chan outcome, 2)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r, err := f.engine.Approve(context.Background(), req.ID, "mgr-1")
		results <- outcome{r.State, err}
	}()
	go func() {
		defer wg.Done()
		r, err := f.engine.Cancel(context.Background(), req.ID, "emp-1")
		results <- outcome{r.State, err}
	}()
	wg.Wait()
	close(results)

	var wins, losses int
	for o := range results {
		if o.err == nil {
			wins++
		} else {
			losses++
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	b, err := f.ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.NoError(t, b.CheckInvariant())
	assert.True(t, b.Reserved.IsZero())

	final, err := f.engine.Get(context.Background(), req.ID)
	require.NoError(t, err)
	if final.State == leave.StateApproved {
		assert.True(t, b.Consumed.Equal(leave.Days(3)))
	} else {
		assert.Equal(t, leave.StateCancelled, final.State)
		assert.True(t, b.Consumed.IsZero())
	}
}

// pairedReadStore holds the first two GetRequest callers until both have read,
// so two racing decisions observe the same Submitted snapshot.
type pairedReadStore struct {
	leave.Store
	barrier chan struct{}
	arrived int32
}

func (s *pairedReadStore) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if atomic.AddInt32(&s.arrived, 1) == 2 {
		close(s.barrier)
	}
	<-s.barrier
	return r, err
}

func TestDecide_ConcurrentSameDecisionRecordsOneApproval(t *testing.T) {
	// GIVEN: Two managers approving the same request, both reading it while
	//        still Submitted
	// WHEN: Both approvals proceed
	// THEN: Exactly one succeeds; one Approval record and one approved event
	//       exist, and the balance shows a single commit

	mem := store.NewMemory()
	today := leave.NewDate(2024, time.March, 1)

	ledger := leave.NewBalanceLedger(mem, zap.NewNop())
	_, err := ledger.Grant(context.Background(), testKey, leave.Days(18), "seed")
	require.NoError(t, err)
	require.NoError(t, mem.SaveLeaveType(context.Background(), leave.LeaveType{
		ID:          "annual",
		Name:        "Annual Leave",
		Accrual:     leave.AccrualAnnualReset,
		DefaultDays: leave.Days(18),
	}))

	validator := leave.NewRequestValidator(mem, mem)
	validator.Now = func() leave.Date { return today }

	paired := &pairedReadStore{Store: mem, barrier: make(chan struct{})}
	dispatcher := &captureDispatcher{}
	engine := leave.NewWorkflowEngine(ledger, validator, paired, dispatcher, zap.NewNop())
	engine.Now = func() time.Time { return today.Time }

	req, err := engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:  testKey.EmployeeID,
		LeaveTypeID: testKey.LeaveTypeID,
		StartDate:   today.AddDays(10),
		EndDate:     today.AddDays(12),
		Reason:      "vacation",
	})
	require.NoError(t, err)

	errs := make(chan error, 2)
	for _, mgr := range []string{"mgr-1", "mgr-2"} {
		go func(mgr string) {
			_, err := engine.Approve(context.Background(), req.ID, mgr)
			errs <- err
		}(mgr)
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		if err := <-errs; err == nil {
			wins++
		} else {
			losses++
			assert.ErrorIs(t, err, leave.ErrInvalidTransition)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, losses)

	approvals, err := engine.Approvals(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, leave.DecisionApproved, approvals[0].Decision)

	var approvedEvents int
	for _, typ := range dispatcher.types() {
		if typ == leave.EventRequestApproved {
			approvedEvents++
		}
	}
	assert.Equal(t, 1, approvedEvents)

	b, err := ledger.Balance(context.Background(), testKey)
	require.NoError(t, err)
	assert.True(t, b.Reserved.IsZero())
	assert.True(t, b.Consumed.Equal(leave.Days(3)))
}

// =============================================================================
// LIST TESTS
// =============================================================================

func TestList_FiltersByState(t *testing.T) {
	f := newWorkflowFixture(t)

	first := f.submit(t, 2)
	_, err := f.engine.Approve(context.Background(), first.ID, "mgr-1")
	require.NoError(t, err)

	// A second, non-overlapping request that stays Submitted.
	second, err := f.engine.Submit(context.Background(), leave.SubmitInput{
		EmployeeID:  testKey.EmployeeID,
		LeaveTypeID: testKey.LeaveTypeID,
		StartDate:   f.today.AddDays(20),
		EndDate:     f.today.AddDays(21),
	})
	require.NoError(t, err)

	submitted := leave.StateSubmitted
	got, err := f.engine.List(context.Background(), leave.RequestFilter{State: &submitted})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second.ID, got[0].ID)

	all, err := f.engine.List(context.Background(), leave.RequestFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
