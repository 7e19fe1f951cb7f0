/*
workflow.go - Request lifecycle state machine

PURPOSE:
  The WorkflowEngine governs a request's lifecycle and is the only component
  allowed to mutate ledger reservations.

STATES:
  Submitted -> {Approved, Rejected, Cancelled}
  All three right-hand states are terminal; no transitions leave them.

REQUEST FLOW:
  Submit:  validate -> reserve balance -> persist Submitted -> emit event.
           Any failure leaves no state behind and no reservation held.
  Approve: Submitted only. Commit reservation, record Approval, emit event.
  Reject:  Submitted only. Release reservation, record Approval, emit event.
  Cancel:  Submitted only (approved requests need a separate reversal flow).
           Release reservation, record Approval, emit event.

EXACTLY-ONCE DECISION:
  The Submitted -> terminal transition is a compare-and-swap in the store
  (RequestStore.TransitionRequest). Concurrent decisions race to the swap;
  exactly one wins, and only the winner appends an Approval and emits an
  event - the loser fails with ErrInvalidTransition. Combined with the
  ledger's idempotent commit/release this guarantees one balance effect and
  one recorded decision per request regardless of retries.

SEE ALSO:
  - ledger.go: Reserve/Commit/Release
  - validator.go: Pre-reservation checks
  - events.go: Event emission
*/
package leave

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// =============================================================================
// WORKFLOW ENGINE
// =============================================================================

type WorkflowEngine struct {
	ledger     *BalanceLedger
	validator  *RequestValidator
	requests   RequestStore
	approvals  ApprovalLog
	leaveTypes LeaveTypeStore
	dispatcher Dispatcher
	logger     *zap.Logger

	// Now allows tests to pin time. Nil means time.Now.
	Now func() time.Time
}

func NewWorkflowEngine(
	ledger *BalanceLedger,
	validator *RequestValidator,
	store Store,
	dispatcher Dispatcher,
	logger *zap.Logger,
) *WorkflowEngine {
	if dispatcher == nil {
		dispatcher = NoopDispatcher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WorkflowEngine{
		ledger:     ledger,
		validator:  validator,
		requests:   store,
		approvals:  store,
		leaveTypes: store,
		dispatcher: dispatcher,
		logger:     logger.Named("workflow"),
	}
}

func (w *WorkflowEngine) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

// SubmitInput carries the caller-supplied fields of a new request.
// Duration is computed here via ComputeDuration, never by the caller.
type SubmitInput struct {
	EmployeeID    EmployeeID
	LeaveTypeID   LeaveTypeID
	StartDate     Date
	EndDate       Date
	IsHalfDay     bool
	HalfDayPeriod HalfDayPeriod
	Reason        string
}

// Submit validates the candidate, reserves its duration, persists the request
// in Submitted state and emits RequestSubmitted. On any failure no state is
// created and no reservation is held.
func (w *WorkflowEngine) Submit(ctx context.Context, in SubmitInput) (Request, error) {
	lt, err := w.leaveTypes.GetLeaveType(ctx, in.LeaveTypeID)
	if err != nil {
		return Request{}, err
	}

	duration, err := ComputeDuration(in.StartDate, in.EndDate, in.IsHalfDay, in.HalfDayPeriod)
	if err != nil {
		return Request{}, err
	}

	req := Request{
		ID:            RequestID(uuid.NewString()),
		EmployeeID:    in.EmployeeID,
		LeaveTypeID:   in.LeaveTypeID,
		StartDate:     in.StartDate,
		EndDate:       in.EndDate,
		IsHalfDay:     in.IsHalfDay,
		HalfDayPeriod: in.HalfDayPeriod,
		DurationDays:  duration,
		Reason:        in.Reason,
		State:         StateSubmitted,
		CreatedAt:     w.now(),
	}

	violations, err := w.validator.Validate(ctx, req, lt)
	if err != nil {
		return Request{}, fmt.Errorf("validate request: %w", err)
	}
	if len(violations) > 0 {
		return Request{}, &ValidationError{Violations: violations}
	}

	// The only blocking point: the reservation must be confirmed before the
	// caller proceeds. No fire-and-forget.
	key := BalanceKey{EmployeeID: req.EmployeeID, LeaveTypeID: req.LeaveTypeID}
	if _, err := w.ledger.Reserve(ctx, key, req.ID, duration); err != nil {
		return Request{}, err
	}

	if err := w.requests.SaveRequest(ctx, req); err != nil {
		// Fail closed: give the held balance back before surfacing the error.
		if _, relErr := w.ledger.Release(ctx, req.ID); relErr != nil {
			w.logger.Error("failed to release reservation after save failure",
				zap.String("request_id", string(req.ID)), zap.Error(relErr))
		}
		return Request{}, fmt.Errorf("persist request: %w", err)
	}

	w.logger.Info("request submitted",
		zap.String("request_id", string(req.ID)),
		zap.String("employee_id", string(req.EmployeeID)),
		zap.String("leave_type_id", string(req.LeaveTypeID)),
		zap.String("duration_days", duration.String()),
	)
	w.emit(ctx, EventRequestSubmitted, req, "")
	return req, nil
}

// Approve transitions a Submitted request to Approved, committing its
// reservation and recording the decision.
func (w *WorkflowEngine) Approve(ctx context.Context, id RequestID, approverID string) (Request, error) {
	return w.decide(ctx, id, approverID, "", StateApproved)
}

// Reject transitions a Submitted request to Rejected, releasing its
// reservation and recording the decision with the given reason.
func (w *WorkflowEngine) Reject(ctx context.Context, id RequestID, approverID, reason string) (Request, error) {
	return w.decide(ctx, id, approverID, reason, StateRejected)
}

// Cancel transitions a Submitted request to Cancelled, releasing its
// reservation. Approved requests require a separate reversal flow.
func (w *WorkflowEngine) Cancel(ctx context.Context, id RequestID, actorID string) (Request, error) {
	return w.decide(ctx, id, actorID, "", StateCancelled)
}

func (w *WorkflowEngine) decide(ctx context.Context, id RequestID, actorID, reason string, target RequestState) (Request, error) {
	req, err := w.requests.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}

	if req.State != StateSubmitted {
		return Request{}, &InvalidTransitionError{
			RequestID: id,
			From:      req.State,
			Action:    string(target),
		}
	}

	// Ledger first: if the balance effect cannot be confirmed the request
	// stays Submitted and the caller retries. Commit/release are idempotent
	// so a retried call after a partial failure is safe.
	if target == StateApproved {
		if _, err := w.ledger.Commit(ctx, id); err != nil {
			return Request{}, err
		}
	} else {
		if _, err := w.ledger.Release(ctx, id); err != nil {
			return Request{}, err
		}
	}

	// The transition is a compare-and-swap on Submitted. When two decisions
	// race, the store picks exactly one winner; the loser returns here with
	// ErrInvalidTransition and records nothing. A retry after a partial
	// failure (ledger settled, state still Submitted) lands on the no-op
	// ledger path above and completes the swap.
	now := w.now()
	req, err = w.requests.TransitionRequest(ctx, id, target, actorID, now)
	if err != nil {
		return Request{}, err
	}

	decision := map[RequestState]Decision{
		StateApproved:  DecisionApproved,
		StateRejected:  DecisionRejected,
		StateCancelled: DecisionCancelled,
	}[target]

	approval := Approval{
		ID:         uuid.NewString(),
		RequestID:  id,
		ApproverID: actorID,
		Decision:   decision,
		Comment:    reason,
		Timestamp:  now,
	}
	if err := w.approvals.AppendApproval(ctx, approval); err != nil {
		// Audit append failure does not undo the decision; log and move on.
		w.logger.Error("failed to append approval record",
			zap.String("request_id", string(id)), zap.Error(err))
	}

	w.logger.Info("request decided",
		zap.String("request_id", string(id)),
		zap.String("state", string(target)),
		zap.String("actor_id", actorID),
	)

	eventType := map[RequestState]EventType{
		StateApproved:  EventRequestApproved,
		StateRejected:  EventRequestRejected,
		StateCancelled: EventRequestCancelled,
	}[target]
	w.emit(ctx, eventType, req, actorID)
	return req, nil
}

// Get returns a request by id.
func (w *WorkflowEngine) Get(ctx context.Context, id RequestID) (Request, error) {
	return w.requests.GetRequest(ctx, id)
}

// List returns requests matching the filter.
func (w *WorkflowEngine) List(ctx context.Context, filter RequestFilter) ([]Request, error) {
	return w.requests.ListRequests(ctx, filter)
}

// Approvals returns the audit trail for a request.
func (w *WorkflowEngine) Approvals(ctx context.Context, id RequestID) ([]Approval, error) {
	return w.approvals.ApprovalsForRequest(ctx, id)
}

func (w *WorkflowEngine) emit(ctx context.Context, t EventType, req Request, actorID string) {
	w.dispatcher.Dispatch(ctx, Event{
		Type:        t,
		RequestID:   req.ID,
		EmployeeID:  req.EmployeeID,
		LeaveTypeID: req.LeaveTypeID,
		State:       req.State,
		ActorID:     actorID,
		OccurredAt:  w.now(),
	})
}
