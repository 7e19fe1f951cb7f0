package leave

import (
	"context"
	"time"
)

// =============================================================================
// WORKFLOW EVENTS - Emitted after each transition
// =============================================================================

type EventType string

const (
	EventRequestSubmitted EventType = "request_submitted"
	EventRequestApproved  EventType = "request_approved"
	EventRequestRejected  EventType = "request_rejected"
	EventRequestCancelled EventType = "request_cancelled"
)

// Event describes one workflow transition. Events inform external delivery
// (email, chat, webhooks); the core only emits them and never awaits
// delivery - a dispatch failure must not roll back a committed transition.
type Event struct {
	Type        EventType    `json:"type"`
	RequestID   RequestID    `json:"request_id"`
	EmployeeID  EmployeeID   `json:"employee_id"`
	LeaveTypeID LeaveTypeID  `json:"leave_type_id"`
	State       RequestState `json:"state"`
	ActorID     string       `json:"actor_id,omitempty"`
	OccurredAt  time.Time    `json:"occurred_at"`
}

// Dispatcher receives workflow events. Implementations must be best-effort
// and non-blocking from the engine's point of view; see the notify package.
type Dispatcher interface {
	Dispatch(ctx context.Context, e Event)
}

// NoopDispatcher drops every event. Default when no dispatcher is wired.
type NoopDispatcher struct{}

func (NoopDispatcher) Dispatch(context.Context, Event) {}
