/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Request bodies carry validator/v10 struct tags and are checked by
  Handler.bind before any domain logic runs. Domain rules (overlap,
  notice, balance) stay in the leave package; tags cover shape only.

SEE ALSO:
  - handlers.go: Uses these types
  - leave/policy.go: LeaveTypeJSON used for leave type payloads
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST BODIES
// =============================================================================

// SubmitLeaveRequest is the body of POST /api/leave-requests.
type SubmitLeaveRequest struct {
	EmployeeID    string `json:"employee_id" validate:"required"`
	LeaveTypeID   string `json:"leave_type_id" validate:"required"`
	StartDate     string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate       string `json:"end_date" validate:"required,datetime=2006-01-02"`
	IsHalfDay     bool   `json:"is_half_day"`
	HalfDayPeriod string `json:"half_day_period" validate:"omitempty,oneof=morning afternoon"`
	Reason        string `json:"reason" validate:"max=500"`
}

// ApproveRequest is the body of POST /api/leave-requests/{id}/approve.
type ApproveRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
}

// RejectRequest is the body of POST /api/leave-requests/{id}/reject.
type RejectRequest struct {
	ApproverID string `json:"approver_id" validate:"required"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

// CancelRequest is the body of POST /api/leave-requests/{id}/cancel.
type CancelRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// GrantRequest is the body of POST /api/admin/grants.
type GrantRequest struct {
	EmployeeID  string  `json:"employee_id" validate:"required"`
	LeaveTypeID string  `json:"leave_type_id" validate:"required"`
	Amount      float64 `json:"amount" validate:"required,gt=0"`
	Reason      string  `json:"reason" validate:"max=500"`
}

// AccrualRequest is the body of POST /api/admin/accruals.
type AccrualRequest struct {
	Year        int      `json:"year" validate:"required,gte=2000,lte=2200"`
	EmployeeIDs []string `json:"employee_ids" validate:"required,min=1,dive,required"`
}

// AccrualResult reports how many grants an accrual run applied.
type AccrualResult struct {
	Year    int `json:"year"`
	Applied int `json:"applied"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// RequestDTO represents a leave request in API responses.
type RequestDTO struct {
	ID            string  `json:"id"`
	EmployeeID    string  `json:"employee_id"`
	LeaveTypeID   string  `json:"leave_type_id"`
	StartDate     string  `json:"start_date"`
	EndDate       string  `json:"end_date"`
	IsHalfDay     bool    `json:"is_half_day"`
	HalfDayPeriod string  `json:"half_day_period,omitempty"`
	DurationDays  float64 `json:"duration_days"`
	Reason        string  `json:"reason,omitempty"`
	State         string  `json:"state"`
	ApproverID    string  `json:"approver_id,omitempty"`
	CreatedAt     string  `json:"created_at"`
	DecidedAt     *string `json:"decided_at,omitempty"`
}

func toRequestDTO(r leave.Request) RequestDTO {
	duration, _ := r.DurationDays.Float64()
	dto := RequestDTO{
		ID:            string(r.ID),
		EmployeeID:    string(r.EmployeeID),
		LeaveTypeID:   string(r.LeaveTypeID),
		StartDate:     r.StartDate.String(),
		EndDate:       r.EndDate.String(),
		IsHalfDay:     r.IsHalfDay,
		HalfDayPeriod: string(r.HalfDayPeriod),
		DurationDays:  duration,
		Reason:        r.Reason,
		State:         string(r.State),
		ApproverID:    r.ApproverID,
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.DecidedAt != nil {
		s := r.DecidedAt.Format(time.RFC3339)
		dto.DecidedAt = &s
	}
	return dto
}

// BalanceDTO represents balance information.
type BalanceDTO struct {
	EmployeeID  string  `json:"employee_id"`
	LeaveTypeID string  `json:"leave_type_id"`
	Total       float64 `json:"total"`
	Reserved    float64 `json:"reserved"`
	Consumed    float64 `json:"consumed"`
	Available   float64 `json:"available"`
}

func toBalanceDTO(b leave.Balance) BalanceDTO {
	total, _ := b.Total.Float64()
	reserved, _ := b.Reserved.Float64()
	consumed, _ := b.Consumed.Float64()
	available, _ := b.Available().Float64()
	return BalanceDTO{
		EmployeeID:  string(b.EmployeeID),
		LeaveTypeID: string(b.LeaveTypeID),
		Total:       total,
		Reserved:    reserved,
		Consumed:    consumed,
		Available:   available,
	}
}

// BalanceEntryDTO represents one audit trail entry.
type BalanceEntryDTO struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Amount    float64 `json:"amount"`
	RequestID string  `json:"request_id,omitempty"`
	Reason    string  `json:"reason,omitempty"`
	CreatedAt string  `json:"created_at"`
}

func toEntryDTO(e leave.BalanceEntry) BalanceEntryDTO {
	amount, _ := e.Amount.Float64()
	return BalanceEntryDTO{
		ID:        e.ID,
		Type:      string(e.Type),
		Amount:    amount,
		RequestID: string(e.RequestID),
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// ApprovalDTO represents one terminal decision.
type ApprovalDTO struct {
	ID         string `json:"id"`
	RequestID  string `json:"request_id"`
	ApproverID string `json:"approver_id"`
	Decision   string `json:"decision"`
	Comment    string `json:"comment,omitempty"`
	Timestamp  string `json:"timestamp"`
}

func toApprovalDTO(a leave.Approval) ApprovalDTO {
	return ApprovalDTO{
		ID:         a.ID,
		RequestID:  string(a.RequestID),
		ApproverID: a.ApproverID,
		Decision:   string(a.Decision),
		Comment:    a.Comment,
		Timestamp:  a.Timestamp.Format(time.RFC3339),
	}
}

// ErrorResponse is the uniform error payload.
type ErrorResponse struct {
	Error      string            `json:"error"`
	Detail     string            `json:"detail,omitempty"`
	Violations []leave.Violation `json:"violations,omitempty"`
}
