/*
handlers.go - HTTP handlers for the leave workflow service

PURPOSE:
  Exposes the workflow engine via REST. Handles HTTP request/response, JSON
  serialization and DTO validation, and delegates everything else to the
  leave package.

ENDPOINTS:
  Requests:
    POST   /api/leave-requests               Submit a request
    GET    /api/leave-requests               List (filter: employee_id, state)
    GET    /api/leave-requests/{id}          Get one request
    GET    /api/leave-requests/{id}/approvals Decision audit trail
    POST   /api/leave-requests/{id}/approve  Approve
    POST   /api/leave-requests/{id}/reject   Reject
    POST   /api/leave-requests/{id}/cancel   Cancel

  Balances:
    GET    /api/balances/{employeeID}/{leaveTypeID}          Balance view
    GET    /api/balances/{employeeID}/{leaveTypeID}/entries  Audit trail

  Leave types:
    GET    /api/leave-types
    POST   /api/leave-types

  Admin:
    POST   /api/admin/grants                 Balance grant/adjustment
    POST   /api/admin/accruals               Run annual accrual

ERROR HANDLING:
  Domain errors map to HTTP statuses:
  - 422: validation violations (policy/overlap/notice)
  - 409: insufficient balance, invalid transition
  - 404: missing request/balance/leave type
  - 503: ledger retries exhausted for a contended key
  - 400: malformed input
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *leave.WorkflowEngine
	Ledger   *leave.BalanceLedger
	Store    leave.Store
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(engine *leave.WorkflowEngine, ledger *leave.BalanceLedger, store leave.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		Engine:   engine,
		Ledger:   ledger,
		Store:    store,
		validate: validator.New(),
		logger:   logger.Named("api"),
	}
}

// bind decodes and validates a JSON request body.
func (h *Handler) bind(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request", err)
		return false
	}
	return true
}

// =============================================================================
// REQUEST HANDLERS
// =============================================================================

// SubmitRequest handles POST /api/leave-requests.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var body SubmitLeaveRequest
	if !h.bind(w, r, &body) {
		return
	}

	start, err := leave.ParseDate(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date", err)
		return
	}
	end, err := leave.ParseDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date", err)
		return
	}

	req, err := h.Engine.Submit(r.Context(), leave.SubmitInput{
		EmployeeID:    leave.EmployeeID(body.EmployeeID),
		LeaveTypeID:   leave.LeaveTypeID(body.LeaveTypeID),
		StartDate:     start,
		EndDate:       end,
		IsHalfDay:     body.IsHalfDay,
		HalfDayPeriod: leave.HalfDayPeriod(body.HalfDayPeriod),
		Reason:        body.Reason,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toRequestDTO(req))
}

// GetRequest handles GET /api/leave-requests/{id}.
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListRequests handles GET /api/leave-requests with optional employee_id and
// state query filters.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	var filter leave.RequestFilter
	if v := r.URL.Query().Get("employee_id"); v != "" {
		id := leave.EmployeeID(v)
		filter.EmployeeID = &id
	}
	if v := r.URL.Query().Get("state"); v != "" {
		state := leave.RequestState(v)
		filter.State = &state
	}

	requests, err := h.Engine.List(r.Context(), filter)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]RequestDTO, len(requests))
	for i, req := range requests {
		dtos[i] = toRequestDTO(req)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ApproveRequest handles POST /api/leave-requests/{id}/approve.
func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	var body ApproveRequest
	if !h.bind(w, r, &body) {
		return
	}

	id := leave.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Approve(r.Context(), id, body.ApproverID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// RejectRequest handles POST /api/leave-requests/{id}/reject.
func (h *Handler) RejectRequest(w http.ResponseWriter, r *http.Request) {
	var body RejectRequest
	if !h.bind(w, r, &body) {
		return
	}

	id := leave.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Reject(r.Context(), id, body.ApproverID, body.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// CancelRequest handles POST /api/leave-requests/{id}/cancel.
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	var body CancelRequest
	if !h.bind(w, r, &body) {
		return
	}

	id := leave.RequestID(chi.URLParam(r, "id"))
	req, err := h.Engine.Cancel(r.Context(), id, body.ActorID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRequestDTO(req))
}

// ListApprovals handles GET /api/leave-requests/{id}/approvals.
func (h *Handler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	id := leave.RequestID(chi.URLParam(r, "id"))
	if _, err := h.Engine.Get(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}

	approvals, err := h.Engine.Approvals(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]ApprovalDTO, len(approvals))
	for i, a := range approvals {
		dtos[i] = toApprovalDTO(a)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// BALANCE HANDLERS
// =============================================================================

// GetBalance handles GET /api/balances/{employeeID}/{leaveTypeID}.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	key := leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(chi.URLParam(r, "employeeID")),
		LeaveTypeID: leave.LeaveTypeID(chi.URLParam(r, "leaveTypeID")),
	}
	b, err := h.Ledger.Balance(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// GetBalanceEntries handles GET /api/balances/{employeeID}/{leaveTypeID}/entries.
func (h *Handler) GetBalanceEntries(w http.ResponseWriter, r *http.Request) {
	key := leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(chi.URLParam(r, "employeeID")),
		LeaveTypeID: leave.LeaveTypeID(chi.URLParam(r, "leaveTypeID")),
	}
	entries, err := h.Ledger.Entries(r.Context(), key)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]BalanceEntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// LEAVE TYPE HANDLERS
// =============================================================================

// ListLeaveTypes handles GET /api/leave-types.
func (h *Handler) ListLeaveTypes(w http.ResponseWriter, r *http.Request) {
	types, err := h.Store.ListLeaveTypes(r.Context())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	dtos := make([]leave.LeaveTypeJSON, len(types))
	for i, lt := range types {
		dtos[i] = lt.ToJSON()
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateLeaveType handles POST /api/leave-types.
func (h *Handler) CreateLeaveType(w http.ResponseWriter, r *http.Request) {
	var body leave.LeaveTypeJSON
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", err)
		return
	}

	raw, _ := json.Marshal(body)
	lt, err := leave.ParseLeaveType(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid leave type", err)
		return
	}

	if err := h.Store.SaveLeaveType(r.Context(), lt); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lt.ToJSON())
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// CreateGrant handles POST /api/admin/grants.
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	var body GrantRequest
	if !h.bind(w, r, &body) {
		return
	}

	if _, err := h.Store.GetLeaveType(r.Context(), leave.LeaveTypeID(body.LeaveTypeID)); err != nil {
		h.writeDomainError(w, err)
		return
	}

	key := leave.BalanceKey{
		EmployeeID:  leave.EmployeeID(body.EmployeeID),
		LeaveTypeID: leave.LeaveTypeID(body.LeaveTypeID),
	}
	b, err := h.Ledger.Grant(r.Context(), key, leave.Days(body.Amount), body.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// RunAccrual handles POST /api/admin/accruals.
func (h *Handler) RunAccrual(w http.ResponseWriter, r *http.Request) {
	var body AccrualRequest
	if !h.bind(w, r, &body) {
		return
	}

	employees := make([]leave.EmployeeID, len(body.EmployeeIDs))
	for i, id := range body.EmployeeIDs {
		employees[i] = leave.EmployeeID(id)
	}

	runner := leave.NewAccrualRunner(h.Ledger, h.Store, h.logger)
	applied, err := runner.RunAnnual(r.Context(), body.Year, employees)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AccrualResult{Year: body.Year, Applied: applied})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers are gone; nothing left to do but note it.
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps leave package errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var validationErr *leave.ValidationError
	if errors.As(err, &validationErr) {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:      "validation failed",
			Violations: validationErr.Violations,
		})
		return
	}

	switch {
	case errors.Is(err, leave.ErrInsufficientBalance):
		writeError(w, http.StatusConflict, "insufficient balance", err)
	case errors.Is(err, leave.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid transition", err)
	case errors.Is(err, leave.ErrInvalidRange):
		writeError(w, http.StatusUnprocessableEntity, "invalid date range", err)
	case leave.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, leave.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable", err)
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error", nil)
	}
}
