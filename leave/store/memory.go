// Package store provides an in-memory leave.Store implementation for
// testing and development.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu           sync.RWMutex
	balances     map[leave.BalanceKey]leave.Balance
	reservations map[leave.RequestID]leave.Reservation
	entries      map[leave.BalanceKey][]leave.BalanceEntry
	requests     map[leave.RequestID]leave.Request
	approvals    map[leave.RequestID][]leave.Approval
	leaveTypes   map[leave.LeaveTypeID]leave.LeaveType

	// ConflictHook, when non-nil, runs before every UpdateBalance and may
	// return leave.ErrConcurrencyConflict to exercise ledger retry paths.
	ConflictHook func() error
}

var _ leave.Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		balances:     make(map[leave.BalanceKey]leave.Balance),
		reservations: make(map[leave.RequestID]leave.Reservation),
		entries:      make(map[leave.BalanceKey][]leave.BalanceEntry),
		requests:     make(map[leave.RequestID]leave.Request),
		approvals:    make(map[leave.RequestID][]leave.Approval),
		leaveTypes:   make(map[leave.LeaveTypeID]leave.LeaveType),
	}
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (m *Memory) GetBalance(_ context.Context, key leave.BalanceKey) (leave.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.balances[key]
	if !ok {
		return leave.Balance{}, leave.ErrBalanceNotFound
	}
	return b, nil
}

func (m *Memory) InsertBalance(_ context.Context, b leave.Balance, entry leave.BalanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := leave.BalanceKey{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID}
	if _, exists := m.balances[key]; exists {
		return leave.ErrConcurrencyConflict
	}
	b.Version = 1
	m.balances[key] = b
	m.entries[key] = append(m.entries[key], entry)
	return nil
}

func (m *Memory) UpdateBalance(_ context.Context, b leave.Balance, res *leave.Reservation, entry leave.BalanceEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ConflictHook != nil {
		if err := m.ConflictHook(); err != nil {
			return err
		}
	}

	key := leave.BalanceKey{EmployeeID: b.EmployeeID, LeaveTypeID: b.LeaveTypeID}
	current, ok := m.balances[key]
	if !ok {
		return leave.ErrBalanceNotFound
	}
	if current.Version != b.Version {
		return leave.ErrConcurrencyConflict
	}

	b.Version++
	m.balances[key] = b
	if res != nil {
		m.reservations[res.RequestID] = *res
	}
	m.entries[key] = append(m.entries[key], entry)
	return nil
}

func (m *Memory) GetReservation(_ context.Context, requestID leave.RequestID) (leave.Reservation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	res, ok := m.reservations[requestID]
	if !ok {
		return leave.Reservation{}, leave.ErrReservationNotFound
	}
	return res, nil
}

func (m *Memory) Entries(_ context.Context, key leave.BalanceKey) ([]leave.BalanceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]leave.BalanceEntry, len(m.entries[key]))
	copy(result, m.entries[key])
	return result, nil
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (m *Memory) SaveRequest(_ context.Context, r leave.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = r
	return nil
}

func (m *Memory) TransitionRequest(_ context.Context, id leave.RequestID, to leave.RequestState, actorID string, decidedAt time.Time) (leave.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.requests[id]
	if !ok {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	if r.State != leave.StateSubmitted {
		return leave.Request{}, &leave.InvalidTransitionError{RequestID: id, From: r.State, Action: string(to)}
	}
	r.State = to
	r.ApproverID = actorID
	d := decidedAt
	r.DecidedAt = &d
	m.requests[id] = r
	return r, nil
}

func (m *Memory) GetRequest(_ context.Context, id leave.RequestID) (leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.requests[id]
	if !ok {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	return r, nil
}

func (m *Memory) ListRequests(_ context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []leave.Request
	for _, r := range m.requests {
		if filter.EmployeeID != nil && r.EmployeeID != *filter.EmployeeID {
			continue
		}
		if filter.LeaveTypeID != nil && r.LeaveTypeID != *filter.LeaveTypeID {
			continue
		}
		if filter.State != nil && r.State != *filter.State {
			continue
		}
		if filter.SubmittedBefore != nil && !r.CreatedAt.Before(*filter.SubmittedBefore) {
			continue
		}
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (m *Memory) ActiveRequests(_ context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []leave.Request
	for _, r := range m.requests {
		if r.EmployeeID != employeeID {
			continue
		}
		if r.State == leave.StateSubmitted || r.State == leave.StateApproved {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// =============================================================================
// APPROVAL LOG
// =============================================================================

func (m *Memory) AppendApproval(_ context.Context, a leave.Approval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[a.RequestID] = append(m.approvals[a.RequestID], a)
	return nil
}

func (m *Memory) ApprovalsForRequest(_ context.Context, id leave.RequestID) ([]leave.Approval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]leave.Approval, len(m.approvals[id]))
	copy(result, m.approvals[id])
	return result, nil
}

// =============================================================================
// LEAVE TYPE STORE
// =============================================================================

func (m *Memory) SaveLeaveType(_ context.Context, lt leave.LeaveType) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leaveTypes[lt.ID] = lt
	return nil
}

func (m *Memory) GetLeaveType(_ context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lt, ok := m.leaveTypes[id]
	if !ok {
		return leave.LeaveType{}, leave.ErrLeaveTypeNotFound
	}
	return lt, nil
}

func (m *Memory) ListLeaveTypes(_ context.Context) ([]leave.LeaveType, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]leave.LeaveType, 0, len(m.leaveTypes))
	for _, lt := range m.leaveTypes {
		result = append(result, lt)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}
