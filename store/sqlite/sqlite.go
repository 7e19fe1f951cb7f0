/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements leave.Store (BalanceStore, RequestStore, ApprovalLog,
  LeaveTypeStore) using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  leave_balances:   Mutable balance rows with an optimistic version column
  reservations:     Reservation tokens keyed by request id
  balance_entries:  Append-only audit trail of every ledger mutation
  leave_requests:   Request rows with state and timestamps
  approvals:        Append-only audit of terminal decisions
  leave_types:      Immutable reference data

OPTIMISTIC CONCURRENCY:
  UpdateBalance runs `UPDATE ... SET version = version + 1 WHERE version = ?`
  inside a transaction together with the reservation upsert and the audit
  entry insert. A zero-row update means another writer won; the call returns
  leave.ErrConcurrencyConflict and the ledger retries.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements exist for balance_entries or approvals.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers don't
  block, a single writer at a time, better crash recovery.

SEE ALSO:
  - leave/store.go: Interface definitions
  - leave/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/leave-engine/leave"
)

// Store implements leave.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ leave.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Balances: mutable rows, optimistic version column
	CREATE TABLE IF NOT EXISTS leave_balances (
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		total TEXT NOT NULL,
		reserved TEXT NOT NULL,
		consumed TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (employee_id, leave_type_id)
	);

	-- Reservations: one per request, state drives commit/release idempotence
	CREATE TABLE IF NOT EXISTS reservations (
		request_id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_reservations_key
		ON reservations(employee_id, leave_type_id);

	-- Balance entries (append-only audit trail)
	CREATE TABLE IF NOT EXISTS balance_entries (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		request_id TEXT,
		reason TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entries_key
		ON balance_entries(employee_id, leave_type_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_entries_request
		ON balance_entries(request_id) WHERE request_id IS NOT NULL;

	-- Requests
	CREATE TABLE IF NOT EXISTS leave_requests (
		id TEXT PRIMARY KEY,
		employee_id TEXT NOT NULL,
		leave_type_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		is_half_day BOOLEAN NOT NULL DEFAULT FALSE,
		half_day_period TEXT,
		duration_days TEXT NOT NULL,
		reason TEXT,
		state TEXT NOT NULL,
		approver_id TEXT,
		created_at TEXT NOT NULL,
		decided_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_requests_employee
		ON leave_requests(employee_id);
	CREATE INDEX IF NOT EXISTS idx_requests_state
		ON leave_requests(state);
	CREATE INDEX IF NOT EXISTS idx_requests_employee_state
		ON leave_requests(employee_id, state);

	-- Approvals (append-only audit)
	CREATE TABLE IF NOT EXISTS approvals (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		approver_id TEXT NOT NULL,
		decision TEXT NOT NULL,
		comment TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_approvals_request
		ON approvals(request_id);

	-- Leave types (reference data)
	CREATE TABLE IF NOT EXISTS leave_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		accrual TEXT NOT NULL,
		default_days TEXT NOT NULL,
		advance_notice_days INTEGER NOT NULL DEFAULT 0,
		emergency_exempt BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// BALANCE STORE
// =============================================================================

func (s *Store) GetBalance(ctx context.Context, key leave.BalanceKey) (leave.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT total, reserved, consumed, version
		FROM leave_balances
		WHERE employee_id = ? AND leave_type_id = ?`,
		key.EmployeeID, key.LeaveTypeID,
	)

	var total, reserved, consumed string
	b := leave.Balance{EmployeeID: key.EmployeeID, LeaveTypeID: key.LeaveTypeID}
	if err := row.Scan(&total, &reserved, &consumed, &b.Version); err != nil {
		if err == sql.ErrNoRows {
			return leave.Balance{}, leave.ErrBalanceNotFound
		}
		return leave.Balance{}, fmt.Errorf("failed to load balance: %w", err)
	}

	var err error
	if b.Total, err = decimal.NewFromString(total); err != nil {
		return leave.Balance{}, fmt.Errorf("corrupt total %q: %w", total, err)
	}
	if b.Reserved, err = decimal.NewFromString(reserved); err != nil {
		return leave.Balance{}, fmt.Errorf("corrupt reserved %q: %w", reserved, err)
	}
	if b.Consumed, err = decimal.NewFromString(consumed); err != nil {
		return leave.Balance{}, fmt.Errorf("corrupt consumed %q: %w", consumed, err)
	}
	return b, nil
}

func (s *Store) InsertBalance(ctx context.Context, b leave.Balance, entry leave.BalanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leave_balances
		(employee_id, leave_type_id, total, reserved, consumed, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)`,
		b.EmployeeID, b.LeaveTypeID,
		b.Total.String(), b.Reserved.String(), b.Consumed.String(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return leave.ErrConcurrencyConflict
		}
		return fmt.Errorf("failed to insert balance: %w", err)
	}

	if err := appendEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateBalance(ctx context.Context, b leave.Balance, res *leave.Reservation, entry leave.BalanceEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE leave_balances
		SET total = ?, reserved = ?, consumed = ?, version = version + 1, updated_at = ?
		WHERE employee_id = ? AND leave_type_id = ? AND version = ?`,
		b.Total.String(), b.Reserved.String(), b.Consumed.String(),
		time.Now().UTC().Format(time.RFC3339),
		b.EmployeeID, b.LeaveTypeID, b.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if affected == 0 {
		return leave.ErrConcurrencyConflict
	}

	if res != nil {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO reservations (request_id, employee_id, leave_type_id, amount, state, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(request_id) DO UPDATE SET state = excluded.state`,
			res.RequestID, res.EmployeeID, res.LeaveTypeID,
			res.Amount.String(), res.State,
			res.CreatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("failed to save reservation: %w", err)
		}
	}

	if err := appendEntry(ctx, tx, entry); err != nil {
		return err
	}
	return tx.Commit()
}

func appendEntry(ctx context.Context, tx *sql.Tx, entry leave.BalanceEntry) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO balance_entries
		(id, employee_id, leave_type_id, entry_type, amount, request_id, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.EmployeeID, entry.LeaveTypeID, entry.Type,
		entry.Amount.String(), nullString(string(entry.RequestID)), entry.Reason,
		entry.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append balance entry: %w", err)
	}
	return nil
}

func (s *Store) GetReservation(ctx context.Context, requestID leave.RequestID) (leave.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT request_id, employee_id, leave_type_id, amount, state, created_at
		FROM reservations WHERE request_id = ?`,
		requestID,
	)

	var res leave.Reservation
	var amount, createdAt string
	err := row.Scan(&res.RequestID, &res.EmployeeID, &res.LeaveTypeID, &amount, &res.State, &createdAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return leave.Reservation{}, leave.ErrReservationNotFound
		}
		return leave.Reservation{}, fmt.Errorf("failed to load reservation: %w", err)
	}
	if res.Amount, err = decimal.NewFromString(amount); err != nil {
		return leave.Reservation{}, fmt.Errorf("corrupt reservation amount %q: %w", amount, err)
	}
	res.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return res, nil
}

func (s *Store) Entries(ctx context.Context, key leave.BalanceKey) ([]leave.BalanceEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, employee_id, leave_type_id, entry_type, amount, request_id, reason, created_at
		FROM balance_entries
		WHERE employee_id = ? AND leave_type_id = ?
		ORDER BY created_at ASC, rowid ASC`,
		key.EmployeeID, key.LeaveTypeID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var result []leave.BalanceEntry
	for rows.Next() {
		var e leave.BalanceEntry
		var amount, createdAt string
		var requestID, reason sql.NullString
		if err := rows.Scan(&e.ID, &e.EmployeeID, &e.LeaveTypeID, &e.Type, &amount, &requestID, &reason, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("corrupt entry amount %q: %w", amount, err)
		}
		e.RequestID = leave.RequestID(requestID.String)
		e.Reason = reason.String
		e.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// REQUEST STORE
// =============================================================================

func (s *Store) SaveRequest(ctx context.Context, r leave.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var decidedAt sql.NullString
	if r.DecidedAt != nil {
		decidedAt = sql.NullString{String: r.DecidedAt.UTC().Format(time.RFC3339), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_requests
		(id, employee_id, leave_type_id, start_date, end_date, is_half_day,
		 half_day_period, duration_days, reason, state, approver_id, created_at, decided_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			approver_id = excluded.approver_id,
			decided_at = excluded.decided_at`,
		r.ID, r.EmployeeID, r.LeaveTypeID,
		r.StartDate.String(), r.EndDate.String(),
		r.IsHalfDay, nullString(string(r.HalfDayPeriod)),
		r.DurationDays.String(), r.Reason, r.State,
		nullString(r.ApproverID),
		r.CreatedAt.UTC().Format(time.RFC3339), decidedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save request: %w", err)
	}
	return nil
}

func (s *Store) TransitionRequest(ctx context.Context, id leave.RequestID, to leave.RequestState, actorID string, decidedAt time.Time) (leave.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Compare-and-swap on the Submitted state: the WHERE clause makes a lost
	// race visible as zero affected rows instead of a silent overwrite.
	result, err := s.db.ExecContext(ctx, `
		UPDATE leave_requests
		SET state = ?, approver_id = ?, decided_at = ?
		WHERE id = ? AND state = ?`,
		to, nullString(actorID), decidedAt.UTC().Format(time.RFC3339),
		id, leave.StateSubmitted,
	)
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to transition request: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to transition request: %w", err)
	}

	requests, err := s.queryRequests(ctx, requestSelect+" WHERE id = ?", id)
	if err != nil {
		return leave.Request{}, err
	}
	if affected == 0 {
		if len(requests) == 0 {
			return leave.Request{}, leave.ErrRequestNotFound
		}
		return leave.Request{}, &leave.InvalidTransitionError{RequestID: id, From: requests[0].State, Action: string(to)}
	}
	return requests[0], nil
}

func (s *Store) GetRequest(ctx context.Context, id leave.RequestID) (leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	requests, err := s.queryRequests(ctx, requestSelect+" WHERE id = ?", id)
	if err != nil {
		return leave.Request{}, err
	}
	if len(requests) == 0 {
		return leave.Request{}, leave.ErrRequestNotFound
	}
	return requests[0], nil
}

func (s *Store) ListRequests(ctx context.Context, filter leave.RequestFilter) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var conds []string
	var args []any
	if filter.EmployeeID != nil {
		conds = append(conds, "employee_id = ?")
		args = append(args, *filter.EmployeeID)
	}
	if filter.LeaveTypeID != nil {
		conds = append(conds, "leave_type_id = ?")
		args = append(args, *filter.LeaveTypeID)
	}
	if filter.State != nil {
		conds = append(conds, "state = ?")
		args = append(args, *filter.State)
	}
	if filter.SubmittedBefore != nil {
		conds = append(conds, "created_at < ?")
		args = append(args, filter.SubmittedBefore.UTC().Format(time.RFC3339))
	}

	query := requestSelect
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at ASC"
	return s.queryRequests(ctx, query, args...)
}

func (s *Store) ActiveRequests(ctx context.Context, employeeID leave.EmployeeID) ([]leave.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryRequests(ctx,
		requestSelect+" WHERE employee_id = ? AND state IN (?, ?) ORDER BY created_at ASC",
		employeeID, leave.StateSubmitted, leave.StateApproved,
	)
}

const requestSelect = `
	SELECT id, employee_id, leave_type_id, start_date, end_date, is_half_day,
	       half_day_period, duration_days, reason, state, approver_id, created_at, decided_at
	FROM leave_requests`

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]leave.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query requests: %w", err)
	}
	defer rows.Close()

	var result []leave.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func scanRequest(rows *sql.Rows) (leave.Request, error) {
	var r leave.Request
	var startDate, endDate, duration, createdAt string
	var halfDayPeriod, reason, approverID, decidedAt sql.NullString

	err := rows.Scan(&r.ID, &r.EmployeeID, &r.LeaveTypeID, &startDate, &endDate,
		&r.IsHalfDay, &halfDayPeriod, &duration, &reason, &r.State,
		&approverID, &createdAt, &decidedAt)
	if err != nil {
		return leave.Request{}, fmt.Errorf("failed to scan request: %w", err)
	}

	if r.StartDate, err = leave.ParseDate(startDate); err != nil {
		return leave.Request{}, err
	}
	if r.EndDate, err = leave.ParseDate(endDate); err != nil {
		return leave.Request{}, err
	}
	if r.DurationDays, err = decimal.NewFromString(duration); err != nil {
		return leave.Request{}, fmt.Errorf("corrupt duration %q: %w", duration, err)
	}
	r.HalfDayPeriod = leave.HalfDayPeriod(halfDayPeriod.String)
	r.Reason = reason.String
	r.ApproverID = approverID.String
	r.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if decidedAt.Valid {
		t, _ := time.Parse(time.RFC3339, decidedAt.String)
		r.DecidedAt = &t
	}
	return r, nil
}

// =============================================================================
// APPROVAL LOG
// =============================================================================

func (s *Store) AppendApproval(ctx context.Context, a leave.Approval) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, request_id, approver_id, decision, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.ApproverID, a.Decision, a.Comment,
		a.Timestamp.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to append approval: %w", err)
	}
	return nil
}

func (s *Store) ApprovalsForRequest(ctx context.Context, id leave.RequestID) ([]leave.Approval, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, approver_id, decision, comment, created_at
		FROM approvals WHERE request_id = ?
		ORDER BY created_at ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query approvals: %w", err)
	}
	defer rows.Close()

	var result []leave.Approval
	for rows.Next() {
		var a leave.Approval
		var comment sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.RequestID, &a.ApproverID, &a.Decision, &comment, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		a.Comment = comment.String
		a.Timestamp, _ = time.Parse(time.RFC3339, createdAt)
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// LEAVE TYPE STORE
// =============================================================================

func (s *Store) SaveLeaveType(ctx context.Context, lt leave.LeaveType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leave_types
		(id, name, accrual, default_days, advance_notice_days, emergency_exempt, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			accrual = excluded.accrual,
			default_days = excluded.default_days,
			advance_notice_days = excluded.advance_notice_days,
			emergency_exempt = excluded.emergency_exempt`,
		lt.ID, lt.Name, lt.Accrual, lt.DefaultDays.String(),
		lt.AdvanceNoticeDays, lt.EmergencyExempt,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to save leave type: %w", err)
	}
	return nil
}

func (s *Store) GetLeaveType(ctx context.Context, id leave.LeaveTypeID) (leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, accrual, default_days, advance_notice_days, emergency_exempt
		FROM leave_types WHERE id = ?`,
		id,
	)
	lt, err := scanLeaveType(row)
	if err == sql.ErrNoRows {
		return leave.LeaveType{}, leave.ErrLeaveTypeNotFound
	}
	return lt, err
}

func (s *Store) ListLeaveTypes(ctx context.Context) ([]leave.LeaveType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, accrual, default_days, advance_notice_days, emergency_exempt
		FROM leave_types ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query leave types: %w", err)
	}
	defer rows.Close()

	var result []leave.LeaveType
	for rows.Next() {
		lt, err := scanLeaveType(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, lt)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLeaveType(row rowScanner) (leave.LeaveType, error) {
	var lt leave.LeaveType
	var defaultDays string
	err := row.Scan(&lt.ID, &lt.Name, &lt.Accrual, &defaultDays,
		&lt.AdvanceNoticeDays, &lt.EmergencyExempt)
	if err != nil {
		return leave.LeaveType{}, err
	}
	if lt.DefaultDays, err = decimal.NewFromString(defaultDays); err != nil {
		return leave.LeaveType{}, fmt.Errorf("corrupt default_days %q: %w", defaultDays, err)
	}
	return lt, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
