/*
ledger.go - Balance ledger with reserve/commit/release semantics

PURPOSE:
  The BalanceLedger owns per-(employee, leave type) balances and is the only
  place balance numbers change. A request's lifecycle maps onto three ledger
  operations:

    Submit  -> Reserve  (available must cover the amount; else fails)
    Approve -> Commit   (reserved moves to consumed)
    Reject/Cancel -> Release (reserved returns to available)

CONCURRENCY:
  Two layers guard the reserved/consumed/total invariant:
  1. A per-key mutex serializes ledger operations for one balance key in
     this process. Operations on different keys proceed independently.
  2. An optimistic version column in the store catches conflicting writers
     (other processes, background jobs). Conflicts are retried with backoff;
     exhausted retries degrade to ErrServiceUnavailable for that key only.

IDEMPOTENCE:
  Commit and Release are idempotent by reservation state. Committing an
  already-committed reservation is a no-op returning the prior result, never
  a double spend. This makes at-least-once delivery of approve/reject/cancel
  safe with no idempotency key beyond the request id.

FAIL-CLOSED:
  If a mutation cannot be confirmed as applied, it is treated as not having
  happened: no reservation or commit is assumed and the caller is told to
  retry. Balance conservation wins over latency.

SEE ALSO:
  - store.go: BalanceStore contract the ledger drives
  - workflow.go: The only caller of reserve/commit/release
*/
package leave

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// KEYED MUTEX - Per-balance-key serialization
// =============================================================================

// keyedMutex hands out one mutex per balance key so contention on one
// employee's PTO balance never blocks another employee's sick balance.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[BalanceKey]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[BalanceKey]*sync.Mutex)}
}

func (km *keyedMutex) lock(key BalanceKey) *sync.Mutex {
	km.mu.Lock()
	m, ok := km.locks[key]
	if !ok {
		m = &sync.Mutex{}
		km.locks[key] = m
	}
	km.mu.Unlock()
	m.Lock()
	return m
}

// =============================================================================
// BALANCE LEDGER
// =============================================================================

const (
	defaultMaxRetries     = 5
	defaultInitialBackoff = 10 * time.Millisecond
)

// BalanceLedger executes atomic balance mutations. All operations for a key
// run under that key's mutex; the store's version column backs this up with
// optimistic retry for out-of-process writers.
type BalanceLedger struct {
	store  BalanceStore
	keys   *keyedMutex
	logger *zap.Logger

	// MaxRetries bounds optimistic retry on ErrConcurrencyConflict.
	MaxRetries int
	// InitialBackoff doubles on each retry.
	InitialBackoff time.Duration
}

func NewBalanceLedger(store BalanceStore, logger *zap.Logger) *BalanceLedger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceLedger{
		store:          store,
		keys:           newKeyedMutex(),
		logger:         logger.Named("ledger"),
		MaxRetries:     defaultMaxRetries,
		InitialBackoff: defaultInitialBackoff,
	}
}

// Balance returns the current balance for a key.
func (l *BalanceLedger) Balance(ctx context.Context, key BalanceKey) (Balance, error) {
	return l.store.GetBalance(ctx, key)
}

// Entries returns the append-only audit trail for a key.
func (l *BalanceLedger) Entries(ctx context.Context, key BalanceKey) ([]BalanceEntry, error) {
	return l.store.Entries(ctx, key)
}

// Reserve holds `amount` against the key's available balance on behalf of a
// request. Succeeds only when available >= amount; on success the reservation
// token is returned and reserved is incremented atomically. Never partial.
func (l *BalanceLedger) Reserve(ctx context.Context, key BalanceKey, requestID RequestID, amount decimal.Decimal) (Reservation, error) {
	if !amount.IsPositive() {
		return Reservation{}, fmt.Errorf("reserve amount must be positive, got %s", amount)
	}

	m := l.keys.lock(key)
	defer m.Unlock()

	// Retry safety: a reservation already held for this request is returned
	// as-is instead of double-reserving.
	if existing, err := l.store.GetReservation(ctx, requestID); err == nil {
		if existing.State == ReservationHeld {
			return existing, nil
		}
		return Reservation{}, &InvalidTransitionError{RequestID: requestID, Action: "reserve"}
	} else if !errors.Is(err, ErrReservationNotFound) {
		return Reservation{}, err
	}

	var res Reservation
	err := l.withRetry(ctx, key, "reserve", func() error {
		b, err := l.store.GetBalance(ctx, key)
		if err != nil {
			return err
		}
		if b.Available().LessThan(amount) {
			return &InsufficientBalanceError{
				EmployeeID:  key.EmployeeID,
				LeaveTypeID: key.LeaveTypeID,
				Available:   b.Available(),
				Requested:   amount,
			}
		}

		b.Reserved = b.Reserved.Add(amount)
		if err := b.CheckInvariant(); err != nil {
			return err
		}

		res = Reservation{
			RequestID:   requestID,
			EmployeeID:  key.EmployeeID,
			LeaveTypeID: key.LeaveTypeID,
			Amount:      amount,
			State:       ReservationHeld,
			CreatedAt:   time.Now().UTC(),
		}
		return l.store.UpdateBalance(ctx, b, &res, BalanceEntry{
			ID:          uuid.NewString(),
			EmployeeID:  key.EmployeeID,
			LeaveTypeID: key.LeaveTypeID,
			Type:        EntryReserve,
			Amount:      amount,
			RequestID:   requestID,
			CreatedAt:   res.CreatedAt,
		})
	})
	if err != nil {
		return Reservation{}, err
	}

	l.logger.Debug("reserved",
		zap.String("employee_id", string(key.EmployeeID)),
		zap.String("leave_type_id", string(key.LeaveTypeID)),
		zap.String("request_id", string(requestID)),
		zap.String("amount", amount.String()),
	)
	return res, nil
}

// Commit moves a held reservation's amount from reserved to consumed.
// Idempotent: committing an already-committed reservation is a no-op
// returning the prior result.
func (l *BalanceLedger) Commit(ctx context.Context, requestID RequestID) (Reservation, error) {
	return l.settle(ctx, requestID, ReservationCommitted, EntryCommit, "commit")
}

// Release returns a held reservation's amount to available.
// Idempotent for already-released reservations.
func (l *BalanceLedger) Release(ctx context.Context, requestID RequestID) (Reservation, error) {
	return l.settle(ctx, requestID, ReservationReleased, EntryRelease, "release")
}

func (l *BalanceLedger) settle(ctx context.Context, requestID RequestID, target ReservationState, entryType EntryType, action string) (Reservation, error) {
	res, err := l.store.GetReservation(ctx, requestID)
	if err != nil {
		return Reservation{}, err
	}

	m := l.keys.lock(res.Key())
	defer m.Unlock()

	// Re-read under the lock; a concurrent settle may have won.
	res, err = l.store.GetReservation(ctx, requestID)
	if err != nil {
		return Reservation{}, err
	}

	switch res.State {
	case target:
		return res, nil // idempotent no-op
	case ReservationHeld:
		// fall through to apply
	default:
		return Reservation{}, &InvalidTransitionError{RequestID: requestID, Action: action}
	}

	err = l.withRetry(ctx, res.Key(), action, func() error {
		b, err := l.store.GetBalance(ctx, res.Key())
		if err != nil {
			return err
		}

		b.Reserved = b.Reserved.Sub(res.Amount)
		if target == ReservationCommitted {
			b.Consumed = b.Consumed.Add(res.Amount)
		}
		if err := b.CheckInvariant(); err != nil {
			return err
		}

		res.State = target
		return l.store.UpdateBalance(ctx, b, &res, BalanceEntry{
			ID:          uuid.NewString(),
			EmployeeID:  res.EmployeeID,
			LeaveTypeID: res.LeaveTypeID,
			Type:        entryType,
			Amount:      res.Amount,
			RequestID:   requestID,
			CreatedAt:   time.Now().UTC(),
		})
	})
	if err != nil {
		return Reservation{}, err
	}

	l.logger.Debug(action+" applied",
		zap.String("request_id", string(requestID)),
		zap.String("amount", res.Amount.String()),
	)
	return res, nil
}

// Grant increases a key's total entitlement, creating the balance row on
// first accrual. Used by accrual jobs and admin adjustments.
func (l *BalanceLedger) Grant(ctx context.Context, key BalanceKey, amount decimal.Decimal, reason string) (Balance, error) {
	if !amount.IsPositive() {
		return Balance{}, fmt.Errorf("grant amount must be positive, got %s", amount)
	}

	m := l.keys.lock(key)
	defer m.Unlock()

	var granted Balance
	err := l.withRetry(ctx, key, "grant", func() error {
		entry := BalanceEntry{
			ID:          uuid.NewString(),
			EmployeeID:  key.EmployeeID,
			LeaveTypeID: key.LeaveTypeID,
			Type:        EntryGrant,
			Amount:      amount,
			Reason:      reason,
			CreatedAt:   time.Now().UTC(),
		}

		b, err := l.store.GetBalance(ctx, key)
		if errors.Is(err, ErrBalanceNotFound) {
			granted = Balance{
				EmployeeID:  key.EmployeeID,
				LeaveTypeID: key.LeaveTypeID,
				Total:       amount,
				Reserved:    decimal.Zero,
				Consumed:    decimal.Zero,
			}
			return l.store.InsertBalance(ctx, granted, entry)
		}
		if err != nil {
			return err
		}

		b.Total = b.Total.Add(amount)
		if err := b.CheckInvariant(); err != nil {
			return err
		}
		granted = b
		return l.store.UpdateBalance(ctx, b, nil, entry)
	})
	if err != nil {
		return Balance{}, err
	}
	return granted, nil
}

// withRetry runs fn, retrying on ErrConcurrencyConflict with exponential
// backoff. Exhausted retries degrade to ErrServiceUnavailable for this key.
func (l *BalanceLedger) withRetry(ctx context.Context, key BalanceKey, op string, fn func() error) error {
	backoff := l.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= l.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil || !errors.Is(lastErr, ErrConcurrencyConflict) {
			return lastErr
		}

		l.logger.Warn("ledger conflict, retrying",
			zap.String("op", op),
			zap.String("employee_id", string(key.EmployeeID)),
			zap.String("leave_type_id", string(key.LeaveTypeID)),
			zap.Int("attempt", attempt+1),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %s on %s/%s: %v",
		ErrServiceUnavailable, op, key.EmployeeID, key.LeaveTypeID, lastErr)
}
