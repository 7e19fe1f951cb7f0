/*
Package notify delivers workflow events to external channels.

PURPOSE:
  The workflow core emits events (submitted, approved, rejected, cancelled)
  and never awaits delivery. This package owns delivery: a dispatch failure
  is logged and retried out-of-band, and never rolls back a committed
  workflow transition.

IMPLEMENTATIONS:
  LogDispatcher:   Writes events to the structured log. Default sink.
  AsyncDispatcher: Buffers events and delivers through an inner dispatcher
                   on a background goroutine with bounded retry. Drained on
                   shutdown via Close.
  KafkaDispatcher: Publishes events to a Kafka topic (kafka.go).

SEE ALSO:
  - leave/events.go: Event and Dispatcher definitions
*/
package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LOG DISPATCHER
// =============================================================================

// LogDispatcher writes every event to the structured log.
type LogDispatcher struct {
	logger *zap.Logger
}

func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger.Named("notify")}
}

func (d *LogDispatcher) Dispatch(_ context.Context, e leave.Event) {
	d.logger.Info("workflow event",
		zap.String("type", string(e.Type)),
		zap.String("request_id", string(e.RequestID)),
		zap.String("employee_id", string(e.EmployeeID)),
		zap.String("leave_type_id", string(e.LeaveTypeID)),
		zap.String("state", string(e.State)),
		zap.String("actor_id", e.ActorID),
		zap.Time("occurred_at", e.OccurredAt),
	)
}

// =============================================================================
// ASYNC DISPATCHER - Buffered, best-effort, retried out-of-band
// =============================================================================

// Sink is a delivery target that can fail. AsyncDispatcher retries failed
// deliveries with backoff before dropping the event.
type Sink interface {
	Deliver(ctx context.Context, e leave.Event) error
}

const (
	defaultQueueSize    = 256
	defaultMaxAttempts  = 3
	defaultRetryBackoff = 500 * time.Millisecond
)

// AsyncDispatcher queues events and delivers them on a background goroutine.
// Dispatch never blocks the workflow: when the queue is full the event is
// dropped with a log line rather than stalling a transition.
type AsyncDispatcher struct {
	sink   Sink
	logger *zap.Logger
	queue  chan leave.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool

	MaxAttempts  int
	RetryBackoff time.Duration
}

func NewAsyncDispatcher(sink Sink, logger *zap.Logger) *AsyncDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &AsyncDispatcher{
		sink:         sink,
		logger:       logger.Named("notify.async"),
		queue:        make(chan leave.Event, defaultQueueSize),
		done:         make(chan struct{}),
		MaxAttempts:  defaultMaxAttempts,
		RetryBackoff: defaultRetryBackoff,
	}
	go d.run()
	return d
}

func (d *AsyncDispatcher) Dispatch(_ context.Context, e leave.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.logger.Warn("dispatcher closed, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("request_id", string(e.RequestID)),
		)
		return
	}
	select {
	case d.queue <- e:
	default:
		d.logger.Warn("event queue full, dropping event",
			zap.String("type", string(e.Type)),
			zap.String("request_id", string(e.RequestID)),
		)
	}
}

func (d *AsyncDispatcher) run() {
	defer close(d.done)
	for e := range d.queue {
		d.deliverWithRetry(e)
	}
}

func (d *AsyncDispatcher) deliverWithRetry(e leave.Event) {
	backoff := d.RetryBackoff
	for attempt := 1; attempt <= d.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := d.sink.Deliver(ctx, e)
		cancel()
		if err == nil {
			return
		}

		d.logger.Warn("event delivery failed",
			zap.String("type", string(e.Type)),
			zap.String("request_id", string(e.RequestID)),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < d.MaxAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}

	d.logger.Error("event dropped after retries",
		zap.String("type", string(e.Type)),
		zap.String("request_id", string(e.RequestID)),
	)
}

// Close stops accepting events and waits for the queue to drain. Dispatch
// calls arriving after Close drop their event instead of panicking on the
// closed queue. Safe to call more than once.
func (d *AsyncDispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

var _ leave.Dispatcher = (*LogDispatcher)(nil)
var _ leave.Dispatcher = (*AsyncDispatcher)(nil)
