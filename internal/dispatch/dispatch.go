// Package dispatch serializes backend operations into per-backend lanes.
//
// Each backend identifier owns one lane. Within a lane entries run strictly
// one at a time in arrival order; lanes never block one another. Every entry
// races its operation against a per-entry timer; on expiry the operation's
// context is cancelled, the entry fails with a timeout error, and the lane
// advances to the next pending entry. Cancellation is cooperative only: an
// operation that ignores its context keeps running detached and its result
// is discarded, so it can keep consuming resources past the lane's nominal
// timeout.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrTimeout is the sentinel wrapped by every timeout failure.
var ErrTimeout = errors.New("operation timed out")

// TimeoutError reports a lane entry that exceeded its timeout.
type TimeoutError struct {
	BackendID string
	Label     string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: %s timed out after %s", e.BackendID, e.Label, e.After)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// LaneStats is a point-in-time snapshot of one lane.
type LaneStats struct {
	BackendID string `json:"backend_id"`
	Active    bool   `json:"active"`
	Pending   int    `json:"pending"`
}

type outcome struct {
	value any
	err   error
}

type entry struct {
	requester string
	label     string
	timeout   time.Duration
	ctx       context.Context
	op        func(context.Context) (any, error)
	done      chan outcome
}

type lane struct {
	id      string
	active  bool
	pending []*entry
}

// Queue owns all lanes. Created once at process start.
type Queue struct {
	logger *slog.Logger

	mu    sync.Mutex
	lanes map[string]*lane
}

// NewQueue creates an empty queue; lanes are created lazily on first submit.
func NewQueue(log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{
		logger: log.With(slog.String("service", "dispatch")),
		lanes:  make(map[string]*lane),
	}
}

// Submit enqueues op on the lane for backendID and blocks until it completes
// or times out. If the lane is idle the operation starts immediately;
// otherwise it waits behind every earlier entry on the same lane. Two
// identical submissions are two independent entries; failures are terminal,
// there is no retry.
func Submit[T any](ctx context.Context, q *Queue, backendID, requester, label string, timeout time.Duration, op func(context.Context) (T, error)) (T, error) {
	var zero T
	value, err := q.submit(ctx, backendID, requester, label, timeout, func(opCtx context.Context) (any, error) {
		return op(opCtx)
	})
	if err != nil {
		return zero, err
	}
	typed, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("dispatch: unexpected result type %T", value)
	}
	return typed, nil
}

func (q *Queue) submit(ctx context.Context, backendID, requester, label string, timeout time.Duration, op func(context.Context) (any, error)) (any, error) {
	if backendID == "" {
		return nil, fmt.Errorf("backend id is required")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	e := &entry{
		requester: requester,
		label:     label,
		timeout:   timeout,
		ctx:       ctx,
		op:        op,
		done:      make(chan outcome, 1),
	}

	q.mu.Lock()
	ln, ok := q.lanes[backendID]
	if !ok {
		ln = &lane{id: backendID}
		q.lanes[backendID] = ln
	}
	if ln.active {
		ln.pending = append(ln.pending, e)
		// Snapshot while holding the lock: the drain loop re-slices pending
		// concurrently, and slog evaluates args even below the active level.
		position := len(ln.pending)
		q.mu.Unlock()
		q.logger.Debug("entry queued",
			slog.String("backend", backendID),
			slog.String("label", label),
			slog.Int("position", position))
	} else {
		ln.active = true
		q.mu.Unlock()
		go q.run(ln, e)
	}

	out := <-e.done
	return out.value, out.err
}

// run executes one entry, then drains the lane's pending list. It is the
// sole mutator of lane state while the lane is active.
func (q *Queue) run(ln *lane, e *entry) {
	for {
		q.execute(ln, e)

		q.mu.Lock()
		if len(ln.pending) == 0 {
			ln.active = false
			q.mu.Unlock()
			return
		}
		e = ln.pending[0]
		ln.pending = ln.pending[1:]
		q.mu.Unlock()
	}
}

func (q *Queue) execute(ln *lane, e *entry) {
	opCtx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()

	result := make(chan outcome, 1)
	go func() {
		value, err := e.op(opCtx)
		result <- outcome{value: value, err: err}
	}()

	select {
	case out := <-result:
		if out.err != nil {
			q.logger.Warn("entry failed",
				slog.String("backend", ln.id),
				slog.String("label", e.label),
				slog.String("requester", e.requester),
				slog.Any("error", out.err))
		}
		e.done <- out
	case <-opCtx.Done():
		// Timer fired or the caller cancelled. The operation goroutine is
		// only signalled, never killed: the lane advances and any late
		// result is discarded.
		err := opCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = &TimeoutError{BackendID: ln.id, Label: e.label, After: e.timeout}
		}
		q.logger.Warn("entry abandoned",
			slog.String("backend", ln.id),
			slog.String("label", e.label),
			slog.String("requester", e.requester),
			slog.Any("error", err))
		e.done <- outcome{err: err}
	}
}

// Stats returns a snapshot of every lane created so far.
func (q *Queue) Stats() []LaneStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	stats := make([]LaneStats, 0, len(q.lanes))
	for id, ln := range q.lanes {
		stats = append(stats, LaneStats{BackendID: id, Active: ln.active, Pending: len(ln.pending)})
	}
	return stats
}
