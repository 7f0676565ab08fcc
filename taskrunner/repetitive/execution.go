package repetitive

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

const (
	// SequenceBound is where the execution sequence wraps back to zero.
	SequenceBound = 100000
)

// executionCounter is shared by all runners in the process so that execution
// ids from different runners are distinguishable in one log stream.
// It starts from zero at process start and is never reset.
var executionCounter uint64

// Execution is the per cycle record used for log correlation and timing.
type Execution struct {
	// ID is the correlation id attached to every log record of the cycle.
	ID string

	// Sequence is the wrapped counter value used in ID.
	Sequence uint64

	// StartedAt is when the cycle began. It carries a monotonic reading.
	StartedAt time.Time
}

// NewExecution starts a new execution record.
func NewExecution() *Execution {
	seq := (atomic.AddUint64(&executionCounter, 1) - 1) % SequenceBound
	now := time.Now()
	return &Execution{
		ID:        FormatID(now, seq),
		Sequence:  seq,
		StartedAt: now,
	}
}

// FormatID formats a correlation id: zero padded unix seconds and sequence,
// e.g. "1700000000-00042". All ids have the same width.
func FormatID(t time.Time, seq uint64) string {
	return fmt.Sprintf("%010d-%05d", t.Unix(), seq%SequenceBound)
}

// Elapsed returns the time since the execution started.
func (e *Execution) Elapsed() time.Duration {
	return time.Since(e.StartedAt)
}

// ElapsedMs returns Elapsed in fractional milliseconds.
func (e *Execution) ElapsedMs() float64 {
	return msSince(e.StartedAt)
}

// msSince returns fractional milliseconds since t, on the monotonic clock.
func msSince(t time.Time) float64 {
	return float64(time.Since(t)) / float64(time.Millisecond)
}

type executionKey struct{}

// NewContext returns a context carrying the execution.
func NewContext(ctx context.Context, e *Execution) context.Context {
	return context.WithValue(ctx, executionKey{}, e)
}

// FromContext returns the execution of the current cycle, if any.
// Workers can use it to tag their own log records with the same id.
func FromContext(ctx context.Context) (*Execution, bool) {
	e, ok := ctx.Value(executionKey{}).(*Execution)
	return e, ok
}
