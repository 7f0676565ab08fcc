// Package repetitive implements a self-rescheduling periodic task: fetch a unit
// of work, process it if there is one, wait an interval, repeat, until stopped.
//
// The interval is measured from the end of a cycle to the start of the next,
// so a slow cycle delays the next one instead of overlapping it. At most one
// cycle of a Runner is in flight at any time.
//
// Failures (errors or panics) of Fetch/Process are logged and swallowed: they
// never stop the runner and are never returned to the caller.
package repetitive

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	perrors "github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"github.com/huangjunwen/repetask/logr"
	"github.com/huangjunwen/repetask/logr/zerologr"
	"github.com/huangjunwen/repetask/taskrunner"
)

var (
	// DefaultLogger is the default value of Logger option: JSON lines on stdout.
	DefaultLogger logr.Logger = zerologr.NewJSON(os.Stdout)
)

// Worker supplies the two extension points of a Runner.
type Worker interface {
	// Fetch returns the next task. A nil (or false) task means nothing to do
	// in this cycle.
	Fetch(ctx context.Context) (interface{}, error)

	// Process handles a task returned by Fetch. It may take arbitrarily long;
	// Stop waits for it.
	Process(ctx context.Context, task interface{}) error
}

// Describer can be optionally implemented by Worker to add key/value pairs
// to the "processing task" log record.
type Describer interface {
	Describe(task interface{}) []interface{}
}

// Funcs adapts a pair of functions to Worker.
type Funcs struct {
	FetchFunc   func(ctx context.Context) (interface{}, error)
	ProcessFunc func(ctx context.Context, task interface{}) error
}

var (
	_ Worker = Funcs{}
)

func (f Funcs) Fetch(ctx context.Context) (interface{}, error) {
	return f.FetchFunc(ctx)
}

func (f Funcs) Process(ctx context.Context, task interface{}) error {
	return f.ProcessFunc(ctx, task)
}

// State of a Runner.
type State int

const (
	// Idle means constructed but never started.
	Idle State = iota

	// Waiting means running with the interval timer armed and no cycle in flight.
	Waiting

	// Executing means a cycle is in flight. A stopping runner stays in this
	// state until the cycle settles.
	Executing

	// Stopped means no timer and no cycle.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Waiting:
		return "waiting"
	case Executing:
		return "executing"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runner runs a Worker repetitively.
type Runner struct {
	name       string
	interval   time.Duration
	worker     Worker
	executor   taskrunner.TaskRunner // nil to use a go routine per cycle
	baseLogger logr.Logger
	logger     logr.Logger

	mu      sync.Mutex
	started bool
	running bool
	timer   *time.Timer        // the pending schedule, non nil only when no cycle in flight
	gen     uint64             // bumped each time timer is armed or disarmed
	current chan struct{}      // the in-flight cycle, closed when it settles
	cancel  context.CancelFunc // cancels the in-flight cycle's context
}

// Must creates a Runner or panic.
func Must(worker Worker, interval time.Duration, opts ...Option) *Runner {
	ret, err := New(worker, interval, opts...)
	if err != nil {
		panic(err)
	}
	return ret
}

// New creates a new Runner. interval must be positive.
func New(worker Worker, interval time.Duration, opts ...Option) (*Runner, error) {
	if worker == nil {
		return nil, fmt.Errorf("New: nil worker")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("New: interval(%s) <= 0", interval)
	}

	r := &Runner{
		name:       typeName(worker),
		interval:   interval,
		worker:     worker,
		baseLogger: DefaultLogger,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	r.logger = r.baseLogger.WithName(r.name).WithValues("runnerId", uuid.NewV4().String())
	return r, nil
}

// Name returns the runner's name.
func (r *Runner) Name() string {
	return r.name
}

// Interval returns the interval between cycles.
func (r *Runner) Interval() time.Duration {
	return r.interval
}

// Running reports whether the runner is started and not stopped.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// State returns the current state.
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch {
	case !r.started:
		return Idle
	case r.current != nil:
		return Executing
	case r.running:
		return Waiting
	default:
		return Stopped
	}
}

// Start starts the runner, the first cycle begins immediately.
//
// Start on a running runner does nothing. Start on a stopping runner (Stop is
// still waiting for the in-flight cycle) makes it running again, and the next
// cycle is scheduled after the in-flight one as usual.
func (r *Runner) Start() {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.running = true

	var (
		ctx  context.Context
		done chan struct{}
	)
	if r.current == nil {
		ctx, done = r.beginLocked()
	}
	r.mu.Unlock()

	r.logger.Info("repetitive task started", "interval", r.interval)
	if done != nil {
		r.dispatch(ctx, done)
	}
}

// Stop stops the runner. It can be called in any state and more than once.
//
// If no cycle is in flight the pending schedule is cancelled and Stop returns
// at once. Otherwise Stop returns after the in-flight cycle finishes. If ctx is
// done before that, the cycle's context is cancelled and Stop returns ctx.Err()
// without waiting further; the runner is still stopped and the cycle will not
// be followed by another.
func (r *Runner) Stop(ctx context.Context) error {
	start := time.Now()

	r.mu.Lock()
	wasRunning := r.running
	r.running = false
	r.disarmLocked()
	done := r.current
	r.mu.Unlock()

	if wasRunning {
		r.logger.Info("repetitive task stopping", "inFlight", done != nil)
	}

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			r.mu.Lock()
			if r.current == done {
				r.cancel()
			}
			r.mu.Unlock()
			r.logger.Error(ctx.Err(), "in-flight cycle cancelled")
			return ctx.Err()
		}
	}

	if wasRunning {
		r.logger.Info("repetitive task stopped", "took", time.Since(start))
	}
	return nil
}

// beginLocked marks a cycle in flight and returns its context and completion handle.
func (r *Runner) beginLocked() (context.Context, chan struct{}) {
	r.disarmLocked()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.current = done
	r.cancel = cancel
	return ctx, done
}

func (r *Runner) armLocked() {
	r.gen++
	gen := r.gen
	r.timer = time.AfterFunc(r.interval, func() {
		r.fire(gen)
	})
}

func (r *Runner) disarmLocked() {
	r.gen++
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

// fire is called when the pending schedule expires.
func (r *Runner) fire(gen uint64) {
	r.mu.Lock()
	// Stale: the schedule was cancelled (maybe also re-armed) after the timer fired.
	if !r.running || gen != r.gen || r.current != nil {
		r.mu.Unlock()
		return
	}
	ctx, done := r.beginLocked()
	r.mu.Unlock()

	r.dispatch(ctx, done)
}

// finish clears the in-flight marker and arms the next cycle if still running.
func (r *Runner) finish(done chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancel()
	r.current = nil
	r.cancel = nil
	close(done)
	if r.running {
		r.armLocked()
	}
}

func (r *Runner) dispatch(ctx context.Context, done chan struct{}) {
	if r.executor == nil {
		go r.cycle(ctx, done)
		return
	}

	if err := r.executor.Submit(func() { r.cycle(ctx, done) }); err != nil {
		if taskrunner.IsTemporary(err) {
			r.logger.Error(err, "executor too busy, cycle skipped")
		} else {
			r.logger.Error(err, "executor rejected cycle, cycle skipped")
		}
		r.finish(done)
	}
}

// cycle runs fetch and maybe process. It never panics.
func (r *Runner) cycle(ctx context.Context, done chan struct{}) {
	defer r.finish(done)

	exec := NewExecution()
	ctx = NewContext(ctx, exec)
	logger := r.logger.WithValues("executionId", exec.ID)

	task, err := r.fetch(ctx)
	if err != nil {
		logger.Error(err, "error fetching task")
		return
	}

	if isEmpty(task) {
		logger.Info("no pending task")
		return
	}

	logger.Info("processing task", r.describe(task)...)

	processStart := time.Now()
	if err := r.process(ctx, task); err != nil {
		logger.Error(err, "error processing task", "durationMs", msSince(processStart))
		return
	}

	logger.Info("processing complete", "durationMs", msSince(processStart))
}

func (r *Runner) fetch(ctx context.Context) (task interface{}, err error) {
	defer recoverAsError(&err)
	return r.worker.Fetch(ctx)
}

func (r *Runner) process(ctx context.Context, task interface{}) (err error) {
	defer recoverAsError(&err)
	return r.worker.Process(ctx, task)
}

func (r *Runner) describe(task interface{}) (keysAndValues []interface{}) {
	d, ok := r.worker.(Describer)
	if !ok {
		return nil
	}
	defer func() {
		// A broken Describe only loses log fields.
		if recover() != nil {
			keysAndValues = nil
		}
	}()
	return d.Describe(task)
}

func recoverAsError(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = perrors.Wrap(e, "panic")
		} else {
			*err = perrors.Errorf("panic: %v", v)
		}
	}
}

// isEmpty reports whether a fetched task means "no work": nil, a nil
// pointer/map/slice/... or false.
func isEmpty(task interface{}) bool {
	if task == nil {
		return true
	}
	if b, ok := task.(bool); ok {
		return !b
	}
	v := reflect.ValueOf(task)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		return v.IsNil()
	}
	return false
}

func typeName(v interface{}) string {
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return "RepetitiveTask"
}
