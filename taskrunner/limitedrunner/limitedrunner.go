package limitedrunner

import (
	"fmt"
	"sync"
	"time"

	perrors "github.com/pkg/errors"

	"github.com/huangjunwen/repetask/logr"
	. "github.com/huangjunwen/repetask/taskrunner"
)

const (
	// Default minimum go routines to handle tasks.
	DefaultMinWorkers = 2

	// Default maximum go routines to handle tasks.
	DefaultMaxWorkers = 4096

	// Default queue size.
	DefaultQueueSize = 4 * 4096

	// Default idle time for non-persistent worker before quit.
	DefaultIdleTime = 10 * time.Second
)

var (
	// DefaultLogger is used when no Logger option given.
	DefaultLogger = logr.Nop
)

var (
	nop            = func() {}
	_   TaskRunner = (*LimitedRunner)(nil)
)

// LimitedRunner implements taskrunner interface. It starts with some persistent
// worker go routines (MinWorkers) which will not exit until Close.
// New worker go routines (up to MaxWorkers - MinWorkers)
// maybe created when workload increases, and will exit after some
// idle time (IdleTime).
//
// Tasks are submitted to a buffered channel (size is QueueSize) and distrubuted to all workers.
// A panicking task is recovered and logged, the worker keeps going.
//
// Many repetitive runners can share one LimitedRunner to bound the total number
// of go routines running their cycles.
type LimitedRunner struct {
	minWorkers int // at least 1
	maxWorkers int // at least minWorkers
	queueSize  int // at least 1
	idleTime   time.Duration
	logger     logr.Logger

	workerCh chan struct{} // to limit the number of workers
	taskCh   chan func()   // buffered task channel
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Must creates a LimitedRunner or panic.
func Must(opts ...Option) *LimitedRunner {
	ret, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return ret
}

// New creates a new LimitedRunner.
func New(opts ...Option) (*LimitedRunner, error) {
	r := &LimitedRunner{
		minWorkers: DefaultMinWorkers,
		maxWorkers: DefaultMaxWorkers,
		queueSize:  DefaultQueueSize,
		idleTime:   DefaultIdleTime,
		logger:     DefaultLogger,
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}

	if r.maxWorkers < r.minWorkers {
		return nil, fmt.Errorf("New: MaxWorkers(%d) < MinWorkers(%d)", r.maxWorkers, r.minWorkers)
	}

	r.workerCh = make(chan struct{}, r.maxWorkers)
	r.taskCh = make(chan func(), r.queueSize)

	for i := 0; i < r.minWorkers; i++ {
		r.workerCh <- struct{}{}
		r.spawn(true, nop)
	}

	if r.maxWorkers > r.minWorkers {
		r.wg.Add(1)
		go r.managerLoop()
	}

	return r, nil
}

// spawn starts a worker go routine, the caller must have taken a worker quota for it.
func (r *LimitedRunner) spawn(persistent bool, task func()) {
	r.wg.Add(1)
	go r.workerLoop(persistent, task)
}

// managerLoop forks non-persistent worker go routines on demand.
func (r *LimitedRunner) managerLoop() {
	defer r.wg.Done()

	for {
		r.workerCh <- struct{}{} // We need worker quota.
		task := <-r.taskCh
		if task == nil {
			<-r.workerCh
			return
		}
		r.spawn(false, task)
	}
}

// workerLoop handles task until taskCh closed, or idle long enough
// for non-persistent workers.
func (r *LimitedRunner) workerLoop(persistent bool, task func()) {

	defer func() {
		<-r.workerCh
		r.wg.Done()
	}()

	// NOTE: idleCh is nil for persistent worker so that it never times out.
	var (
		idleCh    <-chan time.Time
		idleTimer *time.Timer
	)
	if !persistent {
		idleTimer = time.NewTimer(r.idleTime)
		defer idleTimer.Stop()
		idleCh = idleTimer.C
	}

	for {
		r.run(task)

		if idleTimer != nil {
			// The timer may have fired during a long task.
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(r.idleTime)
		}

		select {
		case task = <-r.taskCh:
			if task == nil {
				return
			}

		case <-idleCh:
			return
		}
	}

}

func (r *LimitedRunner) run(task func()) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error(perrors.Errorf("%v", v), "LimitedRunner task panic")
		}
	}()
	task()
}

// Submit implements taskrunner interface. Returns ErrTooBusy if task queue
// (the buffered channel) is full at this moment.
func (r *LimitedRunner) Submit(task func()) error {
	if task == nil {
		return ErrNilTask
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return ErrClosed
	}

	select {
	case r.taskCh <- task:
		return nil

	default:
		return ErrTooBusy
	}

}

// Close implements taskrunner interface. Returns when all submitted task finished.
func (r *LimitedRunner) Close() {

	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.taskCh)
	}
	r.mu.Unlock()

	// Wait workers and manager.
	r.wg.Wait()

	if l := len(r.taskCh); l != 0 {
		panic(fmt.Errorf("len(taskCh) = %d in Close()", l))
	}
	if l := len(r.workerCh); l != 0 {
		panic(fmt.Errorf("len(workerCh) = %d in Close()", l))
	}
}

// QueueLen returns the number of tasks waiting for a worker.
func (r *LimitedRunner) QueueLen() int {
	return len(r.taskCh)
}
