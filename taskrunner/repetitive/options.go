package repetitive

import (
	"fmt"
	"strings"

	"github.com/huangjunwen/repetask/logr"
	"github.com/huangjunwen/repetask/taskrunner"
)

// Option is the option in creating Runner.
type Option func(*Runner) error

// Name sets the runner's name used as logger name.
// Default is the worker's type name.
func Name(name string) Option {
	return func(r *Runner) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("Name is empty")
		}
		r.name = name
		return nil
	}
}

// Logger sets the base logger. The runner derives its own logger by
// WithName(name). Default is DefaultLogger.
func Logger(logger logr.Logger) Option {
	return func(r *Runner) error {
		if logger == nil {
			return fmt.Errorf("Logger is nil")
		}
		r.baseLogger = logger
		return nil
	}
}

// Executor makes the runner submit its cycles to executor instead of starting
// a go routine for each. If a submission fails the cycle is skipped and the
// next one is scheduled after interval as usual.
//
// The runner never closes the executor.
func Executor(executor taskrunner.TaskRunner) Option {
	return func(r *Runner) error {
		if executor == nil {
			return fmt.Errorf("Executor is nil")
		}
		r.executor = executor
		return nil
	}
}
