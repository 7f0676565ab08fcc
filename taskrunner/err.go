package taskrunner

import (
	"errors"
)

var (
	// ErrClosed is returned when task is submitted after closed.
	ErrClosed = errors.New("TaskRunner: Closed")

	// ErrTooBusy is returned when task is submitted but the task runner is too busy to handle.
	ErrTooBusy = errors.New("TaskRunner: Too busy")

	// ErrNilTask is returned when a nil task is submitted.
	ErrNilTask = errors.New("TaskRunner: Nil task")
)

// IsTemporary reports whether a Submit error may go away on a later attempt.
func IsTemporary(err error) bool {
	return err == ErrTooBusy
}
