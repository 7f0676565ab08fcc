// Package zerologr implements github.com/huangjunwen/repetask/logr::Logger
// on top of github.com/rs/zerolog.
package zerologr

import (
	"fmt"
	"io"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/huangjunwen/repetask/logr"
)

const (
	// NameFieldName is the field name of logger's name.
	NameFieldName = "name"

	// StackFieldName is the field name of error stack (if the error has one).
	StackFieldName = "stack"
)

// Logger implements logr.Logger. Each call emits exactly one record containing
// at least level, message, time (if the underlying zerolog.Logger has timestamp
// enabled) and name (if any).
type Logger struct {
	zl   zerolog.Logger
	name string
}

type stackTracer interface {
	StackTrace() perrors.StackTrace
}

var (
	_ logr.Logger = (*Logger)(nil)
)

// New wraps a zerolog.Logger.
func New(zl zerolog.Logger) *Logger {
	return &Logger{zl: zl}
}

// NewJSON creates a Logger writing one JSON object per line to w, with timestamp.
func NewJSON(w io.Writer) *Logger {
	return New(zerolog.New(w).With().Timestamp().Logger())
}

func (logger *Logger) Info(msg string, keysAndValues ...interface{}) {
	logger.emit(logger.zl.Info(), msg, keysAndValues)
}

func (logger *Logger) Error(err error, msg string, keysAndValues ...interface{}) {
	ev := logger.zl.Error()
	if err != nil {
		ev = ev.Err(err)
		if _, ok := err.(stackTracer); ok {
			ev = ev.Str(StackFieldName, fmt.Sprintf("%+v", err))
		}
	}
	logger.emit(ev, msg, keysAndValues)
}

func (logger *Logger) WithValues(keysAndValues ...interface{}) logr.Logger {
	ctx := logger.zl.With()
	for i := 0; i < len(keysAndValues); i += 2 {
		k, v := pair(keysAndValues, i)
		ctx = ctx.Interface(k, v)
	}
	return &Logger{
		zl:   ctx.Logger(),
		name: logger.name,
	}
}

func (logger *Logger) WithName(name string) logr.Logger {
	if logger.name != "" {
		name = logger.name + "." + name
	}
	return &Logger{
		zl:   logger.zl,
		name: name,
	}
}

func (logger *Logger) emit(ev *zerolog.Event, msg string, keysAndValues []interface{}) {
	// Disabled level.
	if ev == nil {
		return
	}
	if logger.name != "" {
		ev = ev.Str(NameFieldName, logger.name)
	}
	for i := 0; i < len(keysAndValues); i += 2 {
		k, v := pair(keysAndValues, i)
		switch val := v.(type) {
		case string:
			ev = ev.Str(k, val)
		case error:
			ev = ev.AnErr(k, val)
		case time.Duration:
			ev = ev.Str(k, val.String())
		default:
			ev = ev.Interface(k, val)
		}
	}
	ev.Msg(msg)
}

// pair returns the i-th key/value. Non-string keys are formatted and a
// dangling key gets a placeholder value.
func pair(keysAndValues []interface{}, i int) (string, interface{}) {
	k, ok := keysAndValues[i].(string)
	if !ok {
		k = fmt.Sprint(keysAndValues[i])
	}
	if i+1 >= len(keysAndValues) {
		return k, "(MISSING)"
	}
	return k, keysAndValues[i+1]
}
