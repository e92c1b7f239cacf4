// Package logging defines the minimal, printf-style logging contract shared by
// every component.
//
// Components depend on the Logger interface only; the concrete writer is chosen
// at construction time so tests can swap in a capture or a no-op logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"
	"time"
)

// Logger defines a minimal, printf-style logging contract.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop returns a logger that discards all output.
func Nop() Logger {
	return nopLogger{}
}

// IsNil reports whether logger is nil or wraps a nil pointer receiver.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	val := reflect.ValueOf(logger)
	switch val.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Func:
		return val.IsNil()
	default:
		return false
	}
}

// OrNop returns logger when non-nil, otherwise a no-op logger.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// writerLogger timestamps each line and prefixes it with level and component.
type writerLogger struct {
	mu        sync.Mutex
	out       io.Writer
	component string
	debug     bool
}

// NewComponentLogger returns the default application logger scoped to a component.
func NewComponentLogger(component string) Logger {
	return &writerLogger{out: os.Stderr, component: component, debug: os.Getenv("SQUAD_DEBUG") != ""}
}

// NewWriterLogger returns a logger scoped to a component writing to out.
// Debug lines are always emitted; intended for tests and capture buffers.
func NewWriterLogger(out io.Writer, component string) Logger {
	return &writerLogger{out: out, component: component, debug: true}
}

func (l *writerLogger) log(level, format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "%s %-5s [%s] %s\n",
		time.Now().UTC().Format(time.RFC3339), level, l.component, fmt.Sprintf(format, args...))
}

func (l *writerLogger) Debug(format string, args ...any) {
	if !l.debug {
		return
	}
	l.log("DEBUG", format, args...)
}

func (l *writerLogger) Info(format string, args ...any)  { l.log("INFO", format, args...) }
func (l *writerLogger) Warn(format string, args ...any)  { l.log("WARN", format, args...) }
func (l *writerLogger) Error(format string, args ...any) { l.log("ERROR", format, args...) }

type multiLogger struct {
	loggers []Logger
}

// Multi returns a logger fan-out that calls every non-nil logger in order.
func Multi(loggers ...Logger) Logger {
	flattened := make([]Logger, 0, len(loggers))
	for _, logger := range loggers {
		if IsNil(logger) {
			continue
		}
		if ml, ok := logger.(*multiLogger); ok {
			flattened = append(flattened, ml.loggers...)
			continue
		}
		flattened = append(flattened, logger)
	}
	if len(flattened) == 0 {
		return Nop()
	}
	if len(flattened) == 1 {
		return flattened[0]
	}
	return &multiLogger{loggers: flattened}
}

func (l *multiLogger) Debug(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Debug(format, args...)
	}
}

func (l *multiLogger) Info(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Info(format, args...)
	}
}

func (l *multiLogger) Warn(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Warn(format, args...)
	}
}

func (l *multiLogger) Error(format string, args ...any) {
	for _, logger := range l.loggers {
		logger.Error(format, args...)
	}
}
