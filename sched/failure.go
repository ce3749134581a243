package sched

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a computation could not continue normally.
type FailureKind uint8

const (
	// FailDeadlock: every live thread is blocked, and at least one of them
	// on an MVar operation.
	FailDeadlock FailureKind = iota
	// FailSTMDeadlock: every live thread is blocked inside a retried
	// transaction.
	FailSTMDeadlock
	// FailInternalError: the engine observed a structurally impossible
	// situation. Reported as data rather than panicking.
	FailInternalError
	// FailAbort: the scheduler declined to pick a thread; the execution
	// was cut short and its result is not a real program outcome.
	FailAbort
	// FailIllegalSubconcurrency: a nested execution was started while
	// other threads existed.
	FailIllegalSubconcurrency
	// FailUncaughtException: an exception escaped the main thread.
	FailUncaughtException
)

var failureKindNames = map[FailureKind]string{
	FailDeadlock:              "deadlock",
	FailSTMDeadlock:           "STM deadlock",
	FailInternalError:         "internal error",
	FailAbort:                 "aborted execution",
	FailIllegalSubconcurrency: "illegal subconcurrency",
	FailUncaughtException:     "uncaught exception",
}

// Failure is the outcome of a computation that cannot continue normally.
// It is data, not an engine error: the engine records it and keeps
// exploring.
type Failure struct {
	Kind FailureKind

	// Err carries the user error for FailUncaughtException, and a
	// diagnostic for FailInternalError. Nil otherwise.
	Err error
}

func (f *Failure) Error() string {
	if f == nil {
		return ""
	}
	name, ok := failureKindNames[f.Kind]
	if !ok {
		name = fmt.Sprintf("failure(%d)", f.Kind)
	}
	if f.Err != nil {
		return fmt.Sprintf("%s: %s", name, f.Err.Error())
	}
	return name
}

func (f *Failure) Unwrap() error { return f.Err }

// Is matches failures by kind so callers can use errors.Is with a bare
// &Failure{Kind: ...} sentinel.
func (f *Failure) Is(target error) bool {
	var other *Failure
	if !errors.As(target, &other) {
		return false
	}
	return f.Kind == other.Kind
}

// IsFailureKind reports whether err is a Failure of the given kind.
func IsFailureKind(err error, kind FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}
