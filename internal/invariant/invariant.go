// Package invariant provides contract assertions for the engine's internal
// bookkeeping. Assertions here guard state that must never be wrong if the
// rest of the package is implemented correctly — they are a force multiplier
// for catching engine/shrinker bugs before they silently corrupt a verdict.
//
// All functions panic on violation. These are programming errors inside
// proptest itself, never ordinary test outcomes — a failing predicate is
// reported through data.TestCase.MarkInteresting, not through this package.
package invariant

import (
	"fmt"
	"reflect"
	"runtime"
)

// Violation is the panic value raised by a failed assertion. Callers at an
// engine boundary can type-switch on it to report a diagnostic state dump
// instead of mistaking it for a predicate failure.
type Violation struct {
	Kind    string
	Message string
}

func (v Violation) Error() string { return v.Kind + " VIOLATION: " + v.Message }

// Precondition checks an input contract at function entry.
func Precondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("PRECONDITION", format, args...)
	}
}

// Postcondition checks an output contract before function return.
func Postcondition(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("POSTCONDITION", format, args...)
	}
}

// Invariant checks an internal consistency property during execution, such
// as shrink progress (every accepted move strictly decreases shortlex rank)
// or example-region well-nestedness.
func Invariant(condition bool, format string, args ...interface{}) {
	if !condition {
		fail("INVARIANT", format, args...)
	}
}

// NotNil panics if value is nil, including a typed nil pointer/interface.
func NotNil(value interface{}, name string) {
	if value == nil || isNilValue(value) {
		fail("PRECONDITION", "%s must not be nil", name)
	}
}

func isNilValue(value interface{}) bool {
	v := reflect.ValueOf(value)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// InRange panics if value is outside [min, max].
func InRange(value, minVal, maxVal int, name string) {
	if value < minVal || value > maxVal {
		fail("PRECONDITION", "%s must be in range [%d, %d], got %d", name, minVal, maxVal, value)
	}
}

// ExpectNoError panics if err is not nil. Use for operations that, given the
// engine's own bookkeeping, must never fail.
func ExpectNoError(err error, msg string) {
	if err != nil {
		fail("POSTCONDITION", "%s must not fail: %v", msg, err)
	}
}

func fail(kind, format string, args ...interface{}) {
	pc := make([]uintptr, 10)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])

	msg := fmt.Sprintf(format, args...)

	loc := ""
	if frame, ok := frames.Next(); ok {
		loc = fmt.Sprintf("\n  at %s:%d", frame.File, frame.Line)
	}

	panic(Violation{Kind: kind, Message: msg + loc})
}
