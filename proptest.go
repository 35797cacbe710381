// Package proptest is the public entry point: Check runs a predicate
// directly against an engine.Engine, while ForAll adds reflection-based
// tuple-combinator sugar so ordinary test functions can list their
// generators as separate arguments instead of composing a tuple generator
// by hand.
package proptest

import (
	"fmt"
	"reflect"
	"time"

	"github.com/proptest-go/proptest/data"
	"github.com/proptest-go/proptest/engine"
	"github.com/proptest-go/proptest/gen"
	"github.com/proptest-go/proptest/internal/perr"
)

// TestingT is the subset of *testing.T (and *testing.B, *testing.F) Check and
// ForAll need. Matching an existing interface shape rather than requiring
// *testing.T directly lets callers use these from any harness.
type TestingT interface {
	Helper()
	Fatalf(format string, args ...interface{})
}

// Opt configures a Check/ForAll run.
type Opt func(*engine.Config)

// WithMaxExamples overrides the number of VALID examples to generate.
func WithMaxExamples(n int) Opt {
	return func(c *engine.Config) { c.MaxExamples = n }
}

// WithMaxShrinks overrides the shrink-attempt budget per failing tag.
func WithMaxShrinks(n int) Opt {
	return func(c *engine.Config) { c.MaxShrinks = n }
}

// WithBufferSize overrides the maximum bytes a single predicate invocation
// may draw before overrunning.
func WithBufferSize(n int) Opt {
	return func(c *engine.Config) { c.BufferSize = n }
}

// WithDatabasePath overrides where failing examples are persisted. Pass ""
// to disable persistence for this run.
func WithDatabasePath(path string) Opt {
	return func(c *engine.Config) {
		if path == "" {
			c.DatabasePath = nil
			return
		}
		p := path
		c.DatabasePath = &p
	}
}

// WithDerandomize forces generation to seed from the test key alone, so
// repeated runs of the same test explore the same sequence.
func WithDerandomize() Opt {
	return func(c *engine.Config) { c.Derandomize = true }
}

// WithDeadline bounds each single predicate invocation's wall clock, in
// milliseconds. A passing-but-slow input is treated as a failure of its own
// and shrunk like any other.
func WithDeadline(ms int) Opt {
	return func(c *engine.Config) { c.DeadlineMS = &ms }
}

// WithRunDeadline halts the whole run once the given instant passes; the
// in-flight predicate invocation is allowed to complete first.
func WithRunDeadline(t time.Time) Opt {
	return func(c *engine.Config) { c.RunDeadline = t }
}

func buildConfig(opts []Opt) engine.Config {
	cfg := engine.DefaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return cfg
}

// testKeyFor picks the stable test identifier used for database
// partitioning and derandomized seeding: the caller's explicit key when
// given, else the test's own name where TestingT exposes one (t.Name()).
// Stored entries survive code churn only as long as the key doesn't
// change, so prefer an explicit key for a test that may be renamed.
func testKeyFor(t TestingT, explicit string) string {
	if explicit != "" {
		return explicit
	}
	if named, ok := t.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", t)
}

// Check runs predicate under testKey through a full engine.Engine.Run, and
// fails t if a counterexample was found (or the predicate proved
// unsatisfiable, or every generation attempt overran).
func Check(t TestingT, testKey string, predicate func(tc *data.TestCase), opts ...Opt) {
	t.Helper()
	key := testKeyFor(t, testKey)
	eng := engine.New(buildConfig(opts))
	if _, err := eng.Run(key, predicate); err != nil {
		t.Fatalf("%s", failureMessage(key, err))
	}
}

// failureMessage formats a run error for t.Fatalf, appending the primary
// failure's reproducible blob when the error carries one.
func failureMessage(key string, err error) string {
	msg := fmt.Sprintf("%s: %v", key, err)
	if pe, ok := err.(*perr.Error); ok {
		if blob, ok := pe.Context["primary_blob"].(string); ok {
			msg += "\nreproducible blob: " + blob
		}
	}
	return msg
}

// ReproduceFailure decodes a reproducible blob (the string printed alongside
// a failure) and feeds its buffer straight through one predicate
// classification, bypassing generation, database replay, and shrinking. Use
// it to pin a known failure in place while fixing it, then delete the call.
// A blob from an incompatible version fails t with the dedicated
// version-mismatch error rather than a spurious pass or fail.
func ReproduceFailure(t TestingT, blob string, predicate func(tc *data.TestCase), opts ...Opt) {
	t.Helper()
	eng := engine.New(buildConfig(opts))
	if _, err := eng.Reproduce(blob, predicate); err != nil {
		t.Fatalf("reproduce failure: %v", err)
	}
}

// AnyGen erases a gen.Generator[T]'s type parameter so ForAll can hold a
// slice of generators over different T. Wrap constructs one from any
// Generator[T]; callers never implement AnyGen themselves.
type AnyGen interface {
	draw(tc *data.TestCase) reflect.Value
}

type wrapped[T any] struct {
	g gen.Generator[T]
}

func (w wrapped[T]) draw(tc *data.TestCase) reflect.Value {
	return reflect.ValueOf(w.g.Draw(tc))
}

// Wrap adapts a Generator[T] to AnyGen for use with ForAll.
func Wrap[T any](g gen.Generator[T]) AnyGen {
	return wrapped[T]{g: g}
}

// ForAll draws one value from each of gens and calls prop with them
// positionally, using reflection to build the call since Go generics cannot
// express "a function of N independently-typed arguments" directly. prop
// must be a func taking len(gens) arguments, each assignable from the
// corresponding generator's drawn value, and returning either nothing, a
// single bool, or a single error.
//
// A false bool return marks the case INTERESTING under the tag
// "property_returned_false". A non-nil error return is re-panicked, so
// data.Run converts it to INTERESTING with a tag derived from the error's
// message, exactly as it does for a panic raised inside prop itself.
func ForAll(t TestingT, testKey string, prop interface{}, gens []AnyGen, opts ...Opt) {
	t.Helper()
	key := testKeyFor(t, testKey)

	propVal := reflect.ValueOf(prop)
	propType := propVal.Type()
	if propType.Kind() != reflect.Func {
		t.Fatalf("%s: ForAll prop must be a function, got %T", key, prop)
		return
	}
	if propType.NumIn() != len(gens) {
		t.Fatalf("%s: ForAll prop takes %d arguments but %d generators were given", key, propType.NumIn(), len(gens))
		return
	}

	predicate := func(tc *data.TestCase) {
		args := make([]reflect.Value, len(gens))
		for i, g := range gens {
			v := g.draw(tc)
			want := propType.In(i)
			if !v.Type().AssignableTo(want) {
				if v.Type().ConvertibleTo(want) {
					v = v.Convert(want)
				} else {
					panic(fmt.Sprintf("ForAll: generator %d produced %s, prop wants %s", i, v.Type(), want))
				}
			}
			args[i] = v
		}

		out := propVal.Call(args)
		switch len(out) {
		case 0:
			return
		case 1:
			switch r := out[0].Interface().(type) {
			case bool:
				if !r {
					tc.MarkInteresting("property_returned_false")
				}
			case error:
				if r != nil {
					panic(r)
				}
			default:
				panic(fmt.Sprintf("ForAll: prop's single return value must be bool or error, got %T", r))
			}
		default:
			panic(fmt.Sprintf("ForAll: prop must return nothing, bool, or error; got %d return values", len(out)))
		}
	}

	eng := engine.New(buildConfig(opts))
	if _, err := eng.Run(key, predicate); err != nil {
		t.Fatalf("%s", failureMessage(key, err))
	}
}
