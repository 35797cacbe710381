// Package data implements the TestCase: a single execution context wrapping
// one buffer.Buffer, exposing the draw primitive generators call into and
// recording the block/example structure as it goes.
package data

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/proptest-go/proptest/buffer"
	"github.com/proptest-go/proptest/internal/invariant"
)

// Verdict is the terminal classification of a TestCase run.
type Verdict int

const (
	Valid Verdict = iota
	Invalid
	Overrun
	Interesting
)

func (v Verdict) String() string {
	switch v {
	case Valid:
		return "VALID"
	case Invalid:
		return "INVALID"
	case Overrun:
		return "OVERRUN"
	case Interesting:
		return "INTERESTING"
	default:
		return "UNKNOWN"
	}
}

// Result is the outcome of classifying a buffer against a predicate. Tag is
// only meaningful when Verdict == Interesting.
type Result struct {
	Verdict Verdict
	Tag     string
}

// Source supplies additional bytes when a draw needs more than the Buffer
// currently holds. A nil Source means the Buffer is fixed (replay mode):
// any draw beyond what's already recorded overruns. A non-nil Source is
// consulted to grow the Buffer on demand (generation mode).
type Source interface {
	// Next returns the next n bytes to append to the buffer, or false if
	// no more bytes are available (forces Overrun).
	Next(n int) ([]byte, bool)
}

// FixedSource serves bytes from a fixed prefix and never grows past it;
// used both for pure replay (Prefix is the whole candidate buffer) and as
// the first stage of a mutation source (Prefix is the mutated portion).
type FixedSource struct {
	Prefix []byte
	pos    int
}

func (s *FixedSource) Next(n int) ([]byte, bool) {
	if s.pos+n > len(s.Prefix) {
		return nil, false
	}
	out := s.Prefix[s.pos : s.pos+n]
	s.pos += n
	return out, true
}

// ChainSource drains First, then falls back to Second once First is
// exhausted. A single Next call is never split across the two: if First
// cannot satisfy n bytes exactly it defers the whole call to Second. This
// models mutation-based generation, where a mutated prefix is replayed and
// fresh random bytes are drawn once it runs out.
type ChainSource struct {
	First, Second Source
	firstDone     bool
}

func (s *ChainSource) Next(n int) ([]byte, bool) {
	if !s.firstDone {
		if bs, ok := s.First.Next(n); ok {
			return bs, true
		}
		s.firstDone = true
	}
	return s.Second.Next(n)
}

// stopSignal unwinds the predicate's call stack back to Run once a
// terminal verdict is reached, so generators never check a status code
// after each draw. Scoped to a single Run call via recover.
type stopSignal struct {
	result Result
}

// TestCase is created per predicate invocation and is frozen once a
// terminal verdict is set.
type TestCase struct {
	buf     *buffer.Buffer
	cursor  int
	maxSize int
	source  Source
	frozen  bool
	result  Result
}

// New constructs a TestCase over buf, capped at maxSize total bytes drawn.
// source may be nil for pure replay.
func New(buf *buffer.Buffer, maxSize int, source Source) *TestCase {
	invariant.NotNil(buf, "buf")
	return &TestCase{buf: buf, maxSize: maxSize, source: source}
}

// Buffer returns the underlying buffer, including whatever structure has
// been recorded so far.
func (tc *TestCase) Buffer() *buffer.Buffer { return tc.buf }

// Depth returns the current example-region nesting depth.
func (tc *TestCase) Depth() int { return tc.buf.Depth() }

// DrawBytes consumes n bytes at the cursor and records them as one Block.
// If fewer than n bytes are available and no Source can supply more (or the
// maxSize cap would be exceeded), the TestCase terminates with Overrun.
func (tc *TestCase) DrawBytes(n int) []byte {
	invariant.Precondition(n > 0, "DrawBytes requires n > 0, got %d", n)
	invariant.Precondition(!tc.frozen, "DrawBytes called on a frozen TestCase")

	have := tc.buf.Len() - tc.cursor
	if have < n {
		need := n - have
		if tc.source == nil || tc.cursor+n > tc.maxSize {
			tc.terminate(Result{Verdict: Overrun})
		}
		more, ok := tc.source.Next(need)
		if !ok || len(more) != need {
			tc.terminate(Result{Verdict: Overrun})
		}
		tc.buf.Append(more)
	}

	start := tc.cursor
	end := tc.cursor + n
	out := make([]byte, n)
	copy(out, tc.buf.Data[start:end])
	tc.buf.RecordBlock(start, end)
	tc.cursor = end
	return out
}

// Consumed returns the prefix of the buffer actually read by draws so far.
// After a run, bytes past this prefix never influenced the verdict (draws
// only ever read at the cursor), so callers retaining a buffer for later
// replay or shrinking can keep just this prefix.
func (tc *TestCase) Consumed() []byte {
	return tc.buf.Data[:tc.cursor]
}

// StartExample opens a structural region labelled by the calling combinator.
func (tc *TestCase) StartExample(label string) {
	invariant.Precondition(!tc.frozen, "StartExample called on a frozen TestCase")
	tc.buf.StartExample(label, tc.cursor)
}

// StopExample closes the most recently opened region. It stays callable on a
// frozen TestCase: combinators close their regions with defer, and those
// deferred calls run while a terminal verdict unwinds the stack back to Run.
func (tc *TestCase) StopExample() {
	tc.buf.StopExample(tc.cursor)
}

// MarkInvalid terminates the TestCase with verdict Invalid, used by filter
// combinators when a precondition rejects the drawn value.
func (tc *TestCase) MarkInvalid() {
	tc.terminate(Result{Verdict: Invalid})
}

// MarkInteresting terminates the TestCase with verdict Interesting, tagged.
// Used directly by predicates that want to classify their own failure modes,
// or indirectly by Run when it catches an unrecognized panic.
func (tc *TestCase) MarkInteresting(tag string) {
	tc.terminate(Result{Verdict: Interesting, Tag: tag})
}

func (tc *TestCase) terminate(r Result) {
	tc.frozen = true
	tc.result = r
	panic(stopSignal{result: r})
}

// Run executes predicate against a fresh TestCase wrapping buf, returning
// the classified Result and the TestCase (so its recorded Buffer structure
// can be inspected, e.g. by the shrinker).
//
// Propagation policy: a panic carrying stopSignal or invariant.Violation
// is never treated as a predicate failure — the former is ordinary control
// flow, the latter is an engine bug and is re-raised unchanged for the
// caller to handle as KindInternal. Any other panic is the predicate's
// designated failure condition and is caught exactly once, converted to
// Interesting with a tag derived from the panic's message.
func Run(buf *buffer.Buffer, maxSize int, source Source, predicate func(*TestCase)) (Result, *TestCase) {
	tc := New(buf, maxSize, source)
	result := runOnce(tc, predicate)
	return result, tc
}

func runOnce(tc *TestCase, predicate func(*TestCase)) (result Result) {
	defer func() {
		r := recover()
		if r == nil {
			if !tc.frozen {
				tc.frozen = true
				tc.result = Result{Verdict: Valid}
			}
			result = tc.result
			return
		}
		switch v := r.(type) {
		case stopSignal:
			result = v.result
		case invariant.Violation:
			panic(v)
		default:
			tag := tagForPanic(r)
			tc.frozen = true
			tc.result = Result{Verdict: Interesting, Tag: tag}
			result = tc.result
		}
	}()
	predicate(tc)
	return result
}

// tagForPanic derives a stable tag from an uncaught panic value, so the
// same failure signature is always minimized under the same tag.
func tagForPanic(r interface{}) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v", r)))
	return hex.EncodeToString(sum[:8])
}
