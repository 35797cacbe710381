// Package gen implements the Generator interface and the small core set
// of combinators: map, filter, bind, choice, weighted choice, bounded
// integer, bounded collection. Richer generator libraries are users of
// these primitives, not part of the engine.
package gen

import (
	"math/bits"

	"github.com/proptest-go/proptest/data"
	"github.com/proptest-go/proptest/internal/invariant"
)

// Generator is a pure function from a TestCase to a value, consuming bytes
// from the underlying buffer as it goes.
type Generator[T any] interface {
	Draw(tc *data.TestCase) T
}

// Func adapts a plain function to the Generator interface, so combinators
// stay ordinary higher-order functions rather than one named type each.
type Func[T any] func(tc *data.TestCase) T

// Draw implements Generator.
func (f Func[T]) Draw(tc *data.TestCase) T { return f(tc) }

// Int draws an integer uniformly distributed (modulo reduction) over
// [lo, hi]. It reads ceil(log2(hi-lo+1)/8) bytes, interprets them as a
// big-endian unsigned integer, and maps byte 0x00... to lo.
func Int(lo, hi int64) Generator[int64] {
	invariant.Precondition(lo <= hi, "Int requires lo <= hi, got [%d, %d]", lo, hi)
	span := uint64(hi-lo) + 1
	n := bytesNeeded(span)
	return Func[int64](func(tc *data.TestCase) int64 {
		tc.StartExample("int")
		defer tc.StopExample()
		if n == 0 {
			return lo
		}
		bs := tc.DrawBytes(n)
		v := beUint(bs)
		if span != 0 {
			v %= span
		}
		return lo + int64(v)
	})
}

// bytesNeeded returns ceil(log2(span)/8): 0 for a single-value range, and 8
// when span has wrapped to 0 (the full 64-bit range).
func bytesNeeded(span uint64) int {
	if span == 1 {
		return 0
	}
	return (bits.Len64(span-1) + 7) / 8
}

func beUint(bs []byte) uint64 {
	var v uint64
	for _, b := range bs {
		v = v<<8 | uint64(b)
	}
	return v
}

// WeightedBool draws a single byte and returns true iff byte/256 < p. p must
// be in [0, 1]. p == 0 always returns false and consumes no byte.
func WeightedBool(p float64) Generator[bool] {
	invariant.Precondition(p >= 0 && p <= 1, "WeightedBool requires p in [0,1], got %v", p)
	return Func[bool](func(tc *data.TestCase) bool {
		if p == 0 {
			return false
		}
		tc.StartExample("weighted_bool")
		defer tc.StopExample()
		b := tc.DrawBytes(1)[0]
		return float64(b)/256.0 < p
	})
}

// Choice draws an index uniformly in [0, len(options)-1] and returns that
// option.
func Choice[T any](options ...T) Generator[T] {
	invariant.Precondition(len(options) > 0, "Choice requires at least one option")
	idx := Int(0, int64(len(options)-1))
	return Func[T](func(tc *data.TestCase) T {
		tc.StartExample("choice")
		defer tc.StopExample()
		return options[idx.Draw(tc)]
	})
}

// Map runs g and applies the pure function f to its result.
func Map[A, B any](g Generator[A], f func(A) B) Generator[B] {
	return Func[B](func(tc *data.TestCase) B {
		tc.StartExample("map")
		defer tc.StopExample()
		return f(g.Draw(tc))
	})
}

// Filter runs g; if pred rejects the drawn value, the TestCase is marked
// Invalid. The engine is responsible for bounded retry across an entire
// run; Filter itself never retries.
func Filter[T any](g Generator[T], pred func(T) bool) Generator[T] {
	return Func[T](func(tc *data.TestCase) T {
		tc.StartExample("filter")
		defer tc.StopExample()
		v := g.Draw(tc)
		if !pred(v) {
			tc.MarkInvalid()
		}
		return v
	})
}

// Bind runs g yielding x, then runs k(x).
func Bind[A, B any](g Generator[A], k func(A) Generator[B]) Generator[B] {
	return Func[B](func(tc *data.TestCase) B {
		tc.StartExample("bind")
		defer tc.StopExample()
		x := g.Draw(tc)
		return k(x).Draw(tc)
	})
}

// defaultKeepGoing is the probability the bounded-sequence control byte
// continues the sequence, once min has been satisfied and max hasn't.
const defaultKeepGoing = 0.9

// BoundedSlice repeatedly draws a weighted_boolean(keep_going) control byte;
// on true it draws one elem, on false it stops. It guarantees
// min <= len(result) <= max by forcing continuation below min and forcing
// termination at max, without consuming a control byte at either boundary.
func BoundedSlice[T any](elem Generator[T], min, max int) Generator[[]T] {
	invariant.Precondition(min >= 0, "BoundedSlice requires min >= 0, got %d", min)
	invariant.Precondition(min <= max, "BoundedSlice requires min <= max, got [%d, %d]", min, max)
	keepGoing := WeightedBool(defaultKeepGoing)
	return Func[[]T](func(tc *data.TestCase) []T {
		tc.StartExample("bounded_slice")
		defer tc.StopExample()
		out := make([]T, 0, min)
		for len(out) < max {
			if len(out) >= min {
				if !keepGoing.Draw(tc) {
					break
				}
			}
			out = append(out, elem.Draw(tc))
		}
		return out
	})
}

// Recursive builds a self-referential generator without relying on
// dynamic binding: it is a fixed point parameterized by a depth budget,
// with depth tracked through the example-region nesting rather than an
// ambient stack.
//
// extend is called with a generator for the recursive case's children; once
// the current TestCase's example nesting exceeds maxDepth, base is used
// instead, guaranteeing termination.
func Recursive[T any](base Generator[T], extend func(Generator[T]) Generator[T], maxDepth int) Generator[T] {
	invariant.Precondition(maxDepth >= 0, "Recursive requires maxDepth >= 0, got %d", maxDepth)
	var self Generator[T]
	self = Func[T](func(tc *data.TestCase) T {
		tc.StartExample("recursive")
		defer tc.StopExample()
		if tc.Depth() > maxDepth {
			return base.Draw(tc)
		}
		return extend(self).Draw(tc)
	})
	return self
}
