// Package buffer implements the byte buffer model at the center of the
// engine: an append-only sequence of bytes plus bookkeeping of the "blocks"
// (contiguous spans produced by a single primitive draw) and "examples"
// (nested structural regions bracketed by a combinator) recorded as a
// predicate runs against it.
//
// Buffer itself is passive bookkeeping; data.TestCase is what decides when
// to append bytes and when to open/close a region.
package buffer

import "github.com/proptest-go/proptest/internal/invariant"

// Block is a contiguous, non-empty byte span produced by one primitive draw.
type Block struct {
	Start, End int
}

// Len returns the number of bytes the block spans.
func (b Block) Len() int { return b.End - b.Start }

// Example is a nested structural region bracketed by a matched
// start/stop pair. Examples form a well-nested tree; Blocks are the leaves
// the tree is not required to reference directly (the tree is reconstructed
// from the draw trace, not stored independently of it).
type Example struct {
	Label      string
	Start, End int
	Children   []*Example
}

// Buffer is the sole source of non-determinism for a TestCase. Bytes are
// only ever appended; nothing already written is mutated or removed except
// by building an entirely new Buffer (the shrinker always operates on a
// fresh Buffer over a candidate []byte, never on this one in place).
type Buffer struct {
	Data   []byte
	Blocks []Block
	Roots  []*Example

	open []*Example // stack of currently-open example regions
}

// New wraps an existing byte slice (e.g. replayed from the database or a
// shrink candidate) for recording. The slice is copied so later appends
// never alias caller-owned memory.
func New(data []byte) *Buffer {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Buffer{Data: cp}
}

// Len reports the number of bytes recorded so far.
func (b *Buffer) Len() int { return len(b.Data) }

// Append grows the buffer by the given bytes, as a successful draw does.
func (b *Buffer) Append(bs []byte) {
	b.Data = append(b.Data, bs...)
}

// RecordBlock registers the span [start, end) as one primitive draw. Blocks
// must be disjoint and given to RecordBlock in increasing position order,
// which holds automatically because draws only ever consume at the current
// cursor.
func (b *Buffer) RecordBlock(start, end int) {
	invariant.Invariant(end > start, "block must be non-empty, got [%d, %d)", start, end)
	if n := len(b.Blocks); n > 0 {
		invariant.Invariant(start >= b.Blocks[n-1].End, "blocks must be disjoint and ordered")
	}
	b.Blocks = append(b.Blocks, Block{Start: start, End: end})
}

// StartExample opens a structural region labelled by the combinator that
// requested it.
func (b *Buffer) StartExample(label string, pos int) {
	ex := &Example{Label: label, Start: pos}
	b.open = append(b.open, ex)
}

// StopExample closes the most recently opened region.
func (b *Buffer) StopExample(pos int) {
	invariant.Invariant(len(b.open) > 0, "stop_example with no open example")
	n := len(b.open)
	ex := b.open[n-1]
	ex.End = pos
	b.open = b.open[:n-1]
	if len(b.open) > 0 {
		parent := b.open[len(b.open)-1]
		parent.Children = append(parent.Children, ex)
	} else {
		b.Roots = append(b.Roots, ex)
	}
}

// Depth returns the current example-region nesting depth (number of open
// regions). Used by recursive generators to bound themselves by depth
// rather than relying on dynamic binding.
func (b *Buffer) Depth() int { return len(b.open) }

// Flatten returns every Example in the tree (including nested ones) in a
// single slice, pre-order. Useful for shrink passes that don't care about
// nesting, only about candidate spans to try removing or reordering.
func Flatten(roots []*Example) []*Example {
	var out []*Example
	var walk func(*Example)
	walk = func(e *Example) {
		out = append(out, e)
		for _, c := range e.Children {
			walk(c)
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out
}

// Less reports whether a is strictly simpler than b under shortlex order:
// shorter first, then lexicographically smaller.
func Less(a, b []byte) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Compare returns -1, 0, or 1 as a is shortlex-less-than, equal to, or
// greater than b.
func Compare(a, b []byte) int {
	switch {
	case Less(a, b):
		return -1
	case Less(b, a):
		return 1
	default:
		return 0
	}
}
