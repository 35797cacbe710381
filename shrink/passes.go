package shrink

import (
	"sort"

	"github.com/proptest-go/proptest/buffer"
	"github.com/proptest-go/proptest/data"
)

// tryCandidate runs accept and, on success, makes sure the caller gets back
// a Buffer with recorded structure even when accept's classify call was a
// cache hit (which skips re-deriving structure to avoid counting twice
// against the shrink budget). An accepted candidate is trimmed to its
// consumed prefix: trailing bytes never influenced the verdict, so dropping
// them is sound and strictly shortlex-smaller.
func (s *Shrinker) tryCandidate(current, candidate []byte) ([]byte, *buffer.Buffer, bool) {
	ok, buf, consumed := s.accept(current, candidate)
	if !ok {
		return nil, nil, false
	}
	if consumed != nil && len(consumed) < len(candidate) {
		candidate = append([]byte(nil), consumed...)
		s.cache[string(candidate)] = data.Result{Verdict: data.Interesting, Tag: s.tag}
	}
	if buf == nil {
		buf = s.reclassifyStructure(candidate)
	}
	return candidate, buf, true
}

func deleteSpan(buf []byte, start, end int) []byte {
	out := make([]byte, 0, len(buf)-(end-start))
	out = append(out, buf[:start]...)
	out = append(out, buf[end:]...)
	return out
}

func replaceSpan(buf []byte, start, end int, repl []byte) []byte {
	out := make([]byte, 0, len(buf)-(end-start)+len(repl))
	out = append(out, buf[:start]...)
	out = append(out, repl...)
	out = append(out, buf[end:]...)
	return out
}

func swapSpans(buf []byte, aStart, aEnd, bStart, bEnd int) []byte {
	out := make([]byte, 0, len(buf))
	out = append(out, buf[:aStart]...)
	out = append(out, buf[bStart:bEnd]...)
	out = append(out, buf[aEnd:bStart]...)
	out = append(out, buf[aStart:aEnd]...)
	out = append(out, buf[bEnd:]...)
	return out
}

// passBlockDeletion tries removing runs of k contiguous blocks, largest k
// first, to hit the big wins before falling back to single-block
// deletion.
func (s *Shrinker) passBlockDeletion(current []byte, buf *buffer.Buffer) ([]byte, *buffer.Buffer, bool) {
	blocks := buf.Blocks
	for _, k := range []int{8, 4, 2, 1} {
		if k > len(blocks) {
			continue
		}
		for i := 0; i+k <= len(blocks); i++ {
			start := blocks[i].Start
			end := blocks[i+k-1].End
			if end <= start {
				continue
			}
			if next, nbuf, ok := s.tryCandidate(current, deleteSpan(current, start, end)); ok {
				return next, nbuf, true
			}
		}
	}
	return nil, nil, false
}

// passExampleDeletion tries removing each example region's full span,
// largest first. Whole-region deletion often succeeds where block-level
// deletion cannot, e.g. dropping one list element rather than a partial
// encoding.
func (s *Shrinker) passExampleDeletion(current []byte, buf *buffer.Buffer) ([]byte, *buffer.Buffer, bool) {
	examples := buffer.Flatten(buf.Roots)
	sort.Slice(examples, func(i, j int) bool {
		return (examples[i].End - examples[i].Start) > (examples[j].End - examples[j].Start)
	})
	for _, ex := range examples {
		if ex.End <= ex.Start {
			continue
		}
		if next, nbuf, ok := s.tryCandidate(current, deleteSpan(current, ex.Start, ex.End)); ok {
			return next, nbuf, true
		}
	}
	return nil, nil, false
}

// passBlockMinimization binary-searches each block's big-endian integer
// value toward zero, independently, preserving the verdict.
func (s *Shrinker) passBlockMinimization(current []byte, buf *buffer.Buffer) ([]byte, *buffer.Buffer, bool) {
	for _, blk := range buf.Blocks {
		if blk.Len() == 0 {
			continue
		}
		original := current[blk.Start:blk.End]
		if isAllZero(original) {
			continue
		}

		var bestCandidate []byte
		var bestBuf *buffer.Buffer
		test := func(v uint64) bool {
			repl := beBytes(v, blk.Len())
			candidate := replaceSpan(current, blk.Start, blk.End, repl)
			next, nbuf, ok := s.tryCandidate(current, candidate)
			if ok {
				bestCandidate, bestBuf = next, nbuf
			}
			return ok
		}

		if test(0) {
			return bestCandidate, bestBuf, true
		}
		lo, hi := uint64(0), beUint64(original)
		for lo+1 < hi {
			mid := lo + (hi-lo)/2
			if test(mid) {
				hi = mid
			} else {
				lo = mid
			}
		}
		if bestCandidate != nil {
			return bestCandidate, bestBuf, true
		}
	}
	return nil, nil, false
}

// passDuplicateCollapse looks for byte-equal blocks and tries zeroing one
// of them, breaking an accidental coupling where two draws happened to
// agree only because they share byte values.
func (s *Shrinker) passDuplicateCollapse(current []byte, buf *buffer.Buffer) ([]byte, *buffer.Buffer, bool) {
	blocks := buf.Blocks
	for i := 0; i < len(blocks); i++ {
		for j := i + 1; j < len(blocks); j++ {
			a, b := blocks[i], blocks[j]
			if a.Len() != b.Len() {
				continue
			}
			if string(current[a.Start:a.End]) != string(current[b.Start:b.End]) {
				continue
			}
			if isAllZero(current[b.Start:b.End]) {
				continue
			}
			zero := make([]byte, b.Len())
			candidate := replaceSpan(current, b.Start, b.End, zero)
			if next, nbuf, ok := s.tryCandidate(current, candidate); ok {
				return next, nbuf, true
			}
		}
	}
	return nil, nil, false
}

// passByteLexical binary-searches each byte, left to right, down to the
// smallest value that preserves the verdict. Catches whatever the
// block-aware passes missed.
func (s *Shrinker) passByteLexical(current []byte, buf *buffer.Buffer) ([]byte, *buffer.Buffer, bool) {
	for i := 0; i < len(current); i++ {
		if current[i] == 0 {
			continue
		}

		var bestCandidate []byte
		var bestBuf *buffer.Buffer
		test := func(v byte) bool {
			candidate := append([]byte(nil), current...)
			candidate[i] = v
			next, nbuf, ok := s.tryCandidate(current, candidate)
			if ok {
				bestCandidate, bestBuf = next, nbuf
			}
			return ok
		}

		if test(0) {
			return bestCandidate, bestBuf, true
		}
		lo, hi := 0, int(current[i])
		for lo+1 < hi {
			mid := lo + (hi-lo)/2
			if test(byte(mid)) {
				hi = mid
			} else {
				lo = mid
			}
		}
		if bestCandidate != nil {
			return bestCandidate, bestBuf, true
		}
	}
	return nil, nil, false
}

// passAdjacentReorder tries swapping adjacent sibling example regions with
// the same label (i.e. produced by the same generator), useful for
// list-like structures whose element order doesn't matter to the
// predicate.
func (s *Shrinker) passAdjacentReorder(current []byte, buf *buffer.Buffer) ([]byte, *buffer.Buffer, bool) {
	var siblingLists [][]*buffer.Example
	var collect func(children []*buffer.Example)
	collect = func(children []*buffer.Example) {
		if len(children) > 1 {
			siblingLists = append(siblingLists, children)
		}
		for _, c := range children {
			collect(c.Children)
		}
	}
	collect(buf.Roots)

	for _, siblings := range siblingLists {
		for i := 0; i+1 < len(siblings); i++ {
			a, b := siblings[i], siblings[i+1]
			if a.Label != b.Label || a.End > b.Start {
				continue
			}
			candidate := swapSpans(current, a.Start, a.End, b.Start, b.End)
			if next, nbuf, ok := s.tryCandidate(current, candidate); ok {
				return next, nbuf, true
			}
		}
	}
	return nil, nil, false
}

func isAllZero(bs []byte) bool {
	for _, b := range bs {
		if b != 0 {
			return false
		}
	}
	return true
}

func beUint64(bs []byte) uint64 {
	var v uint64
	for _, b := range bs {
		v = v<<8 | uint64(b)
	}
	return v
}

func beBytes(v uint64, n int) []byte {
	out := make([]byte, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = byte(v)
		v >>= 8
	}
	return out
}
