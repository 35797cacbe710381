// Package shrink implements the fixed shrink pipeline: given a failing
// buffer with verdict INTERESTING(tag), repeatedly apply a suite of
// structural reductions, each verified by re-running the predicate, until
// a local shortlex minimum is reached or the attempt budget is exhausted.
package shrink

import (
	"github.com/proptest-go/proptest/buffer"
	"github.com/proptest-go/proptest/data"
)

// Predicate is the function under test, identical in shape to the one
// engine and data operate on.
type Predicate func(tc *data.TestCase)

// Shrinker drives one tag's buffer to a local shortlex minimum.
type Shrinker struct {
	predicate  Predicate
	tag        string
	maxSize    int
	maxShrinks int
	attempts   int
	cache      map[string]data.Result
}

// New builds a Shrinker for the given predicate, tag, buffer size cap, and
// shrink-attempt budget.
func New(predicate Predicate, tag string, maxSize, maxShrinks int) *Shrinker {
	return &Shrinker{
		predicate:  predicate,
		tag:        tag,
		maxSize:    maxSize,
		maxShrinks: maxShrinks,
		cache:      make(map[string]data.Result),
	}
}

// Attempts reports how many predicate re-runs this Shrinker has performed.
func (s *Shrinker) Attempts() int { return s.attempts }

// classify runs the predicate against candidate, using an in-memory
// content-addressed cache so the same candidate bytes are never re-executed
// (the predicate is treated as pure modulo the buffer).
// Only a cache miss costs a predicate run and therefore a shrink attempt.
// It returns the verdict, the Buffer structure recorded during that run
// (nil on a hit), and the consumed prefix (nil on a hit).
func (s *Shrinker) classify(candidate []byte) (data.Result, *buffer.Buffer, []byte) {
	key := string(candidate)
	if r, ok := s.cache[key]; ok {
		return r, nil, nil
	}
	s.attempts++
	r, buf, consumed := s.run(candidate)
	s.cache[key] = r
	return r, buf, consumed
}

// run supplies the candidate's bytes through the Source alone; the Buffer
// starts empty. Pre-loading the Buffer with the candidate as well would let
// a too-short candidate replay its own prefix once exhausted instead of
// overrunning, and an overrun candidate must be rejected, not repaired.
func (s *Shrinker) run(candidate []byte) (data.Result, *buffer.Buffer, []byte) {
	buf := buffer.New(nil)
	src := &data.FixedSource{Prefix: candidate}
	r, tc := data.Run(buf, s.maxSize, src, s.predicate)
	return r, tc.Buffer(), tc.Consumed()
}

// accept reports whether candidate should replace current: it must still be
// INTERESTING with the same tag, and it must be strictly shortlex-smaller.
// Once the attempt budget is gone, Shrink returns whatever buffer it
// currently holds, locally minimal or not.
func (s *Shrinker) accept(current, candidate []byte) (bool, *buffer.Buffer, []byte) {
	if s.attempts >= s.maxShrinks {
		return false, nil, nil
	}
	if !buffer.Less(candidate, current) {
		return false, nil, nil
	}
	r, buf, consumed := s.classify(candidate)
	if r.Verdict != data.Interesting || r.Tag != s.tag {
		return false, nil, nil
	}
	return true, buf, consumed
}

// Shrink runs the fixed-point loop over all passes until no pass makes
// progress, the attempt budget is exhausted, or a pass produces a buffer
// that cannot be improved further. It returns the final (locally minimal,
// budget permitting) buffer.
func (s *Shrinker) Shrink(start []byte) []byte {
	current := append([]byte(nil), start...)
	_, buf, consumed := s.run(current)

	// Bytes past the consumed prefix never influenced the verdict (draws
	// only read at the cursor), so dropping them is a free, always-sound
	// shortlex improvement that needs no re-run.
	if len(consumed) < len(current) {
		current = append([]byte(nil), consumed...)
	}

	for {
		if s.attempts >= s.maxShrinks {
			return current
		}
		progressed := false

		if next, buf2, ok := s.passBlockDeletion(current, buf); ok {
			current, buf = next, buf2
			progressed = true
		}
		if next, buf2, ok := s.passExampleDeletion(current, buf); ok {
			current, buf = next, buf2
			progressed = true
		}
		if next, buf2, ok := s.passBlockMinimization(current, buf); ok {
			current, buf = next, buf2
			progressed = true
		}
		if next, buf2, ok := s.passDuplicateCollapse(current, buf); ok {
			current, buf = next, buf2
			progressed = true
		}
		if next, buf2, ok := s.passByteLexical(current, buf); ok {
			current, buf = next, buf2
			progressed = true
		}
		if next, buf2, ok := s.passAdjacentReorder(current, buf); ok {
			current, buf = next, buf2
			progressed = true
		}

		if !progressed {
			return current
		}
	}
}

// reclassifyStructure re-runs current (a cache hit, so free of budget) to
// recover its recorded Buffer structure when a pass needs it fresh. Used
// after an accepted move, since accept() only returns structure on a cache
// miss.
func (s *Shrinker) reclassifyStructure(current []byte) *buffer.Buffer {
	_, buf, _ := s.run(current)
	return buf
}
