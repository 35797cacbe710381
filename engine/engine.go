// Package engine implements the search loop: replay database entries,
// generate fresh buffers (by pure random synthesis or by mutating a
// previously-seen VALID buffer), classify each run's verdict, retain the
// shortlex-best failure per tag, then hand each off to the shrinker.
package engine

import (
	"fmt"
	"time"

	"github.com/proptest-go/proptest/buffer"
	"github.com/proptest-go/proptest/data"
	"github.com/proptest-go/proptest/database"
	"github.com/proptest-go/proptest/internal/invariant"
	"github.com/proptest-go/proptest/internal/perr"
	"github.com/proptest-go/proptest/internal/prng"
	"github.com/proptest-go/proptest/shrink"
)

// Predicate is the function under test: given a TestCase, it draws values
// via generators and asserts properties of them. It raises its "designated
// failure condition" either by calling tc.MarkInteresting directly or by
// panicking (e.g. a failed assertion); data.Run classifies either as
// Interesting.
type Predicate func(tc *data.TestCase)

// ExplicitExample is a caller-supplied buffer run during the explicit
// phase, before any database replay or fresh generation.
type ExplicitExample []byte

// Tag identifies one of possibly several distinct ways a predicate can fail.
type Tag = string

// Failure is the best (shortlex-smallest) retained buffer for one tag,
// after shrinking.
type Failure struct {
	Tag            Tag
	Buffer         []byte
	Blob           string
	ShrinkAttempts int
}

// Report summarizes one Engine.Run: how many valid/invalid/overrun
// iterations occurred, and the shrunk failure for every distinct tag found
// (possibly none, meaning the predicate held throughout the budget).
type Report struct {
	Valid      int
	Invalid    int
	Overrun    int
	Iterations int
	Failures   map[Tag]Failure
}

// DeadlineTag is the dedicated interesting-tag for an input whose predicate
// invocation exceeded Config.DeadlineMS. Treating slowness as a failure of
// its own lets the shrinker search for a smaller input that is also slow.
const DeadlineTag = "deadline.exceeded"

// invalidRatioThreshold is the fraction of INVALID/total iterations above
// which the engine surfaces a dedicated filter-too-restrictive
// (KindUnsatisfied) error instead of silently running out the budget.
const invalidRatioThreshold = 0.5

// Engine drives one test's generate/shrink loop.
type Engine struct {
	cfg Config
	db  *database.Directory
}

// New builds an Engine. If cfg.DatabasePath is nil, persistence is
// disabled entirely and the engine runs purely in memory, the same
// degraded mode a DatabaseIO failure would force.
func New(cfg Config) *Engine {
	var db *database.Directory
	if cfg.DatabasePath != nil {
		db = database.Open(*cfg.DatabasePath)
	}
	return &Engine{cfg: cfg, db: db}
}

// Run executes the full explicit/reuse/generate/shrink state machine
// against predicate, under testKey, with any caller-supplied explicit
// examples run first.
//
// A violated engine/shrinker invariant (never a predicate failure — those
// are classified, not raised) aborts the run and is returned as
// KindInternal with the run's state so far as its diagnostic dump.
func (e *Engine) Run(testKey string, predicate Predicate, explicit ...ExplicitExample) (report *Report, err error) {
	invariant.NotNil(predicate, "predicate")

	report = &Report{Failures: make(map[Tag]Failure)}

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		v, ok := r.(invariant.Violation)
		if !ok {
			panic(r)
		}
		err = perr.Wrap(perr.KindInternal, "engine invariant violated", v).
			WithContext("test_key", testKey).
			WithContext("iterations", report.Iterations).
			WithContext("valid", report.Valid).
			WithContext("invalid", report.Invalid).
			WithContext("overrun", report.Overrun)
	}()
	best := make(map[Tag][]byte) // current shortlex-best buffer per tag
	var validPool [][]byte       // recently seen VALID buffers, for mutation
	const validPoolCap = 64

	deadline := e.cfg.RunDeadline
	maxSize := e.cfg.BufferSize
	if maxSize <= 0 {
		maxSize = 8192
	}

	predicate = e.wrapDeadline(predicate)

	// The candidate's bytes are supplied through the Source alone, never
	// pre-loaded into the Buffer as well: pre-loading would let a too-short
	// candidate replay its own prefix a second time once exhausted, instead
	// of overrunning.
	classify := func(buf []byte) (data.Result, *buffer.Buffer, []byte) {
		b := buffer.New(nil)
		src := &data.FixedSource{Prefix: buf}
		r, tc := data.Run(b, maxSize, src, predicate)
		return r, tc.Buffer(), tc.Consumed()
	}

	record := func(r data.Result, buf []byte) {
		report.Iterations++
		switch r.Verdict {
		case data.Valid:
			report.Valid++
			validPool = append(validPool, buf)
			if len(validPool) > validPoolCap {
				validPool = validPool[len(validPool)-validPoolCap:]
			}
		case data.Invalid:
			report.Invalid++
		case data.Overrun:
			report.Overrun++
		case data.Interesting:
			if cur, ok := best[r.Tag]; !ok || buffer.Less(buf, cur) {
				best[r.Tag] = append([]byte(nil), buf...)
			}
		}
	}

	// Phase: explicit.
	if e.phaseEnabled(PhaseExplicit) {
		for _, ex := range explicit {
			if pastDeadline(deadline) {
				break
			}
			r, _, consumed := classify(ex)
			record(r, consumed)
		}
	}

	// Phase: reuse. Replay database entries; stale entries that no longer
	// reproduce a failure are silently discarded.
	replayed := make(map[string]bool)
	if e.phaseEnabled(PhaseReuse) && e.db != nil {
		entries, err := e.db.Fetch(testKey)
		if err != nil {
			e.cfg.logger().Warn("database fetch failed; continuing without reuse", "test_key", testKey, "err", err)
		}
		for _, buf := range entries {
			if pastDeadline(deadline) {
				break
			}
			r, _, consumed := classify(buf)
			replayed[string(buf)] = true
			if r.Verdict != data.Interesting {
				if derr := e.db.Delete(testKey, buf); derr != nil {
					e.cfg.logger().Warn("failed to delete stale database entry", "test_key", testKey, "err", derr)
				}
				continue
			}
			record(r, consumed)
		}
	}

	// Phase: generate.
	if e.phaseEnabled(PhaseGenerate) {
		seed := e.seed(testKey)
		stream := prng.NewFromSeed(seed)

		for report.Valid < e.cfg.MaxExamples && report.Iterations < e.cfg.effectiveMaxIterations() {
			if pastDeadline(deadline) {
				break
			}

			var src data.Source
			if len(validPool) > 0 && mutateDecision(stream) {
				mutated := mutate(stream, validPool[len(validPool)-1])
				src = &data.ChainSource{First: &data.FixedSource{Prefix: mutated}, Second: stream}
			} else {
				src = stream
			}

			b := buffer.New(nil)
			r, tc := data.Run(b, maxSize, src, predicate)
			record(r, tc.Consumed())
		}

		// A found failure always outranks a budget complaint: these two
		// surface only when there is nothing interesting to report.
		if report.Iterations > 0 && len(best) == 0 {
			ratio := float64(report.Invalid) / float64(report.Iterations)
			if report.Valid < e.cfg.MaxExamples && ratio > invalidRatioThreshold {
				return report, perr.New(perr.KindUnsatisfied,
					fmt.Sprintf("filter too restrictive: %d/%d iterations invalid", report.Invalid, report.Iterations)).
					WithContext("invalid", report.Invalid).
					WithContext("total", report.Iterations)
			}
			if report.Valid == 0 && report.Invalid == 0 && report.Overrun == report.Iterations {
				return report, perr.New(perr.KindOverrunSaturated,
					"every generation attempt overran; consider raising BufferSize").
					WithContext("overrun", report.Overrun)
			}
		}
	}

	// Phase: shrink.
	if e.phaseEnabled(PhaseShrink) {
		for tag, buf := range best {
			if pastDeadline(deadline) {
				report.Failures[tag] = Failure{Tag: tag, Buffer: buf, Blob: database.EncodeBlob(buf)}
				continue
			}
			shrinker := shrink.New(shrink.Predicate(predicate), tag, maxSize, e.cfg.MaxShrinks)
			shrunk := shrinker.Shrink(buf)
			best[tag] = shrunk
			report.Failures[tag] = Failure{
				Tag:            tag,
				Buffer:         shrunk,
				Blob:           database.EncodeBlob(shrunk),
				ShrinkAttempts: shrinker.Attempts(),
			}
		}
	} else {
		for tag, buf := range best {
			report.Failures[tag] = Failure{Tag: tag, Buffer: buf, Blob: database.EncodeBlob(buf)}
		}
	}

	// Report & persist: save the (possibly shrunk) buffer per tag, delete
	// every entry replayed in the reuse phase that is not one of these
	// buffers (it has been superseded by something no larger for its tag;
	// entries this run did not replay are left alone), and run the
	// predicate one final time so callers with closures
	// over drawn values can observe the final reproduction. The final run
	// also supplies the block/example counts recorded in the provenance
	// sidecar.
	for _, fail := range report.Failures {
		_, structure, _ := classify(fail.Buffer)
		if e.db == nil {
			continue
		}
		if err := e.db.Save(testKey, fail.Buffer); err != nil {
			e.cfg.logger().Warn("failed to persist failing buffer", "test_key", testKey, "err", err)
			continue
		}
		_ = e.db.SaveMeta(testKey, fail.Buffer, database.EntryMeta{
			Tag:           fail.Tag,
			TestKey:       testKey,
			BlockCount:    len(structure.Blocks),
			ExampleCount:  len(buffer.Flatten(structure.Roots)),
			SavedUnixNano: time.Now().UnixNano(),
		})
	}
	if e.db != nil {
		if stored, err := e.db.Fetch(testKey); err == nil {
			keep := make(map[string]bool, len(report.Failures))
			for _, fail := range report.Failures {
				keep[string(fail.Buffer)] = true
			}
			for _, buf := range stored {
				if replayed[string(buf)] && !keep[string(buf)] {
					_ = e.db.Delete(testKey, buf)
				}
			}
		}
	}

	return report, e.failureError(report)
}

// failureError maps a report with retained failures onto the error a caller
// sees: KindDeadlineExceeded when every failure is the deadline tag (the
// predicate never failed on its own, it was only too slow), KindFailingInput
// otherwise, nil when the predicate held throughout.
func (e *Engine) failureError(report *Report) error {
	if len(report.Failures) == 0 {
		return nil
	}

	// Deterministic choice of which tag to surface as the primary error:
	// the shortlex-smallest buffer across all tags.
	var primary *Failure
	onlyDeadline := true
	for tag := range report.Failures {
		f := report.Failures[tag]
		if primary == nil || buffer.Less(f.Buffer, primary.Buffer) {
			fcopy := f
			primary = &fcopy
		}
		if tag != DeadlineTag {
			onlyDeadline = false
		}
	}

	kind := perr.KindFailingInput
	msg := fmt.Sprintf("found %d distinct failing case(s); primary tag %s", len(report.Failures), primary.Tag)
	if onlyDeadline {
		kind = perr.KindDeadlineExceeded
		msg = "predicate exceeded its deadline; minimal slow input retained"
	}
	return perr.New(kind, msg).
		WithContext("primary_blob", primary.Blob).
		WithContext("tags", tagList(report.Failures))
}

// Reproduce decodes a reproducible blob and feeds the buffer straight
// through one classification, bypassing generation and shrinking. A
// version mismatch in the blob surfaces as its dedicated error; a buffer
// that no longer produces an interesting verdict returns a nil error and
// an empty-failure report.
func (e *Engine) Reproduce(blob string, predicate Predicate) (*Report, error) {
	invariant.NotNil(predicate, "predicate")
	predicate = e.wrapDeadline(predicate)

	buf, err := database.DecodeBlob(blob)
	if err != nil {
		return nil, err
	}

	maxSize := e.cfg.BufferSize
	if maxSize <= 0 {
		maxSize = 8192
	}

	report := &Report{Failures: make(map[Tag]Failure), Iterations: 1}
	r, _ := data.Run(buffer.New(nil), maxSize, &data.FixedSource{Prefix: buf}, predicate)
	switch r.Verdict {
	case data.Valid:
		report.Valid = 1
	case data.Invalid:
		report.Invalid = 1
	case data.Overrun:
		report.Overrun = 1
	case data.Interesting:
		report.Failures[r.Tag] = Failure{Tag: r.Tag, Buffer: buf, Blob: blob}
	}
	return report, e.failureError(report)
}

// wrapDeadline applies the per-predicate wall-clock budget. An
// invocation that would otherwise pass but overshoots the budget is
// reclassified as interesting under DeadlineTag; an invocation that already
// terminated (failed, invalid, overran) never reaches the check, so its own
// verdict is preserved. Wrapping the predicate itself means the shrinker
// and Reproduce apply the same rule for free.
func (e *Engine) wrapDeadline(predicate Predicate) Predicate {
	if e.cfg.DeadlineMS == nil {
		return predicate
	}
	budget := time.Duration(*e.cfg.DeadlineMS) * time.Millisecond
	return func(tc *data.TestCase) {
		started := time.Now()
		predicate(tc)
		if time.Since(started) > budget {
			tc.MarkInteresting(DeadlineTag)
		}
	}
}

func tagList(m map[Tag]Failure) []string {
	out := make([]string, 0, len(m))
	for t := range m {
		out = append(out, t)
	}
	return out
}

func (e *Engine) phaseEnabled(p Phase) bool {
	if e.cfg.Phases == nil {
		return true
	}
	return e.cfg.Phases[p]
}

func pastDeadline(d time.Time) bool {
	return !d.IsZero() && time.Now().After(d)
}

// seed derives the generation PRNG's seed: from the test key alone when
// Derandomize is set, otherwise from process entropy so distinct runs
// explore different territory.
func (e *Engine) seed(testKey string) [32]byte {
	if e.cfg.Derandomize {
		return prng.SeedFromTestKey(testKey)
	}
	return prng.SeedFromEntropy(uint64(time.Now().UnixNano()), testKey)
}
