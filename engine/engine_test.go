package engine_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptest-go/proptest/buffer"
	"github.com/proptest-go/proptest/data"
	"github.com/proptest-go/proptest/database"
	"github.com/proptest-go/proptest/engine"
	"github.com/proptest-go/proptest/gen"
	"github.com/proptest-go/proptest/internal/perr"
)

func testConfig(t *testing.T, dbPath string) engine.Config {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.MaxExamples = 50
	cfg.MaxShrinks = 5000
	cfg.Derandomize = true
	if dbPath == "" {
		cfg.DatabasePath = nil
	} else {
		cfg.DatabasePath = &dbPath
	}
	return cfg
}

// A predicate asserting n != 0 fails exactly when n == 0, and shrinks to
// that counterexample. The range is kept small so uniform random generation
// (modular reduction, no small-value bias) reliably hits the single failing
// value within the iteration budget.
func TestNonzeroAssertionShrinksToZero(t *testing.T) {
	eng := engine.New(testConfig(t, ""))
	intGen := gen.Int(-8, 8)
	predicate := func(tc *data.TestCase) {
		n := intGen.Draw(tc)
		if n == 0 {
			panic("assertion failed: n != 0")
		}
	}

	report, err := eng.Run("nonzero-int", predicate)
	require.Error(t, err)
	require.True(t, perr.Is(err, perr.KindFailingInput))
	require.Len(t, report.Failures, 1)

	for _, fail := range report.Failures {
		v := intGen.Draw(mustTC(t, fail.Buffer))
		assert.Equal(t, int64(0), v)
	}
}

// A predicate failing iff the drawn list contains a duplicate must shrink
// to the two-element list [0, 0].
func TestDuplicateDetectionShrinksToPairOfZeros(t *testing.T) {
	eng := engine.New(testConfig(t, ""))
	elemGen := gen.Int(0, 10)
	listGen := gen.BoundedSlice(elemGen, 0, 20)
	predicate := func(tc *data.TestCase) {
		xs := listGen.Draw(tc)
		seen := make(map[int64]bool)
		for _, x := range xs {
			if seen[x] {
				panic("duplicate element")
			}
			seen[x] = true
		}
	}

	report, err := eng.Run("duplicate-elements", predicate)
	require.Error(t, err)
	require.Len(t, report.Failures, 1)

	for _, fail := range report.Failures {
		xs := listGen.Draw(mustTC(t, fail.Buffer))
		assert.Len(t, xs, 2, "the minimal duplicate-producing list has exactly two elements")
		assert.Equal(t, xs[0], xs[1])
	}
}

// Record a failure, then restart the engine with the same test key; the
// second run must replay the database entry and report the failure without
// consulting generate.
func TestReplayFindsFailureWithoutGeneration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	predicate := func(tc *data.TestCase) {
		gen.Int(0, 1000).Draw(tc)
		panic("always fails")
	}

	first := engine.New(testConfig(t, dbPath))
	_, err := first.Run("replayed-failure", predicate)
	require.Error(t, err)

	cfg := testConfig(t, dbPath)
	cfg.Phases = map[engine.Phase]bool{engine.PhaseReuse: true, engine.PhaseShrink: true}
	second := engine.New(cfg)
	report, err := second.Run("replayed-failure", predicate)
	require.Error(t, err)
	assert.Zero(t, report.Valid+report.Invalid+report.Overrun, "replay-only run must not have generated any fresh iterations")
	assert.Len(t, report.Failures, 1)
}

// A stale database entry that no longer reproduces a failure is silently
// discarded during replay, and the run proceeds normally.
func TestStaleEntryDiscardedSilently(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	db := database.Open(dbPath)
	staleBuf := []byte{0xff, 0xff}
	require.NoError(t, db.Save("stale-entry", staleBuf))

	// A predicate that never fails: the stale entry (with whatever bytes)
	// must classify as VALID now and be deleted rather than reported.
	predicate := func(tc *data.TestCase) {
		gen.Int(0, 1000).Draw(tc)
	}

	cfg := testConfig(t, dbPath)
	eng := engine.New(cfg)
	report, err := eng.Run("stale-entry", predicate)
	require.NoError(t, err)
	assert.Empty(t, report.Failures)

	entries, ferr := db.Fetch("stale-entry")
	require.NoError(t, ferr)
	assert.Empty(t, entries, "a stale entry must be deleted once replay shows it no longer fails")
}

// Two distinct failure tags in one predicate are retained as independent
// minima; shrinking one must never disturb the other.
func TestDistinctTagsRetainedIndependently(t *testing.T) {
	eng := engine.New(testConfig(t, ""))
	intGen := gen.Int(0, 20)
	predicate := func(tc *data.TestCase) {
		n := intGen.Draw(tc)
		if n == 0 {
			tc.MarkInteresting("is_zero")
		}
		if n == 7 {
			tc.MarkInteresting("is_seven")
		}
	}

	report, err := eng.Run("two-tags", predicate)
	require.Error(t, err)
	require.Len(t, report.Failures, 2)

	zero, ok := report.Failures["is_zero"]
	require.True(t, ok)
	seven, ok := report.Failures["is_seven"]
	require.True(t, ok)

	zv := intGen.Draw(mustTC(t, zero.Buffer))
	sv := intGen.Draw(mustTC(t, seven.Buffer))
	assert.Equal(t, int64(0), zv)
	assert.Equal(t, int64(7), sv)
}

func TestOverrunSaturatedSurfacesDedicatedError(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.BufferSize = 1
	eng := engine.New(cfg)
	predicate := func(tc *data.TestCase) {
		tc.DrawBytes(64) // always overruns against a 1-byte ceiling
	}
	_, err := eng.Run("overrun-only", predicate)
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindOverrunSaturated))
}

func TestFilterTooRestrictiveSurfacesUnsatisfied(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.MaxIterations = 40
	eng := engine.New(cfg)
	predicate := func(tc *data.TestCase) {
		tc.MarkInvalid()
	}
	_, err := eng.Run("always-invalid", predicate)
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindUnsatisfied))
}

func TestNoFailureFoundReturnsNilError(t *testing.T) {
	eng := engine.New(testConfig(t, ""))
	predicate := func(tc *data.TestCase) {
		gen.Int(0, 10).Draw(tc)
	}
	report, err := eng.Run("always-valid", predicate)
	assert.NoError(t, err)
	assert.Empty(t, report.Failures)
	assert.Greater(t, report.Valid, 0)
}

// A predicate asserting sum(xs) < 100 over a bounded sequence of integers
// in [0, 200] must shrink onto the boundary: a short list of positive
// elements summing to exactly 100.
func TestSumBoundShrinksToExactBoundary(t *testing.T) {
	eng := engine.New(testConfig(t, ""))
	listGen := gen.BoundedSlice(gen.Int(0, 200), 0, 50)
	predicate := func(tc *data.TestCase) {
		xs := listGen.Draw(tc)
		var sum int64
		for _, x := range xs {
			sum += x
		}
		if sum >= 100 {
			panic("assertion failed: sum(xs) < 100")
		}
	}

	report, err := eng.Run("sum-bound", predicate)
	require.Error(t, err)
	require.Len(t, report.Failures, 1)

	for _, fail := range report.Failures {
		xs := listGen.Draw(mustTC(t, fail.Buffer))
		require.NotEmpty(t, xs)
		var sum int64
		for _, x := range xs {
			assert.Positive(t, x, "a zero element survives no deletion pass")
			sum += x
		}
		assert.Equal(t, int64(100), sum, "per-byte minimality forces the sum exactly onto the boundary")
	}
}

// Classifying the same buffer twice yields the same verdict and the same
// recorded block structure.
func TestClassificationIsDeterministic(t *testing.T) {
	listGen := gen.BoundedSlice(gen.Int(0, 100), 0, 10)
	predicate := func(tc *data.TestCase) {
		xs := listGen.Draw(tc)
		if len(xs) > 3 {
			tc.MarkInteresting("too_long")
		}
	}

	buf := []byte{0x10, 0x20, 0x10, 0x30, 0x10, 0x40, 0x10, 0x50, 0xff}
	run := func() (data.Result, []buffer.Block) {
		r, tc := data.Run(buffer.New(nil), 4096, &data.FixedSource{Prefix: buf}, predicate)
		return r, tc.Buffer().Blocks
	}

	r1, blocks1 := run()
	r2, blocks2 := run()
	assert.Equal(t, r1, r2)
	assert.Equal(t, blocks1, blocks2)
}

// A buffer whose final verdict is OVERRUN is never written to the
// database.
func TestOverrunIsNeverPersisted(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "db")
	cfg := testConfig(t, dbPath)
	cfg.BufferSize = 1
	eng := engine.New(cfg)
	predicate := func(tc *data.TestCase) {
		tc.DrawBytes(64)
	}
	_, err := eng.Run("overrun-persist", predicate)
	require.Error(t, err)

	entries, ferr := database.Open(dbPath).Fetch("overrun-persist")
	require.NoError(t, ferr)
	assert.Empty(t, entries)
}

// A predicate that passes but exceeds its per-invocation deadline is treated
// as a failure under the dedicated deadline tag, so the engine can shrink
// toward a minimal slow input.
func TestSlowPredicateClassifiedUnderDeadlineTag(t *testing.T) {
	cfg := testConfig(t, "")
	cfg.MaxIterations = 3
	cfg.MaxShrinks = 3
	ms := 1
	cfg.DeadlineMS = &ms
	eng := engine.New(cfg)

	predicate := func(tc *data.TestCase) {
		gen.Int(0, 10).Draw(tc)
		time.Sleep(5 * time.Millisecond)
	}

	report, err := eng.Run("always-slow", predicate)
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindDeadlineExceeded))
	_, ok := report.Failures[engine.DeadlineTag]
	assert.True(t, ok, "the slow input must be retained under the dedicated deadline tag")
}

func TestReproduceReplaysBlobWithoutGeneration(t *testing.T) {
	intGen := gen.Int(0, 1000)
	predicate := func(tc *data.TestCase) {
		if intGen.Draw(tc) == 0 {
			panic("assertion failed: n != 0")
		}
	}

	eng := engine.New(testConfig(t, ""))

	failing := database.EncodeBlob([]byte{0x00, 0x00})
	report, err := eng.Reproduce(failing, predicate)
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindFailingInput))
	assert.Equal(t, 1, report.Iterations, "reproduce must classify exactly once")

	passing := database.EncodeBlob([]byte{0x00, 0x07})
	report, err = eng.Reproduce(passing, predicate)
	assert.NoError(t, err)
	assert.Equal(t, 1, report.Valid)
}

func TestReproduceRejectsUndecodableBlob(t *testing.T) {
	eng := engine.New(testConfig(t, ""))
	_, err := eng.Reproduce("@@not base64@@", func(tc *data.TestCase) {})
	require.Error(t, err)
}

func mustTC(t *testing.T, buf []byte) *data.TestCase {
	t.Helper()
	return data.New(buffer.New(nil), 4096, &data.FixedSource{Prefix: buf})
}
