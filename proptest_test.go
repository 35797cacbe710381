package proptest_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptest-go/proptest"
	"github.com/proptest-go/proptest/data"
	"github.com/proptest-go/proptest/database"
	"github.com/proptest-go/proptest/gen"
)

// recorderT captures Fatalf calls so tests can assert on how Check/ForAll
// report failures without actually failing the enclosing test.
type recorderT struct {
	failed  bool
	message string
}

func (r *recorderT) Helper() {}

func (r *recorderT) Fatalf(format string, args ...interface{}) {
	r.failed = true
	r.message = fmt.Sprintf(format, args...)
}

func TestCheckPassesForHoldingProperty(t *testing.T) {
	rec := &recorderT{}
	g := gen.Int(0, 100)
	proptest.Check(rec, "holding-property", func(tc *data.TestCase) {
		n := g.Draw(tc)
		assert.GreaterOrEqual(t, n, int64(0))
	}, proptest.WithDatabasePath(""), proptest.WithDerandomize())
	assert.False(t, rec.failed, "a holding property must not fail: %s", rec.message)
}

func TestCheckReportsCounterexampleWithBlob(t *testing.T) {
	rec := &recorderT{}
	g := gen.Int(0, 50)
	proptest.Check(rec, "failing-property", func(tc *data.TestCase) {
		if g.Draw(tc) < 25 {
			panic("n must not be small")
		}
	}, proptest.WithDatabasePath(""), proptest.WithDerandomize())
	require.True(t, rec.failed)
	assert.Contains(t, rec.message, "FAILING_INPUT")
	assert.Contains(t, rec.message, "reproducible blob: ")
}

func TestForAllWithBoolProperty(t *testing.T) {
	rec := &recorderT{}
	proptest.ForAll(rec, "forall-commutative",
		func(a, b int64) bool { return a+b == b+a },
		[]proptest.AnyGen{
			proptest.Wrap(gen.Int(-100, 100)),
			proptest.Wrap(gen.Int(-100, 100)),
		},
		proptest.WithDatabasePath(""), proptest.WithDerandomize())
	assert.False(t, rec.failed, "commutativity must hold: %s", rec.message)
}

func TestForAllFalseReturnIsAFailure(t *testing.T) {
	rec := &recorderT{}
	proptest.ForAll(rec, "forall-false",
		func(a int64) bool { return a < 0 }, // fails for any drawn a >= 0
		[]proptest.AnyGen{proptest.Wrap(gen.Int(0, 10))},
		proptest.WithDatabasePath(""), proptest.WithDerandomize())
	assert.True(t, rec.failed)
}

func TestForAllRejectsArityMismatch(t *testing.T) {
	rec := &recorderT{}
	proptest.ForAll(rec, "forall-arity",
		func(a, b int64) bool { return true },
		[]proptest.AnyGen{proptest.Wrap(gen.Int(0, 10))},
		proptest.WithDatabasePath(""))
	require.True(t, rec.failed)
	assert.Contains(t, rec.message, "generators")
}

func TestReproduceFailureReplaysKnownCounterexample(t *testing.T) {
	g := gen.Int(0, 1000)
	predicate := func(tc *data.TestCase) {
		if g.Draw(tc) == 0 {
			panic("n must not be zero")
		}
	}

	rec := &recorderT{}
	proptest.ReproduceFailure(rec, database.EncodeBlob([]byte{0x00, 0x00}), predicate,
		proptest.WithDatabasePath(""))
	require.True(t, rec.failed, "a blob encoding the failing input must reproduce the failure")
	assert.Contains(t, rec.message, "FAILING_INPUT")

	rec = &recorderT{}
	proptest.ReproduceFailure(rec, database.EncodeBlob([]byte{0x00, 0x05}), predicate,
		proptest.WithDatabasePath(""))
	assert.False(t, rec.failed, "a blob whose input now passes must not fail the test")
}

func TestCheckFallsBackToNamedTestKey(t *testing.T) {
	// *testing.T exposes Name(); an empty explicit key must fall back to it
	// so database entries stay stable under the test's own name.
	dir := t.TempDir()
	proptest.Check(t, "", func(tc *data.TestCase) {
		gen.Int(0, 10).Draw(tc)
	}, proptest.WithDatabasePath(dir), proptest.WithMaxExamples(5))

	// No failure, so nothing may have been persisted under any key.
	entries, err := database.Open(dir).Fetch(t.Name())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, strings.Contains(t.Name(), "/"), "sanity: top-level test name")
}
