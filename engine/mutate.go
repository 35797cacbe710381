package engine

import (
	"encoding/binary"

	"github.com/proptest-go/proptest/internal/prng"
)

// mutationRate is the probability that a generation iteration mutates a
// previously-seen VALID buffer instead of drawing pure random bytes, once
// such a buffer is available. Mutation walks the neighborhood of inputs
// already known to parse successfully; fresh random bytes explore new
// territory. The split is a tuning dial, not a correctness requirement.
const mutationRate = 0.5

// mutateDecision draws one byte from stream and reports whether this
// iteration should mutate rather than generate fresh. It must consume
// exactly one byte so the decision itself doesn't perturb the downstream
// byte alignment of a pure-random iteration's draws.
func mutateDecision(stream *prng.Stream) bool {
	bs, _ := stream.Next(1)
	return float64(bs[0]) < mutationRate*256
}

// mutate applies one small structural perturbation to source, chosen and
// parameterized by bytes drawn from stream: splice in random bytes,
// duplicate a span, delete a span, or zero a span. The result is then
// replayed as a FixedSource prefix, with stream itself supplying whatever
// additional bytes the predicate needs beyond what mutation produced
// (engine.go chains the two via data.ChainSource).
func mutate(stream *prng.Stream, source []byte) []byte {
	if len(source) == 0 {
		return nil
	}
	opByte, _ := stream.Next(1)
	posBytes, _ := stream.Next(4)
	pos := int(binary.BigEndian.Uint32(posBytes)) % len(source)

	switch opByte[0] % 4 {
	case 0: // splice: insert fresh random bytes at pos
		lenByte, _ := stream.Next(1)
		n := int(lenByte[0])%8 + 1
		fresh, _ := stream.Next(n)
		out := make([]byte, 0, len(source)+n)
		out = append(out, source[:pos]...)
		out = append(out, fresh...)
		out = append(out, source[pos:]...)
		return out

	case 1: // duplicate: repeat a short span starting at pos
		n := spanLen(stream, len(source)-pos)
		out := make([]byte, 0, len(source)+n)
		out = append(out, source[:pos+n]...)
		out = append(out, source[pos:pos+n]...)
		out = append(out, source[pos+n:]...)
		return out

	case 2: // delete: remove a short span starting at pos
		if len(source) == 1 {
			return append([]byte(nil), source...)
		}
		n := spanLen(stream, len(source)-pos)
		out := make([]byte, 0, len(source)-n)
		out = append(out, source[:pos]...)
		out = append(out, source[pos+n:]...)
		return out

	default: // zero: clear a short span starting at pos
		n := spanLen(stream, len(source)-pos)
		out := append([]byte(nil), source...)
		for i := pos; i < pos+n; i++ {
			out[i] = 0
		}
		return out
	}
}

// spanLen draws a span length in [1, 8], clamped to the bytes remaining
// after the mutation position. Spans rather than single bytes let one
// mutation add, drop, or blank a whole draw's worth of encoding, which is
// what makes mutation align with block boundaries in practice.
func spanLen(stream *prng.Stream, remaining int) int {
	lenByte, _ := stream.Next(1)
	n := int(lenByte[0])%8 + 1
	if n > remaining {
		n = remaining
	}
	if n < 1 {
		n = 1
	}
	return n
}
