package database_test

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/proptest-go/proptest/database"
	"github.com/proptest-go/proptest/internal/perr"
)

func TestBlobRoundTripEmptyBuffer(t *testing.T) {
	blob := database.EncodeBlob(nil)
	decoded, err := database.DecodeBlob(blob)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestBlobRoundTripArbitraryBytes(t *testing.T) {
	buf := []byte{0x00, 0xff, 0x7f, 0x80, 0x01}
	decoded, err := database.DecodeBlob(database.EncodeBlob(buf))
	require.NoError(t, err)
	assert.Equal(t, buf, decoded)
}

// encodeWithVersion builds a blob byte-identical to EncodeBlob's output
// except for the version tag, to exercise the mismatch path.
func encodeWithVersion(version byte, buf []byte) string {
	var raw bytes.Buffer
	raw.WriteByte(version)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(buf)))
	raw.Write(lenBuf[:])
	raw.Write(buf)

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, _ = w.Write(raw.Bytes())
	_ = w.Close()
	return base64.StdEncoding.EncodeToString(compressed.Bytes())
}

func TestBlobVersionMismatchIsDedicated(t *testing.T) {
	blob := encodeWithVersion(database.BlobVersion+1, []byte{0xaa})
	_, err := database.DecodeBlob(blob)
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindBlobVersionMismatch),
		"an unknown version must surface the dedicated mismatch kind, never a spurious failure")
}

func TestBlobLengthMismatchIsRejected(t *testing.T) {
	var raw bytes.Buffer
	raw.WriteByte(database.BlobVersion)
	raw.Write([]byte{0x00, 0x00, 0x00, 0x09}) // header claims 9 bytes
	raw.Write([]byte{0x01, 0x02})             // only 2 follow

	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, _ = w.Write(raw.Bytes())
	_ = w.Close()

	_, err := database.DecodeBlob(base64.StdEncoding.EncodeToString(compressed.Bytes()))
	require.Error(t, err)
}

func TestBlobGarbageInputIsAnError(t *testing.T) {
	for _, s := range []string{"", "@@@", "aGVsbG8="} { // empty, bad base64, valid base64 but not zlib
		_, err := database.DecodeBlob(s)
		assert.Error(t, err, "input %q", s)
	}
}
