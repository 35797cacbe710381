package database

import (
	"bytes"
	"compress/zlib"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/proptest-go/proptest/internal/perr"
)

// BlobVersion is the current reproducible-blob schema version tag.
const BlobVersion byte = 1

// EncodeBlob produces a self-describing, shareable encoding of buf:
// base64(zlib(VERSION || LENGTH || BYTES)), where VERSION is one byte and
// LENGTH is a 4-byte big-endian length.
func EncodeBlob(buf []byte) string {
	var raw bytes.Buffer
	raw.WriteByte(BlobVersion)
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

// DecodeBlob reverses EncodeBlob. A version mismatch produces a dedicated
// KindBlobVersionMismatch error rather than a spurious test failure: the
// caller can distinguish "this isn't a blob I understand" from "this
// input doesn't reproduce the failure."
func DecodeBlob(s string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, perr.Wrap(perr.KindDatabaseIO, "base64 decode reproducible blob", err)
	}

	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, perr.Wrap(perr.KindDatabaseIO, "zlib decode reproducible blob", err)
	}
	defer r.Close()
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, perr.Wrap(perr.KindDatabaseIO, "zlib decompress reproducible blob", err)
	}

	if len(raw) < 5 {
		return nil, perr.New(perr.KindDatabaseIO, "reproducible blob too short")
	}
	version := raw[0]
	if version != BlobVersion {
		return nil, perr.New(perr.KindBlobVersionMismatch,
			fmt.Sprintf("reproducible blob has version %d, this build understands version %d", version, BlobVersion)).
			WithContext("got_version", version).
			WithContext("want_version", BlobVersion)
	}
	length := binary.BigEndian.Uint32(raw[1:5])
	if uint32(len(raw)-5) != length {
		return nil, perr.New(perr.KindDatabaseIO,
			fmt.Sprintf("reproducible blob length mismatch: header says %d, got %d", length, len(raw)-5))
	}
	out := make([]byte, length)
	copy(out, raw[5:])
	return out, nil
}
