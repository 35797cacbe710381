package database

import (
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// EntryMeta is debugging/provenance metadata about a stored entry. It is
// never part of the entry's on-disk bytes (the buffer file stays raw, no
// header, no framing); it lives in a sibling "<content-key>.meta.cbor"
// file and is advisory only. Its consumer is a human inspecting the
// database via proptestdb, never the engine.
type EntryMeta struct {
	Tag           string
	TestKey       string
	BlockCount    int
	ExampleCount  int
	SavedUnixNano int64
}

func (d *Directory) metaPath(testKey string, buf []byte) string {
	return d.path(testKey, buf) + ".meta.cbor"
}

// SaveMeta writes meta as a CBOR sidecar next to buf's entry. A failure to
// write the sidecar is never propagated as a Save failure: losing
// provenance metadata must never be mistaken for losing the ability to
// reproduce a failure.
func (d *Directory) SaveMeta(testKey string, buf []byte, meta EntryMeta) error {
	bs, err := cbor.Marshal(meta)
	if err != nil {
		return err
	}
	return os.WriteFile(d.metaPath(testKey, buf), bs, 0o644)
}

// LoadMeta reads back a sidecar written by SaveMeta. A missing or
// undecodable sidecar returns (EntryMeta{}, false) — never an error —
// since it carries no information load-bearing for reproduction.
func (d *Directory) LoadMeta(testKey string, buf []byte) (EntryMeta, bool) {
	bs, err := os.ReadFile(d.metaPath(testKey, buf))
	if err != nil {
		return EntryMeta{}, false
	}
	var meta EntryMeta
	if err := cbor.Unmarshal(bs, &meta); err != nil {
		return EntryMeta{}, false
	}
	return meta, true
}

// ListMeta returns every decodable sidecar under testKey's directory,
// keyed by content key (file base name without ".meta.cbor").
func (d *Directory) ListMeta(testKey string) map[string]EntryMeta {
	dir := d.testDir(testKey)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	out := make(map[string]EntryMeta)
	for _, e := range entries {
		name := e.Name()
		const suffix = ".meta.cbor"
		if e.IsDir() || len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}
		bs, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var meta EntryMeta
		if err := cbor.Unmarshal(bs, &meta); err != nil {
			continue
		}
		out[name[:len(name)-len(suffix)]] = meta
	}
	return out
}
