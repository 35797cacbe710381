// Package database implements the content-addressed example store: a
// directory of failing buffers keyed by test identifier, persisting across
// runs, plus the reproducible-blob wire format for sharing one failure
// out-of-band (see blob.go).
//
// Layout: root defaults to ".hypothesis/examples"; each test key gets a
// subdirectory named by the first 32 hex characters (16 bytes) of
// SHA-1(test key); each buffer is a file named by the full 40 hex
// characters of SHA-1(buffer), raw bytes, no header, no framing.
package database

import (
	"crypto/sha1" //nolint:gosec // content-addressing, not a security boundary
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/proptest-go/proptest/internal/perr"
)

// DefaultRoot is the default database root, relative to the working
// directory.
const DefaultRoot = ".hypothesis/examples"

// Directory is a directory-backed, content-addressed store of buffers.
type Directory struct {
	Root string
}

// Open returns a Directory rooted at root. The directory is created lazily
// on first Save, not here.
func Open(root string) *Directory {
	if root == "" {
		root = DefaultRoot
	}
	return &Directory{Root: root}
}

// TestKeyHash is the 32-hex-character subdirectory name for testKey.
func TestKeyHash(testKey string) string {
	sum := sha1.Sum([]byte(testKey))
	return hex.EncodeToString(sum[:])[:32]
}

// ContentKey is the 40-hex-character file name for buf.
func ContentKey(buf []byte) string {
	sum := sha1.Sum(buf)
	return hex.EncodeToString(sum[:])
}

func (d *Directory) testDir(testKey string) string {
	return filepath.Join(d.Root, TestKeyHash(testKey))
}

func (d *Directory) path(testKey string, buf []byte) string {
	return filepath.Join(d.testDir(testKey), ContentKey(buf))
}

// Fetch lists every buffer stored under testKey. A missing directory yields
// an empty, non-error result: the database is a cache that is never
// invalidated, so absence is never treated as a failure.
func (d *Directory) Fetch(testKey string) ([][]byte, error) {
	dir := d.testDir(testKey)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, perr.Wrap(perr.KindDatabaseIO, "list "+dir, err)
	}

	var out [][]byte
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != "" {
			// Skip sidecars (*.meta.cbor) and any stray subdirectories;
			// only bare 40-hex-char content-key files are buffers.
			continue
		}
		bs, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			// An unreadable or partially-written file is treated as
			// absent, never as corrupting a verdict.
			continue
		}
		out = append(out, bs)
	}
	return out, nil
}

// Save persists buf under testKey, creating the directory if needed and
// writing atomically (temp file in the same directory, then rename) so
// concurrent writers can never observe a partially-written entry.
func (d *Directory) Save(testKey string, buf []byte) error {
	dir := d.testDir(testKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return perr.Wrap(perr.KindDatabaseIO, "mkdir "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return perr.Wrap(perr.KindDatabaseIO, "create temp file in "+dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return perr.Wrap(perr.KindDatabaseIO, "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return perr.Wrap(perr.KindDatabaseIO, "close temp file", err)
	}

	dst := d.path(testKey, buf)
	if err := os.Rename(tmpName, dst); err != nil {
		os.Remove(tmpName)
		return perr.Wrap(perr.KindDatabaseIO, "rename into place", err)
	}
	return nil
}

// Delete removes the entry for buf under testKey. A missing file is not an
// error.
func (d *Directory) Delete(testKey string, buf []byte) error {
	err := os.Remove(d.path(testKey, buf))
	if err != nil && !os.IsNotExist(err) {
		return perr.Wrap(perr.KindDatabaseIO, "delete entry", err)
	}
	return nil
}

// Move renames the logical test key an entry is stored under: save under
// dstKey, then delete from srcKey. Convenience for a caller renaming a test.
func (d *Directory) Move(srcKey, dstKey string, buf []byte) error {
	if err := d.Save(dstKey, buf); err != nil {
		return err
	}
	return d.Delete(srcKey, buf)
}

// String implements fmt.Stringer for diagnostics.
func (d *Directory) String() string {
	return fmt.Sprintf("database.Directory{Root: %q}", d.Root)
}
