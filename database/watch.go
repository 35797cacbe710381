package database

import (
	"os"

	"github.com/fsnotify/fsnotify"

	"github.com/proptest-go/proptest/internal/perr"
)

// Watch streams the content key of every buffer written under testKey by
// any process — including this one — from the moment Watch is called. It
// lets a long-running engine, or the `proptestdb watch` CLI subcommand, pick
// up a failure recorded by a concurrent run without polling the directory.
//
// Watch never changes what Fetch/Save return; it is optional infrastructure
// layered on top of the atomic-rename guarantee Save already provides.
// The returned stop function closes the underlying watcher; the
// channel is closed once stop has been called and any in-flight event has
// drained.
func (d *Directory) Watch(testKey string) (<-chan string, func() error, error) {
	dir := d.testDir(testKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, nil, perr.Wrap(perr.KindDatabaseIO, "mkdir "+dir, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, perr.Wrap(perr.KindDatabaseIO, "create fsnotify watcher", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, nil, perr.Wrap(perr.KindDatabaseIO, "watch "+dir, err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				// Entries land via temp-file-then-rename (Save) or a
				// direct Create from another process; both surface as
				// Create/Write on the final name. Sidecars end in
				// ".meta.cbor" and are skipped; temp files are
				// filtered the same way Fetch filters them.
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				base := contentKeyFromPath(ev.Name)
				if base == "" {
					continue
				}
				out <- base
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	stop := func() error { return w.Close() }
	return out, stop, nil
}

func contentKeyFromPath(path string) string {
	base := path[strLastIndex(path)+1:]
	if len(base) != 40 {
		return ""
	}
	for _, c := range base {
		if !isHex(c) {
			return ""
		}
	}
	return base
}

func strLastIndex(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' || s[i] == '\\' {
			return i
		}
	}
	return -1
}

func isHex(c rune) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')
}
