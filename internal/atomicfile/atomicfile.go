// Package atomicfile writes files via a temp-file-plus-rename so a reader
// never observes a torn write. Used for /var/run/netd.stats,
// /var/cache/netd.state, /var/run/router.stats and /var/lib/dhcp/leases
// (spec §4.1 "State and stats writes are best-effort... must not corrupt
// the live cache", SPEC_FULL.md D.2).
package atomicfile

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// WriteFile writes data to path atomically: write to path+".tmp" in the
// same directory, fsync, then rename over path.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "mkdir %s", dir)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, perm)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename %s -> %s", tmp, path)
	}
	return nil
}
