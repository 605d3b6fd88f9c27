// Package pidfile implements the PID-file locking token described in spec
// §3 invariants ("The PID file at /var/run/netd.pid exists if and only if
// the daemon's event loop is running on this node") and §8 property 1
// ("PID uniqueness").
package pidfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrAlreadyRunning is returned by Acquire when path already exists. The
// netd and routerd commands check Exists before starting and exit with
// code 3 in that case (spec §6).
var ErrAlreadyRunning = errors.New("pidfile: daemon already running")

// Acquire creates path containing the caller's PID only. Acquire refuses
// to run if path already exists, per spec §6 "netd ... refuses to start if
// PID file exists".
func Acquire(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create %s", filepath.Dir(path))
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyRunning
		}
		return errors.Wrapf(err, "create pidfile %s", path)
	}
	defer f.Close()
	_, err = fmt.Fprintf(f, "%d\n", os.Getpid())
	return err
}

// Release deletes path, restoring the §3 invariant that its absence means
// "not running".
func Release(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove pidfile %s", path)
	}
	return nil
}

// Exists reports whether path currently holds a PID file.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Read returns the PID recorded in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, errors.Wrapf(err, "read pidfile %s", path)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errors.Wrapf(err, "parse pidfile %s", path)
	}
	return pid, nil
}
