// Package locks provides the cross-process advisory locks that guard the
// scheduler election and the export run. Several kiosk worker processes
// may run at once; flock on a well-known file is the primitive they all
// share, and the OS releases it when a holder exits or crashes.
package locks

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Well-known lock file names.
const (
	// SchedulerLockName elects the single process that runs the
	// background sync loop. Held for the lifetime of the winner.
	SchedulerLockName = "scheduler.lock"
	// ExportLockName guards one export reconciliation run. Taken and
	// released per run, so a manual CLI export no-ops cleanly against
	// the elected background loop.
	ExportLockName = "export.lock"
)

// FileLock is a non-blocking exclusive advisory lock on a named file.
type FileLock struct {
	flock *flock.Flock
}

// New creates a lock handle for the named resource inside dir. The lock
// file is created on first use and never removed; only the flock state
// matters.
func New(dir, name string) *FileLock {
	return &FileLock{flock: flock.New(filepath.Join(dir, name))}
}

// TryAcquire attempts to take the exclusive lock without blocking. It
// returns false when another holder already has it, which callers treat
// as an expected outcome rather than an error.
func (l *FileLock) TryAcquire() (bool, error) {
	ok, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.flock.Path(), err)
	}
	return ok, nil
}

// Release drops the lock. Releasing a lock that is not held is a no-op.
func (l *FileLock) Release() error {
	return l.flock.Unlock()
}

// Path returns the lock file location.
func (l *FileLock) Path() string {
	return l.flock.Path()
}
