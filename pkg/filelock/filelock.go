// Package filelock provides advisory, process-wide file locking used to
// serialize shared-root container operations (spec §4.2). It is a thin wrapper over github.com/gofrs/flock, polling acquire
// with a caller-supplied timeout, grounded on the original's fcntl.lockf
// based Mutex class in util.py.
package filelock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval is used when Acquire's pollInterval argument is <= 0.
const DefaultPollInterval = 200 * time.Millisecond

// Lock wraps a single advisory lock file. The zero value is not usable; build
// one with Acquire.
type Lock struct {
	flock *flock.Flock
	path  string
	log   *logrus.Entry
}

// Acquire creates (if necessary) and locks the file at path, polling every
// pollInterval until either the lock is obtained or timeoutSecs elapses. A
// negative timeoutSecs waits forever. The lock file itself is never removed:
// only the advisory lock on it is released, matching the original's
// semantics of a persistent, reusable lock file per box/shared-root.
func Acquire(log *logrus.Entry, path string, timeoutSecs float64, pollInterval time.Duration) (*Lock, error) {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("creating directory for lock file %q: %w", path, err)
	}

	fl := flock.New(path)

	if timeoutSecs < 0 {
		if err := fl.Lock(); err != nil {
			return nil, fmt.Errorf("acquiring lock %q: %w", path, err)
		}
		return &Lock{flock: fl, path: path, log: log}, nil
	}

	ok, err := fl.TryLock()
	if err == nil && !ok && timeoutSecs > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs*float64(time.Second)))
		defer cancel()
		ok, err = fl.TryLockContext(ctx, pollInterval)
		if errors.Is(err, context.DeadlineExceeded) {
			ok, err = false, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("timed out after %.1fs waiting for lock %q", timeoutSecs, path)
	}
	return &Lock{flock: fl, path: path, log: log}, nil
}

// Release unlocks the file. It is safe to call multiple times.
func (l *Lock) Release() error {
	if l == nil || l.flock == nil {
		return nil
	}
	if l.log != nil {
		l.log.Debugf("releasing lock %q", l.path)
	}
	return l.flock.Unlock()
}

// Path returns the underlying lock file's path.
func (l *Lock) Path() string { return l.path }
