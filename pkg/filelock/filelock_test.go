package filelock

import (
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	return logrus.NewEntry(logrus.New())
}

func TestAcquireZeroTimeoutSucceedsWhenFree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	l, err := Acquire(testLog(), path, 0, 0)
	require.NoError(t, err)
	require.NoError(t, l.Release())
}

func TestAcquireZeroTimeoutFailsWhenHeld(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	holder, err := Acquire(testLog(), path, -1, 0)
	require.NoError(t, err)
	defer holder.Release()

	_, err = Acquire(testLog(), path, 0, 0)
	assert.Error(t, err, "a zero-second timeout must fail immediately when the lock is already held")
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	l, err := Acquire(testLog(), path, -1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	require.NoError(t, l.Release())
}

func TestAcquireDoesNotRemoveLockFileOnRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.lock")
	l, err := Acquire(testLog(), path, -1, 0)
	require.NoError(t, err)
	require.NoError(t, l.Release())
	assert.FileExists(t, path, "the lock file itself must persist across release")
}
