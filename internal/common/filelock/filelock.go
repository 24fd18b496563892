// Package filelock guards a storage root against concurrent use by more than
// one process.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the guarded directory.
const LockFileName = ".kaismonitor.lock"

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("storage directory is locked by another process")

// FileLock provides cross-process locking of a directory.
type FileLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// New creates a lock for dir. Nothing is acquired yet.
func New(dir string) *FileLock {
	path := filepath.Join(dir, LockFileName)
	return &FileLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking.
// Returns true if the lock was acquired, false if it's held by another process.
func (l *FileLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Acquire is TryLock that reports contention as ErrLocked.
func (l *FileLock) Acquire() error {
	ok, err := l.TryLock()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLocked, l.path)
	}
	return nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *FileLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// Path returns the path to the lock file.
func (l *FileLock) Path() string {
	return l.path
}
