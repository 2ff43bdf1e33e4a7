package index

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ManifestLock is a cross-process advisory lock guarding the manifest
// file's write-temp-then-rename. Two memosearch processes sharing one
// index_base_dir serialize their manifest writes through it; within a
// single process the Manifest's own mutex already does.
type ManifestLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewManifestLock creates the lock for the manifest at manifestPath. The
// lock file lives beside the manifest as <manifest>.lock.
func NewManifestLock(manifestPath string) *ManifestLock {
	lockPath := manifestPath + ".lock"
	return &ManifestLock{
		path:  lockPath,
		flock: flock.New(lockPath),
	}
}

// Lock acquires the lock, blocking until it is available. The lock file
// and its directory are created if missing.
func (l *ManifestLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}
	if err := l.flock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire manifest lock: %w", err)
	}
	l.locked = true
	return nil
}

// TryLock attempts to acquire the lock without blocking. Returns true if
// acquired, false if another process holds it.
func (l *ManifestLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to acquire manifest lock: %w", err)
	}
	if acquired {
		l.locked = true
	}
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked ManifestLock.
func (l *ManifestLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release manifest lock: %w", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *ManifestLock) Path() string {
	return l.path
}

// IsLocked reports whether this process holds the lock.
func (l *ManifestLock) IsLocked() bool {
	return l.locked
}
