//go:build !unix

package fsutil

// DirLock is a no-op where flock is unavailable.
type DirLock struct{}

// LockDir always succeeds on this platform.
func LockDir(dir string) (*DirLock, error) { return &DirLock{}, nil }

// Unlock does nothing.
func (l *DirLock) Unlock() error { return nil }
