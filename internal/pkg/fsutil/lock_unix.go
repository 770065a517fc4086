//go:build unix

package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// DirLock is an exclusive advisory lock on a directory.
type DirLock struct {
	fp *os.File
}

// LockDir takes run.lock inside dir so no second writer can share it.
func LockDir(dir string) (*DirLock, error) {
	fp, err := os.OpenFile(filepath.Join(dir, "run.lock"), os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("could not create lock file: %w", err)
	}
	if err := syscall.Flock(int(fp.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		fp.Close()
		return nil, fmt.Errorf("another writer is already running in %s: %w", dir, err)
	}
	return &DirLock{fp: fp}, nil
}

// Unlock releases the lock.
func (l *DirLock) Unlock() error {
	if l == nil || l.fp == nil {
		return nil
	}
	syscall.Flock(int(l.fp.Fd()), syscall.LOCK_UN)
	err := l.fp.Close()
	l.fp = nil
	return err
}
