// Package fsutil holds the small durable-write helpers shared by the side-store
// and the batch files.
package fsutil

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// TempSuffix marks files that are still being written.
const TempSuffix = ".tmp"

// SyncDir flushes directory metadata so renames and removals survive a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("failed to sync dir %s: %w", dir, err)
	}
	return nil
}

// WriteAtomic writes path through a temporary sibling: fill writes the
// content, which is synced (when fsync is set) and renamed into place. A
// reader never sees a half-written path.
func WriteAtomic(path string, fsync bool, fill func(w io.Writer) error) (err error) {
	tmp := path + TempSuffix
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	bw := bufio.NewWriterSize(f, 64*1024)
	if err = fill(bw); err != nil {
		return err
	}
	if err = bw.Flush(); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if fsync {
		if err = f.Sync(); err != nil {
			return fmt.Errorf("failed to sync %s: %w", tmp, err)
		}
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp, err)
	}
	if fsync {
		return SyncDir(filepath.Dir(path))
	}
	return nil
}

// EnsureWritable creates dir if needed and proves a file can be created in it.
func EnsureWritable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
