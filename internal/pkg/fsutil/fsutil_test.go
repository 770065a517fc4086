package fsutil

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")

	err := WriteAtomic(path, true, func(w io.Writer) error {
		_, err := fmt.Fprint(w, "hello")
		return err
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
	assert.NoFileExists(t, path+TempSuffix)
}

func TestWriteAtomic_FailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0644))

	boom := errors.New("boom")
	err := WriteAtomic(path, false, func(w io.Writer) error { return boom })
	assert.ErrorIs(t, err, boom)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
	assert.NoFileExists(t, path+TempSuffix)
}

func TestEnsureWritable(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, EnsureWritable(dir))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	file := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	assert.Error(t, EnsureWritable(filepath.Join(file, "sub")))
}

func TestLockDir_Exclusive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("flock not available")
	}
	dir := t.TempDir()
	l, err := LockDir(dir)
	require.NoError(t, err)

	_, err = LockDir(dir)
	assert.Error(t, err, "second lock on the same dir must fail")

	require.NoError(t, l.Unlock())
	l2, err := LockDir(dir)
	require.NoError(t, err)
	require.NoError(t, l2.Unlock())
}
