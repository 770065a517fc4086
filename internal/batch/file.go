package batch

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pkg/fsutil"

	"github.com/parquet-go/parquet-go"
)

const (
	filePrefix = "traffic_log_"
	fileSuffix = ".parquet"

	// CorruptSuffix is appended to batch files that cannot be opened.
	CorruptSuffix = ".corrupt"
)

// FileName returns the batch file name for index. The fixed width keeps
// lexical and numeric order the same.
func FileName(index int) string {
	return fmt.Sprintf("%s%06d%s", filePrefix, index, fileSuffix)
}

// ParseIndex extracts the sequence index from a batch file name.
func ParseIndex(name string) (int, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return 0, false
	}
	digits := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
	if digits == "" {
		return 0, false
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FileInfo locates one batch file.
type FileInfo struct {
	Index int
	Path  string
}

// List returns the batch files in dir by ascending index.
func List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if idx, ok := ParseIndex(e.Name()); ok {
			files = append(files, FileInfo{Index: idx, Path: filepath.Join(dir, e.Name())})
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Index < files[j].Index })
	return files, nil
}

// CountRows reads the row count from the file footer without decoding rows.
func CountRows(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	pf, err := parquet.OpenFile(f, st.Size())
	if err != nil {
		return 0, fmt.Errorf("failed to open parquet file %s: %w", path, err)
	}
	return pf.NumRows(), nil
}

// ReadRecords decodes every row of a batch file.
func ReadRecords(path string) ([]model.EventRecord, error) {
	rows, err := parquet.ReadFile[model.EventRecord](path)
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet file %s: %w", path, err)
	}
	return rows, nil
}

// WriteFile writes records as one batch file at path. The file only appears
// under its final name once it is complete.
func WriteFile(path string, records []model.EventRecord, fsync bool) error {
	return fsutil.WriteAtomic(path, fsync, func(w io.Writer) error {
		pw := parquet.NewGenericWriter[model.EventRecord](w, parquet.Compression(&parquet.Snappy))
		if _, err := pw.Write(records); err != nil {
			return fmt.Errorf("failed to write rows: %w", err)
		}
		if err := pw.Close(); err != nil {
			return fmt.Errorf("failed to finish parquet file: %w", err)
		}
		return nil
	})
}
