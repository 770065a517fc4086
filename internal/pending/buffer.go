// Package pending keeps the records that are not yet in a batch file, mirrored
// to a line-delimited side-store so they survive a crash.
package pending

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"

	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pkg/fsutil"
)

// FileName is the side-store's name inside the output directory.
const FileName = "pending.jsonl"

// ErrSideStore marks a failure to persist the side-store. Records can no
// longer be made durable, so callers treat it as fatal.
var ErrSideStore = errors.New("side-store write failed")

// Header is the first line of the side-store, written as "#" + JSON.
//
// NextIndex is the batch sequence index that was current when the side-store
// was last rewritten: any batch file at or above it was committed after that
// rewrite, so its rows are still at the front of the side-store. Folded lists
// partial batch files whose rows were moved into the side-store by recovery
// and whose deletion may not have happened yet.
type Header struct {
	NextIndex int   `json:"next_index"`
	Folded    []int `json:"folded,omitempty"`
}

// Buffer is the ordered in-memory sequence of pending records. Appends and
// commits must come from a single owner; Len may be called from anywhere.
type Buffer struct {
	path  string
	fsync bool

	mu      sync.RWMutex
	records []model.EventRecord
	header  Header
	fp      *os.File // append handle; nil when the side-store must be rewritten first
}

// New returns an empty buffer whose side-store lives in dir.
func New(dir string, fsync bool) *Buffer {
	return &Buffer{path: filepath.Join(dir, FileName), fsync: fsync}
}

// Path returns the side-store location.
func (b *Buffer) Path() string { return b.path }

// Len returns the number of pending records.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// NextIndex returns the sequence index recorded in the side-store header.
func (b *Buffer) NextIndex() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.header.NextIndex
}

// Append persists rec to the side-store and then adds it to memory. A record
// is only visible in memory once its line is on disk.
func (b *Buffer) Append(rec model.EventRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.fp == nil {
		if err := b.rewriteLocked(b.records, true); err != nil {
			return err
		}
	}
	if _, err := b.fp.Write(line); err != nil {
		b.closeLocked()
		return fmt.Errorf("%w: %v", ErrSideStore, err)
	}
	if b.fsync {
		if err := b.fp.Sync(); err != nil {
			b.closeLocked()
			return fmt.Errorf("%w: %v", ErrSideStore, err)
		}
	}
	b.records = append(b.records, rec)
	return nil
}

// Head returns a copy of the first n records (all of them when n <= 0 or n
// exceeds the length) without removing anything.
func (b *Buffer) Head(n int) []model.EventRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n <= 0 || n > len(b.records) {
		n = len(b.records)
	}
	out := make([]model.EventRecord, n)
	copy(out, b.records[:n])
	return out
}

// Commit removes the first n records, which are now safely inside a batch
// file, records nextIndex in the header and rewrites the side-store to mirror
// what is left. An empty buffer has no side-store.
func (b *Buffer) Commit(n, nextIndex int) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n > len(b.records) {
		return fmt.Errorf("commit of %d records exceeds %d pending", n, len(b.records))
	}
	rest := make([]model.EventRecord, len(b.records)-n)
	copy(rest, b.records[n:])

	// Memory follows the batch file even if the rewrite fails: those rows are
	// already durable on disk and must not be written twice.
	b.records = rest
	b.header = Header{NextIndex: nextIndex}
	return b.rewriteLocked(rest, false)
}

// Reset replaces the buffer with records under header h and persists the
// result. Recovery uses it to seed the buffer before ingestion starts.
func (b *Buffer) Reset(records []model.EventRecord, h Header) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = append([]model.EventRecord(nil), records...)
	b.header = h
	return b.rewriteLocked(b.records, false)
}

// Restore reads the side-store without touching the buffer. Lines that do
// not decode, such as a torn final write, are skipped. The header is nil when
// the side-store is missing or has none.
func (b *Buffer) Restore() (*Header, []model.EventRecord, error) {
	f, err := os.Open(b.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open side-store: %w", err)
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*Header, []model.EventRecord, error) {
	var (
		h       *Header
		records []model.EventRecord
		skipped int
	)
	br := bufio.NewReader(r)
	for lineNo := 0; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			switch {
			case line[0] == '#':
				var hdr Header
				if lineNo == 0 && json.Unmarshal(line[1:], &hdr) == nil {
					h = &hdr
				} else {
					skipped++
				}
			default:
				// Every stored record carries its timestamp; a zero one means
				// the line was not written by Append.
				var rec model.EventRecord
				if json.Unmarshal(line, &rec) == nil && !rec.ObservedAt.IsZero() {
					records = append(records, rec)
				} else {
					skipped++
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return h, records, fmt.Errorf("failed to read side-store: %w", err)
		}
	}
	if skipped > 0 {
		log.Printf("Pending: skipped %d unreadable side-store lines", skipped)
	}
	return h, records, nil
}

// Close releases the side-store handle. The file stays on disk.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeLocked()
}

func (b *Buffer) closeLocked() error {
	if b.fp == nil {
		return nil
	}
	err := b.fp.Close()
	b.fp = nil
	return err
}

// rewriteLocked replaces the side-store with header plus records and leaves
// an append handle open. With no records and keepOpen unset the side-store
// is removed instead.
func (b *Buffer) rewriteLocked(records []model.EventRecord, keepOpen bool) error {
	b.closeLocked()

	if len(records) == 0 && !keepOpen {
		if err := os.Remove(b.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %v", ErrSideStore, err)
		}
		if b.fsync {
			if err := fsutil.SyncDir(filepath.Dir(b.path)); err != nil {
				return fmt.Errorf("%w: %v", ErrSideStore, err)
			}
		}
		return nil
	}

	hdr, err := json.Marshal(b.header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSideStore, err)
	}
	err = fsutil.WriteAtomic(b.path, b.fsync, func(w io.Writer) error {
		if _, err := fmt.Fprintf(w, "#%s\n", hdr); err != nil {
			return err
		}
		enc := json.NewEncoder(w)
		for i := range records {
			if err := enc.Encode(&records[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSideStore, err)
	}

	fp, err := os.OpenFile(b.path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSideStore, err)
	}
	b.fp = fp
	return nil
}
