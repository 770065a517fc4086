// Package batch turns pending records into immutable, sequence-numbered
// Parquet batch files.
package batch

import (
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pending"
)

// failureHoldOff keeps a failing disk from being hammered on every append.
// Forced flushes ignore it.
const failureHoldOff = time.Second

// Stats is a point-in-time view of the writer for health reporting.
type Stats struct {
	Pending        int       `json:"pending"`
	NextIndex      int       `json:"next_index"`
	BatchesWritten uint64    `json:"batches_written"`
	RecordsWritten uint64    `json:"records_written"`
	LastFlush      time.Time `json:"last_flush"`
	LastFlushError string    `json:"last_flush_error,omitempty"`
}

// Writer owns the pending buffer and the sequence index. Append, FlushIfDue
// and ForceFlush are serialised on one mutex, which is never held across a
// network read.
type Writer struct {
	dir       string
	batchSize int
	interval  time.Duration
	fsync     bool
	buf       *pending.Buffer
	now       func() time.Time

	mu         sync.Mutex
	nextIndex  int
	lastFlush  time.Time
	retryAfter time.Time
	onCommit   []func(model.Batch)

	// Mirrors for lock-free readers.
	statIndex atomic.Int64
	statFlush atomic.Int64
	lastErr   atomic.Value // string
	batches   atomic.Uint64
	records   atomic.Uint64

	fatal    chan error
	done     chan struct{}
	tickerWg sync.WaitGroup
	stopOnce sync.Once
}

// NewWriter creates a writer over buf whose next file gets nextIndex.
func NewWriter(cfg config.LoggerConfig, dir string, buf *pending.Buffer, nextIndex int) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", cfg.BatchSize)
	}
	interval, err := config.ParseDuration(cfg.FlushInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid flush interval: %w", err)
	}
	if interval <= 0 {
		return nil, fmt.Errorf("flush interval must be a positive duration")
	}

	w := &Writer{
		dir:       dir,
		batchSize: cfg.BatchSize,
		interval:  interval,
		fsync:     cfg.Fsync,
		buf:       buf,
		now:       time.Now,
		nextIndex: nextIndex,
		fatal:     make(chan error, 1),
		done:      make(chan struct{}),
	}
	w.lastFlush = w.now()
	w.statIndex.Store(int64(nextIndex))
	w.statFlush.Store(w.lastFlush.UnixNano())
	w.lastErr.Store("")
	return w, nil
}

// OnCommit registers fn to receive every batch after it is on disk. fn runs
// under the writer lock and must not block.
func (w *Writer) OnCommit(fn func(model.Batch)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onCommit = append(w.onCommit, fn)
}

// Append adds one record to the pending buffer. An error wrapping
// pending.ErrSideStore means the record could not be made durable.
func (w *Writer) Append(rec model.EventRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Append(rec)
}

// FlushIfDue writes batch files when the buffer holds at least a full batch
// or the flush interval has elapsed. It returns how many files were written.
func (w *Writer) FlushIfDue() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(false)
}

// ForceFlush writes everything pending regardless of thresholds. It is a
// no-op on an empty buffer.
func (w *Writer) ForceFlush() (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(true)
}

func (w *Writer) flushLocked(force bool) (int, error) {
	now := w.now()
	if w.buf.Len() == 0 {
		// The interval counts from the first record after an idle period.
		w.lastFlush = now
		return 0, nil
	}
	if !force && now.Before(w.retryAfter) {
		return 0, nil
	}

	written := 0
	for w.buf.Len() >= w.batchSize {
		if err := w.writeLocked(w.batchSize, now); err != nil {
			return written, err
		}
		written++
	}

	if n := w.buf.Len(); n > 0 && (force || now.Sub(w.lastFlush) >= w.interval) {
		if err := w.writeLocked(n, now); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// writeLocked moves the first n pending records into the next batch file.
// On failure the records stay at the head of the buffer.
func (w *Writer) writeLocked(n int, now time.Time) error {
	recs := w.buf.Head(n)
	index := w.nextIndex
	path := filepath.Join(w.dir, FileName(index))

	if err := WriteFile(path, recs, w.fsync); err != nil {
		w.retryAfter = now.Add(failureHoldOff)
		w.lastErr.Store(err.Error())
		return fmt.Errorf("batch %d: %w", index, err)
	}

	w.nextIndex++
	w.statIndex.Store(int64(w.nextIndex))
	if err := w.buf.Commit(n, w.nextIndex); err != nil {
		w.lastErr.Store(err.Error())
		return fmt.Errorf("batch %d committed but pending state not saved: %w", index, err)
	}

	w.lastFlush = now
	w.retryAfter = time.Time{}
	w.statFlush.Store(now.UnixNano())
	w.lastErr.Store("")
	w.batches.Add(1)
	w.records.Add(uint64(n))
	log.Printf("BatchWriter: wrote %d records to %s", n, filepath.Base(path))

	b := model.Batch{Index: index, Path: path, Records: recs, CommittedAt: now}
	for _, fn := range w.onCommit {
		fn(b)
	}
	return nil
}

// Start launches the ticker that drives the time threshold while no records
// arrive.
func (w *Writer) Start() {
	every := w.interval / 4
	if every > time.Second {
		every = time.Second
	}
	if every < 10*time.Millisecond {
		every = 10 * time.Millisecond
	}

	w.tickerWg.Add(1)
	go func() {
		defer w.tickerWg.Done()
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := w.FlushIfDue(); err != nil {
					w.report(err)
				}
			case <-w.done:
				return
			}
		}
	}()
	log.Printf("BatchWriter: started, batch size %d, flush interval %s, next index %d", w.batchSize, w.interval, w.NextIndex())
}

// Stop ends the ticker and performs a final forced flush.
func (w *Writer) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.tickerWg.Wait()
	_, err := w.ForceFlush()
	return err
}

// Fatal delivers side-store failures from the ticker. Nothing after such an
// error can be made durable, so the owner should shut down.
func (w *Writer) Fatal() <-chan error { return w.fatal }

func (w *Writer) report(err error) {
	if !errors.Is(err, pending.ErrSideStore) {
		log.Printf("BatchWriter: flush failed, records kept pending: %v", err)
		return
	}
	select {
	case w.fatal <- err:
	default:
	}
}

// NextIndex returns the index the next batch file will get.
func (w *Writer) NextIndex() int { return int(w.statIndex.Load()) }

// Pending returns the number of records waiting for a batch.
func (w *Writer) Pending() int { return w.buf.Len() }

// Healthy reports whether the last flush attempt succeeded.
func (w *Writer) Healthy() bool { return w.lastErr.Load().(string) == "" }

// Stats returns counters without taking the writer lock.
func (w *Writer) Stats() Stats {
	return Stats{
		Pending:        w.buf.Len(),
		NextIndex:      w.NextIndex(),
		BatchesWritten: w.batches.Load(),
		RecordsWritten: w.records.Load(),
		LastFlush:      time.Unix(0, w.statFlush.Load()).UTC(),
		LastFlushError: w.lastErr.Load().(string),
	}
}
