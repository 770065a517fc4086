package batch

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pending"
	"Go2NetLogger/internal/pkg/fsutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeRecords(from, n int) []model.EventRecord {
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := make([]model.EventRecord, n)
	for i := range out {
		k := from + i
		out[i] = model.EventRecord{
			ObservedAt:    base.Add(time.Duration(k) * time.Millisecond),
			Duration:      float64(k) / 10,
			Protocol:      model.ProtocolUDP,
			SourceAddress: fmt.Sprintf("172.20.0.%d", k%250),
			DestAddress:   "172.20.0.1",
			SourcePort:    int32(1024 + k),
			DestPort:      53,
			PacketCount:   int64(k),
			ByteCount:     int64(64 * k),
			Flags:         "-",
			TOS:           0,
			ClassLabel:    "benign",
			Tag:           "normal_dns",
		}
	}
	return out
}

// utc strips location details a Parquet round trip may change.
func utc(recs []model.EventRecord) []model.EventRecord {
	out := make([]model.EventRecord, len(recs))
	for i, r := range recs {
		r.ObservedAt = r.ObservedAt.UTC()
		out[i] = r
	}
	return out
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestWriter(t *testing.T, dir string, batchSize int, interval string) (*Writer, *pending.Buffer, *fakeClock) {
	t.Helper()
	buf := pending.New(dir, false)
	t.Cleanup(func() { buf.Close() })
	cfg := config.LoggerConfig{BatchSize: batchSize, FlushInterval: interval}
	w, err := NewWriter(cfg, dir, buf, 0)
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	w.now = clock.now
	w.lastFlush = clock.t
	return w, buf, clock
}

func appendAndCheck(t *testing.T, w *Writer, recs []model.EventRecord) int {
	t.Helper()
	files := 0
	for _, r := range recs {
		require.NoError(t, w.Append(r))
		n, err := w.FlushIfDue()
		require.NoError(t, err)
		files += n
	}
	return files
}

func TestFileName_SortsNumerically(t *testing.T) {
	assert.Equal(t, "traffic_log_000007.parquet", FileName(7))
	assert.Less(t, FileName(9), FileName(10))

	for name, want := range map[string]int{"traffic_log_000012.parquet": 12, "traffic_log_1.parquet": 1} {
		got, ok := ParseIndex(name)
		assert.True(t, ok, name)
		assert.Equal(t, want, got)
	}
	for _, name := range []string{"traffic_log_000001.parquet.tmp", "traffic_log_.parquet", "traffic_log_x.parquet", "pending.jsonl", "traffic_log_000001.parquet.corrupt"} {
		_, ok := ParseIndex(name)
		assert.False(t, ok, name)
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName(0))
	recs := makeRecords(0, 25)

	require.NoError(t, WriteFile(path, recs, true))

	rows, err := CountRows(path)
	require.NoError(t, err)
	assert.Equal(t, int64(25), rows)

	got, err := ReadRecords(path)
	require.NoError(t, err)
	assert.Equal(t, utc(recs), utc(got))
}

func TestList_OrdersAndFilters(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{FileName(10), FileName(2), FileName(3) + ".tmp", "pending.jsonl", "run.lock"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, FileName(5)), 0755))

	files, err := List(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, 2, files[0].Index)
	assert.Equal(t, 10, files[1].Index)
}

func TestFlushIfDue_ExactThreshold(t *testing.T) {
	dir := t.TempDir()
	w, buf, _ := newTestWriter(t, dir, 3, "1h")
	recs := makeRecords(0, 3)

	files := appendAndCheck(t, w, recs)
	assert.Equal(t, 1, files)
	assert.Equal(t, 1, w.NextIndex())
	assert.Equal(t, 0, buf.Len())
	assert.NoFileExists(t, buf.Path())

	rows, err := CountRows(filepath.Join(dir, FileName(0)))
	require.NoError(t, err)
	assert.Equal(t, int64(3), rows)
}

func TestFlushIfDue_BelowThresholdWaits(t *testing.T) {
	dir := t.TempDir()
	w, buf, _ := newTestWriter(t, dir, 3, "1h")

	assert.Equal(t, 0, appendAndCheck(t, w, makeRecords(0, 2)))
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 0, w.NextIndex())

	files, err := List(dir)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestFlushIfDue_SizeTriggerKeepsOrder(t *testing.T) {
	dir := t.TempDir()
	w, buf, _ := newTestWriter(t, dir, 3, "1h")
	recs := makeRecords(0, 7)

	assert.Equal(t, 2, appendAndCheck(t, w, recs))
	assert.Equal(t, 1, buf.Len())
	assert.Equal(t, recs[6:], buf.Head(0))

	for i := 0; i < 2; i++ {
		got, err := ReadRecords(filepath.Join(dir, FileName(i)))
		require.NoError(t, err)
		assert.Equal(t, utc(recs[i*3:i*3+3]), utc(got))
	}
}

func TestFlushIfDue_BurstWritesFullChunks(t *testing.T) {
	dir := t.TempDir()
	w, buf, _ := newTestWriter(t, dir, 4, "1h")
	for _, r := range makeRecords(0, 10) {
		require.NoError(t, w.Append(r))
	}

	n, err := w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 2, w.NextIndex())
}

func TestFlushIfDue_TimeTrigger(t *testing.T) {
	dir := t.TempDir()
	w, buf, clock := newTestWriter(t, dir, 100, "30s")
	appendAndCheck(t, w, makeRecords(0, 2))

	clock.advance(29 * time.Second)
	n, err := w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clock.advance(time.Second)
	n, err = w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, buf.Len())

	rows, err := CountRows(filepath.Join(dir, FileName(0)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), rows)
}

func TestFlushIfDue_IdleBufferRestartsInterval(t *testing.T) {
	dir := t.TempDir()
	w, _, clock := newTestWriter(t, dir, 100, "30s")

	clock.advance(time.Hour)
	n, err := w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, w.Append(makeRecords(0, 1)[0]))
	n, err = w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a lone record after an idle hour is not yet due")
}

func TestForceFlush(t *testing.T) {
	dir := t.TempDir()
	w, buf, _ := newTestWriter(t, dir, 100, "1h")

	n, err := w.ForceFlush()
	require.NoError(t, err)
	assert.Equal(t, 0, n, "empty flush is a no-op")
	assert.Equal(t, 0, w.NextIndex())

	appendAndCheck(t, w, makeRecords(0, 5))
	n, err = w.ForceFlush()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 1, w.NextIndex())
	assert.NoFileExists(t, buf.Path())
}

func TestFlush_FailureKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	w, buf, clock := newTestWriter(t, dir, 2, "1h")

	// A directory where the temp file should go makes the write fail.
	blocker := filepath.Join(dir, FileName(0)+".tmp")
	require.NoError(t, os.Mkdir(blocker, 0755))

	recs := makeRecords(0, 2)
	require.NoError(t, w.Append(recs[0]))
	require.NoError(t, w.Append(recs[1]))
	_, err := w.FlushIfDue()
	require.Error(t, err)
	assert.False(t, w.Healthy())
	assert.NotEmpty(t, w.Stats().LastFlushError)
	assert.Equal(t, 2, buf.Len())
	assert.Equal(t, 0, w.NextIndex())

	// Held off until the pause passes.
	n, err := w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, os.Remove(blocker))
	clock.advance(2 * failureHoldOff)
	n, err = w.FlushIfDue()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, w.Healthy())

	got, err := ReadRecords(filepath.Join(dir, FileName(0)))
	require.NoError(t, err)
	assert.Equal(t, utc(recs), utc(got))
}

func TestOnCommit_ReceivesBatch(t *testing.T) {
	dir := t.TempDir()
	w, _, _ := newTestWriter(t, dir, 2, "1h")

	var got []model.Batch
	w.OnCommit(func(b model.Batch) { got = append(got, b) })

	recs := makeRecords(0, 4)
	appendAndCheck(t, w, recs)

	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Index)
	assert.Equal(t, 1, got[1].Index)
	assert.Equal(t, recs[2:], got[1].Records)
	assert.Equal(t, filepath.Join(dir, FileName(1)), got[1].Path)

	st := w.Stats()
	assert.Equal(t, uint64(2), st.BatchesWritten)
	assert.Equal(t, uint64(4), st.RecordsWritten)
	assert.Equal(t, 2, st.NextIndex)
}

func TestStartStop_FinalFlush(t *testing.T) {
	dir := t.TempDir()
	buf := pending.New(dir, false)
	defer buf.Close()
	w, err := NewWriter(config.LoggerConfig{BatchSize: 100, FlushInterval: "1h"}, dir, buf, 4)
	require.NoError(t, err)

	w.Start()
	require.NoError(t, w.Append(makeRecords(0, 1)[0]))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop(), "second stop is harmless")

	assert.FileExists(t, filepath.Join(dir, FileName(4)))
	assert.Equal(t, 5, w.NextIndex())
}

func TestStart_TickerDrivesTimeTrigger(t *testing.T) {
	dir := t.TempDir()
	buf := pending.New(dir, false)
	defer buf.Close()
	w, err := NewWriter(config.LoggerConfig{BatchSize: 100, FlushInterval: "40ms"}, dir, buf, 0)
	require.NoError(t, err)

	require.NoError(t, w.Append(makeRecords(0, 1)[0]))
	w.Start()
	defer w.Stop()

	require.Eventually(t, func() bool { return w.NextIndex() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, w.Pending())
}

func TestStart_SideStoreFailureReachesFatal(t *testing.T) {
	dir := t.TempDir()
	buf := pending.New(dir, false)
	defer buf.Close()
	w, err := NewWriter(config.LoggerConfig{BatchSize: 2, FlushInterval: "1h"}, dir, buf, 0)
	require.NoError(t, err)

	recs := makeRecords(0, 3)
	for _, r := range recs {
		require.NoError(t, w.Append(r))
	}
	// The batch file lands but the side-store rewrite that follows cannot.
	require.NoError(t, os.Mkdir(filepath.Join(dir, pending.FileName+fsutil.TempSuffix), 0755))

	w.Start()
	select {
	case err := <-w.Fatal():
		assert.ErrorIs(t, err, pending.ErrSideStore)
	case <-time.After(5 * time.Second):
		t.Fatal("side-store failure was not reported")
	}

	assert.False(t, w.Healthy())
	assert.Equal(t, 1, w.NextIndex())
	assert.Equal(t, 1, w.Pending())
	got, err := ReadRecords(filepath.Join(dir, FileName(0)))
	require.NoError(t, err)
	assert.Equal(t, utc(recs[:2]), utc(got))

	require.NoError(t, os.Remove(filepath.Join(dir, pending.FileName+fsutil.TempSuffix)))
	require.NoError(t, w.Stop())
	assert.Equal(t, 2, w.NextIndex())
	assert.Equal(t, 0, w.Pending())
}
