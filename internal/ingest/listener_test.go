package ingest

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"Go2NetLogger/internal/batch"
	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/pending"
	"Go2NetLogger/internal/pkg/fsutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	dir    string
	buf    *pending.Buffer
	writer *batch.Writer
	ln     *Listener
	cancel context.CancelFunc
	done   chan error
}

func startListener(t *testing.T, batchSize int) *harness {
	t.Helper()
	return startListenerWith(t, func(cfg *config.LoggerConfig) { cfg.BatchSize = batchSize })
}

func startListenerWith(t *testing.T, tweak func(cfg *config.LoggerConfig)) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default().Logger
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.FlushInterval = "1h"
	cfg.GracePeriod = "200ms"
	cfg.Fsync = false
	tweak(&cfg)

	buf := pending.New(dir, false)
	w, err := batch.NewWriter(cfg, dir, buf, 0)
	require.NoError(t, err)
	ln, err := NewListener(cfg, w)
	require.NoError(t, err)
	assert.Equal(t, Idle, ln.State())

	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{dir: dir, buf: buf, writer: w, ln: ln, cancel: cancel, done: make(chan error, 1)}
	go func() { h.done <- ln.Serve(ctx) }()

	select {
	case <-ln.Ready():
	case err := <-h.done:
		t.Fatalf("listener exited early: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("listener not ready")
	}
	t.Cleanup(func() {
		cancel()
		<-h.done
		buf.Close()
	})
	return h
}

func (h *harness) dial(t *testing.T) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", h.ln.Addr().String())
	require.NoError(t, err)
	return conn
}

func (h *harness) waitIdle(t *testing.T, conns uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.ln.Stats().Connections == conns && h.ln.State() == Listening
	}, 3*time.Second, 5*time.Millisecond)
}

func validLine(i int) string {
	return fmt.Sprintf(`{"timestamp": %d, "source_ip": "172.20.0.2", "dest_port": %d, "protocol": "TCP", "traffic_class": "malicious", "attack_type": "ddos_http"}`+"\n", 1700000000+i, 80+i)
}

func rowsAt(t *testing.T, dir string, index int) int64 {
	t.Helper()
	rows, err := batch.CountRows(filepath.Join(dir, batch.FileName(index)))
	require.NoError(t, err)
	return rows
}

func TestListener_MalformedLinesAreCountedNotFatal(t *testing.T) {
	h := startListener(t, 100)
	conn := h.dial(t)

	malformed := []string{"not json\n", "[1,2,3]\n", "{\"cut\": \n", "42\n"}
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteString(validLine(i))
		if i < len(malformed) {
			sb.WriteString(malformed[i])
		}
	}
	_, err := conn.Write([]byte(sb.String()))
	require.NoError(t, err)

	// The connection survives the bad lines.
	require.Eventually(t, func() bool { return h.ln.Stats().Accepted == 6 }, 3*time.Second, 5*time.Millisecond)
	_, err = conn.Write([]byte(validLine(6)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ln.Stats().Accepted == 7 }, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, Connected, h.ln.State())

	require.NoError(t, conn.Close())
	h.waitIdle(t, 1)

	st := h.ln.Stats()
	assert.Equal(t, uint64(7), st.Accepted)
	assert.Equal(t, uint64(4), st.Dropped)
	assert.Equal(t, int64(7), rowsAt(t, h.dir, 0))
}

func TestListener_EndToEndThresholdThree(t *testing.T) {
	h := startListener(t, 3)
	conn := h.dial(t)

	for i := 0; i < 5; i++ {
		_, err := conn.Write([]byte(validLine(i)))
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return h.ln.Stats().Accepted == 5 && h.writer.NextIndex() == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), rowsAt(t, h.dir, 0))
	assert.Equal(t, 2, h.buf.Len())

	require.NoError(t, conn.Close())
	h.waitIdle(t, 1)

	assert.Equal(t, int64(2), rowsAt(t, h.dir, 1))
	assert.Equal(t, 2, h.writer.NextIndex())
	assert.Equal(t, 0, h.buf.Len())
	assert.NoFileExists(t, h.buf.Path())
}

func TestListener_TrailingFragment(t *testing.T) {
	h := startListener(t, 100)

	conn := h.dial(t)
	_, err := conn.Write([]byte(validLine(0) + `{"source_port": 5}`))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	h.waitIdle(t, 1)
	assert.Equal(t, uint64(2), h.ln.Stats().Accepted)

	conn = h.dial(t)
	_, err = conn.Write([]byte(validLine(1) + `{"source_port": `))
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	h.waitIdle(t, 2)

	st := h.ln.Stats()
	assert.Equal(t, uint64(3), st.Accepted)
	assert.Equal(t, uint64(1), st.Dropped)
	assert.Equal(t, int64(2), rowsAt(t, h.dir, 0))
	assert.Equal(t, int64(1), rowsAt(t, h.dir, 1))
}

func TestListener_SequentialConnections(t *testing.T) {
	h := startListener(t, 100)
	for c := 0; c < 3; c++ {
		conn := h.dial(t)
		_, err := conn.Write([]byte(validLine(c)))
		require.NoError(t, err)
		require.NoError(t, conn.Close())
		h.waitIdle(t, uint64(c+1))
	}
	assert.Equal(t, 3, h.writer.NextIndex())
}

func TestListener_ShutdownDrainsInFlightConnection(t *testing.T) {
	h := startListener(t, 100)
	conn := h.dial(t)
	defer conn.Close()

	_, err := conn.Write([]byte(validLine(0) + validLine(1)))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return h.ln.Stats().Accepted == 2 }, 3*time.Second, 5*time.Millisecond)

	h.cancel()
	select {
	case err := <-h.done:
		require.NoError(t, err)
		h.done <- nil
	case <-time.After(3 * time.Second):
		t.Fatal("listener did not stop within the grace period")
	}

	assert.Equal(t, Terminated, h.ln.State())
	assert.Equal(t, int64(2), rowsAt(t, h.dir, 0))
	assert.Equal(t, 0, h.buf.Len())
}

func TestListener_OversizedLinesCountedWhileConnected(t *testing.T) {
	h := startListenerWith(t, func(cfg *config.LoggerConfig) {
		cfg.BatchSize = 100
		cfg.MaxLineBytes = 512
	})
	conn := h.dial(t)
	defer conn.Close()

	huge := `{"pad": "` + strings.Repeat("x", 2000) + `"}` + "\n"
	_, err := conn.Write([]byte(huge + validLine(0)))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := h.ln.Stats()
		return st.Accepted == 1 && st.Dropped == 1
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, Connected, h.ln.State())

	require.NoError(t, conn.Close())
	h.waitIdle(t, 1)
	assert.Equal(t, uint64(1), h.ln.Stats().Dropped)
}

func TestListener_SideStoreFailureStopsServe(t *testing.T) {
	h := startListener(t, 100)
	// A directory in place of the temp file makes every side-store rewrite fail.
	require.NoError(t, os.Mkdir(filepath.Join(h.dir, pending.FileName+fsutil.TempSuffix), 0755))

	conn := h.dial(t)
	defer conn.Close()
	_, err := conn.Write([]byte(validLine(0)))
	require.NoError(t, err)

	select {
	case err := <-h.done:
		require.Error(t, err)
		assert.ErrorIs(t, err, pending.ErrSideStore)
		h.done <- err
	case <-time.After(3 * time.Second):
		t.Fatal("listener kept serving after a side-store failure")
	}
	assert.Equal(t, Terminated, h.ln.State())
	assert.Equal(t, uint64(0), h.ln.Stats().Accepted)
	assert.Equal(t, 0, h.buf.Len())
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Idle: "idle", Listening: "listening", Connected: "connected", Draining: "draining", Terminated: "terminated"} {
		assert.Equal(t, want, s.String())
	}
}
