// Package ingest accepts the newline-delimited record stream and feeds the
// batch writer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLogger/internal/batch"
	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/framer"
	"Go2NetLogger/internal/logging"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pending"
	"Go2NetLogger/internal/retry"
)

// State is the listener's position in its lifecycle.
type State int32

const (
	Idle State = iota
	Listening
	Connected
	Draining
	Terminated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Connected:
		return "connected"
	case Draining:
		return "draining"
	case Terminated:
		return "terminated"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Stats counts what the listener has seen since start.
type Stats struct {
	State       string `json:"state"`
	Connections uint64 `json:"connections"`
	Accepted    uint64 `json:"accepted"`
	Dropped     uint64 `json:"dropped"`
}

// Listener serves one connection at a time and returns to listening when it
// closes.
type Listener struct {
	addr      string
	maxLine   int
	grace     time.Duration
	writer    *batch.Writer
	sanitizer *model.Sanitizer
	accept    *retry.Policy

	state    atomic.Int32
	conns    atomic.Uint64
	accepted atomic.Uint64
	dropped  atomic.Uint64

	mu       sync.Mutex
	ln       net.Listener
	conn     net.Conn
	stopping bool
	ready    chan struct{}
}

// NewListener creates a listener that feeds w.
func NewListener(cfg config.LoggerConfig, w *batch.Writer) (*Listener, error) {
	grace, err := config.ParseDuration(cfg.GracePeriod)
	if err != nil {
		return nil, fmt.Errorf("invalid grace period: %w", err)
	}
	policy, err := retry.NewPolicy(cfg.AcceptRetry)
	if err != nil {
		return nil, fmt.Errorf("invalid accept retry: %w", err)
	}
	return &Listener{
		addr:      cfg.ListenAddr,
		maxLine:   cfg.MaxLineBytes,
		grace:     grace,
		writer:    w,
		sanitizer: model.NewSanitizer(),
		accept:    policy,
		ready:     make(chan struct{}),
	}, nil
}

// Ready is closed once the listener is bound.
func (l *Listener) Ready() <-chan struct{} { return l.ready }

// Addr returns the bound address, or nil before Ready.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// State returns the current lifecycle state.
func (l *Listener) State() State { return State(l.state.Load()) }

// Stats returns the listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		State:       l.State().String(),
		Connections: l.conns.Load(),
		Accepted:    l.accepted.Load(),
		Dropped:     l.dropped.Load(),
	}
}

// Serve binds the listen address and handles connections until ctx is
// cancelled. On cancellation it stops accepting, gives an in-flight
// connection the grace period to deliver what is buffered, flushes and
// returns nil. A side-store failure or exhausted accept retries are
// returned as errors.
func (l *Listener) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.addr, err)
	}
	l.mu.Lock()
	l.ln = ln
	l.mu.Unlock()
	l.state.Store(int32(Listening))
	close(l.ready)
	log.Printf("Listener: accepting records on %s", ln.Addr())

	stop := context.AfterFunc(ctx, l.shutdown)
	defer stop()
	defer l.state.Store(int32(Terminated))
	defer ln.Close()

	for {
		var conn net.Conn
		err := l.accept.Do(ctx, "accept", func(int) error {
			c, err := ln.Accept()
			if err != nil {
				return err
			}
			conn = c
			return nil
		})
		if err != nil {
			if ctx.Err() != nil {
				log.Println("Listener: stopped accepting")
				return nil
			}
			return err
		}

		if err := l.handle(conn); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		l.state.Store(int32(Listening))
	}
}

// shutdown closes the listening socket and bounds the in-flight read.
func (l *Listener) shutdown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stopping = true
	if l.ln != nil {
		l.ln.Close()
	}
	if l.conn != nil {
		l.conn.SetReadDeadline(time.Now().Add(l.grace))
	}
}

func (l *Listener) handle(conn net.Conn) error {
	l.mu.Lock()
	l.conn = conn
	if l.stopping {
		conn.SetReadDeadline(time.Now().Add(l.grace))
	}
	l.mu.Unlock()

	l.conns.Add(1)
	l.state.Store(int32(Connected))
	remote := conn.RemoteAddr()
	log.Printf("Listener: connected by %s", remote)

	r := framer.NewReader(conn, l.maxLine)
	var accepted, dropped, oversized int
	countOversized := func() {
		if n := r.Dropped() - oversized; n > 0 {
			oversized += n
			dropped += n
			l.dropped.Add(uint64(n))
		}
	}
	fatal := func() error {
		for {
			line, err := r.Next()
			countOversized()
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrDeadlineExceeded) {
					log.Printf("Listener: read from %s ended: %v", remote, err)
				}
				return nil
			}

			rec, err := l.sanitizer.ParseLine(line)
			if err != nil {
				dropped++
				l.dropped.Add(1)
				if r.Trailing() {
					log.Printf("Listener: discarded incomplete fragment from %s", remote)
				} else {
					logging.Debugf("Listener: dropped malformed line: %v", err)
				}
				continue
			}

			if err := l.writer.Append(rec); err != nil {
				return err
			}
			accepted++
			l.accepted.Add(1)

			if _, err := l.writer.FlushIfDue(); err != nil {
				if errors.Is(err, pending.ErrSideStore) {
					return err
				}
				log.Printf("Listener: flush failed, records kept pending: %v", err)
			}
		}
	}()

	countOversized()
	if oversized > 0 {
		log.Printf("Listener: discarded %d oversized lines from %s", oversized, remote)
	}

	l.state.Store(int32(Draining))
	conn.Close()
	l.mu.Lock()
	l.conn = nil
	l.mu.Unlock()

	if _, err := l.writer.ForceFlush(); err != nil {
		if errors.Is(err, pending.ErrSideStore) && fatal == nil {
			fatal = err
		} else {
			log.Printf("Listener: final flush failed, records kept pending: %v", err)
		}
	}
	log.Printf("Listener: connection from %s closed, %d records accepted, %d dropped", remote, accepted, dropped)
	return fatal
}
