// Package relay forwards the generator's byte stream to the logger unchanged.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/retry"
)

// Stats counts relay sessions and forwarded bytes.
type Stats struct {
	Sessions   uint64 `json:"sessions"`
	BytesUp    uint64 `json:"bytes_up"`
	BytesDown  uint64 `json:"bytes_down"`
	DialErrors uint64 `json:"dial_errors"`
}

// Relay accepts inbound connections and pipes each one to the upstream
// address. Upstream dials follow a bounded retry policy; running out of
// attempts stops the relay with an error wrapping retry.ErrExhausted.
type Relay struct {
	listenAddr  string
	upstream    string
	dialTimeout time.Duration
	policy      *retry.Policy

	sessions   atomic.Uint64
	bytesUp    atomic.Uint64
	bytesDown  atomic.Uint64
	dialErrors atomic.Uint64

	mu    sync.Mutex
	ln    net.Listener
	ready chan struct{}
}

// New creates a relay from its config section.
func New(cfg config.RelayConfig) (*Relay, error) {
	timeout, err := config.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial timeout: %w", err)
	}
	policy, err := retry.NewPolicy(cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("invalid relay retry: %w", err)
	}
	if cfg.UpstreamAddr == "" {
		return nil, errors.New("relay upstream address is empty")
	}
	return &Relay{
		listenAddr:  cfg.ListenAddr,
		upstream:    cfg.UpstreamAddr,
		dialTimeout: timeout,
		policy:      policy,
		ready:       make(chan struct{}),
	}, nil
}

// Ready is closed once the relay is bound.
func (r *Relay) Ready() <-chan struct{} { return r.ready }

// Addr returns the bound address, or nil before Ready.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ln == nil {
		return nil
	}
	return r.ln.Addr()
}

// Stats returns the relay counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Sessions:   r.sessions.Load(),
		BytesUp:    r.bytesUp.Load(),
		BytesDown:  r.bytesDown.Load(),
		DialErrors: r.dialErrors.Load(),
	}
}

// Serve accepts connections until ctx ends or an upstream dial exhausts its
// retries. Cancellation returns nil.
func (r *Relay) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", r.listenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", r.listenAddr, err)
	}
	r.mu.Lock()
	r.ln = ln
	r.mu.Unlock()
	close(r.ready)
	log.Printf("Relay: listening on %s, forwarding to %s", ln.Addr(), r.upstream)

	parent := ctx
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	var wg sync.WaitGroup
	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			acceptErr = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.session(ctx, conn); err != nil && errors.Is(err, retry.ErrExhausted) {
				cancel(err)
			}
		}()
	}

	cancel(nil)
	wg.Wait()
	if cause := context.Cause(ctx); errors.Is(cause, retry.ErrExhausted) {
		return cause
	}
	if parent.Err() != nil {
		log.Println("Relay: stopped")
		return nil
	}
	return fmt.Errorf("relay accept failed: %w", acceptErr)
}

// session pipes one inbound connection to a freshly dialled upstream.
func (r *Relay) session(ctx context.Context, in net.Conn) error {
	defer in.Close()
	r.sessions.Add(1)
	log.Printf("Relay: session from %s", in.RemoteAddr())

	var up net.Conn
	err := r.policy.Do(ctx, "dial "+r.upstream, func(int) error {
		d := net.Dialer{Timeout: r.dialTimeout}
		c, err := d.DialContext(ctx, "tcp", r.upstream)
		if err != nil {
			r.dialErrors.Add(1)
			return err
		}
		up = c
		return nil
	})
	if err != nil {
		if errors.Is(err, retry.ErrExhausted) {
			log.Printf("Relay: giving up on %s: %v", r.upstream, err)
		}
		return err
	}
	defer up.Close()

	stop := context.AfterFunc(ctx, func() {
		in.Close()
		up.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		n, _ := io.Copy(up, in)
		r.bytesUp.Add(uint64(n))
		closeWrite(up)
	}()
	go func() {
		defer wg.Done()
		n, _ := io.Copy(in, up)
		r.bytesDown.Add(uint64(n))
		closeWrite(in)
	}()
	wg.Wait()
	log.Printf("Relay: session from %s closed", in.RemoteAddr())
	return nil
}

// closeWrite half-closes c so the peer sees EOF after the last byte.
func closeWrite(c net.Conn) {
	if hc, ok := c.(interface{ CloseWrite() error }); ok {
		hc.CloseWrite()
		return
	}
	c.Close()
}
