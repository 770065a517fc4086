package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLogger/internal/retry"
)

// Sender writes newline-delimited JSON to one TCP target, reconnecting
// under a bounded retry policy. It is safe for concurrent use.
type Sender struct {
	addr    string
	timeout time.Duration
	policy  *retry.Policy

	mu   sync.Mutex
	conn net.Conn

	sent atomic.Uint64
}

// NewSender creates a sender. No connection is made until the first Send.
func NewSender(addr string, dialTimeout time.Duration, policy *retry.Policy) *Sender {
	return &Sender{addr: addr, timeout: dialTimeout, policy: policy}
}

// Sent returns the number of records written.
func (s *Sender) Sent() uint64 { return s.sent.Load() }

// Send encodes v as one line. A failed write drops the connection and the
// line is retried on a new one.
func (s *Sender) Send(ctx context.Context, v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	err = s.policy.Do(ctx, "send to "+s.addr, func(int) error {
		if s.conn == nil {
			d := net.Dialer{Timeout: s.timeout}
			c, err := d.DialContext(ctx, "tcp", s.addr)
			if err != nil {
				return err
			}
			log.Printf("Generator: connected to %s", s.addr)
			s.conn = c
		}
		conn := s.conn
		stop := context.AfterFunc(ctx, func() { conn.SetWriteDeadline(time.Now()) })
		defer stop()
		if _, err := conn.Write(line); err != nil {
			s.conn.Close()
			s.conn = nil
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

// Close closes the current connection, if any.
func (s *Sender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
