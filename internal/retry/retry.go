// Package retry implements bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"Go2NetLogger/internal/config"
)

// ErrExhausted is returned once every attempt has failed.
var ErrExhausted = errors.New("retry attempts exhausted")

// Policy retries an operation at most MaxAttempts times, doubling the pause
// between attempts from Initial up to Max.
type Policy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPolicy builds a Policy from its config section.
func NewPolicy(cfg config.RetryConfig) (*Policy, error) {
	initial, err := config.ParseDuration(cfg.InitialBackoff)
	if err != nil {
		return nil, fmt.Errorf("invalid initial_backoff: %w", err)
	}
	maxBackoff, err := config.ParseDuration(cfg.MaxBackoff)
	if err != nil {
		return nil, fmt.Errorf("invalid max_backoff: %w", err)
	}
	if cfg.MaxAttempts <= 0 {
		return nil, fmt.Errorf("max_attempts must be positive, got %d", cfg.MaxAttempts)
	}
	if maxBackoff < initial {
		maxBackoff = initial
	}
	return &Policy{MaxAttempts: cfg.MaxAttempts, Initial: initial, Max: maxBackoff}, nil
}

// Backoff returns the pause after the given failed attempt (1-based).
func (p *Policy) Backoff(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt && d < p.Max; i++ {
		d *= 2
	}
	if d > p.Max {
		d = p.Max
	}
	return d
}

// Do runs op until it returns nil. It gives up with an error wrapping both
// ErrExhausted and the last failure, or with ctx's error when ctx ends first.
func (p *Policy) Do(ctx context.Context, name string, op func(attempt int) error) error {
	sleep := p.sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op(attempt)
		if lastErr == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if attempt == p.MaxAttempts {
			break
		}
		wait := p.Backoff(attempt)
		log.Printf("Retry: %s attempt %d/%d failed: %v. Retrying in %s", name, attempt, p.MaxAttempts, lastErr, wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w after %d attempts: %w", name, ErrExhausted, p.MaxAttempts, lastErr)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
