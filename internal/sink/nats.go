package sink

import (
	"context"
	"fmt"
	"log"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/model"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes a Notice for every committed batch.
type NATSSink struct {
	nc      *nats.Conn
	subject string
	runID   string
}

// NewNATSSink connects to the configured NATS server.
func NewNATSSink(cfg config.NATSConfig, runID string) (*NATSSink, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("ns-logger"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	log.Printf("Connected to NATS server at %s", cfg.URL)
	return &NATSSink{nc: nc, subject: cfg.Subject, runID: runID}, nil
}

// Name implements model.Sink.
func (s *NATSSink) Name() string { return "nats" }

// Write publishes the batch notice.
func (s *NATSSink) Write(ctx context.Context, b model.Batch) error {
	data, err := NoticeFor(s.runID, b).Encode()
	if err != nil {
		return err
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		return fmt.Errorf("failed to publish notice: %w", err)
	}
	return s.nc.FlushWithContext(ctx)
}

// Close drains and closes the NATS connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	err := s.nc.Drain()
	log.Println("NATS connection drained and closed.")
	return err
}
