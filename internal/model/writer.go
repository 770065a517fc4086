package model

import (
	"context"
	"time"
)

// Batch describes one batch file after it has been committed to disk.
type Batch struct {
	Index       int
	Path        string
	Records     []EventRecord
	CommittedAt time.Time
}

// Sink defines a generic interface for mirroring committed batches to a
// downstream store. The batch file on disk stays the source of truth; a sink
// failure never un-commits a batch.
type Sink interface {
	// Write takes a committed batch and forwards it.
	Write(ctx context.Context, batch Batch) error

	// Name identifies the sink in logs.
	Name() string

	// Close releases the sink's connections.
	Close() error
}
