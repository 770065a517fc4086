// Package sink mirrors committed batches to optional downstream stores.
package sink

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"Go2NetLogger/internal/model"
)

const writeTimeout = 30 * time.Second

// Stats counts dispatcher outcomes per batch and sink.
type Stats struct {
	Sent    uint64 `json:"sent"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
}

// Dispatcher hands committed batches to every sink on its own goroutine so
// a slow sink never stalls ingestion.
type Dispatcher struct {
	sinks []model.Sink
	queue chan model.Batch

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	sent    atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

// NewDispatcher creates a dispatcher with room for queueSize batches.
func NewDispatcher(queueSize int, sinks ...model.Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 16 // Default value
	}
	return &Dispatcher{sinks: sinks, queue: make(chan model.Batch, queueSize)}
}

// Start launches the worker goroutine.
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for b := range d.queue {
			d.deliver(b)
		}
	}()
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	log.Printf("SinkDispatcher: started with sinks %v", names)
}

func (d *Dispatcher) deliver(b model.Batch) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := s.Write(ctx, b)
		cancel()
		if err != nil {
			d.failed.Add(1)
			log.Printf("SinkDispatcher: %s failed for batch %d: %v", s.Name(), b.Index, err)
			continue
		}
		d.sent.Add(1)
	}
}

// Enqueue queues a batch without blocking. When the queue is full the batch
// is dropped; the file on disk is unaffected.
func (d *Dispatcher) Enqueue(b model.Batch) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	select {
	case d.queue <- b:
	default:
		d.dropped.Add(1)
		log.Printf("SinkDispatcher: queue is full, dropping notice for batch %d", b.Index)
	}
}

// Stop drains the queue and closes every sink.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
	for _, s := range d.sinks {
		if err := s.Close(); err != nil {
			log.Printf("SinkDispatcher: error closing %s: %v", s.Name(), err)
		}
	}
	log.Println("SinkDispatcher stopped.")
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{Sent: d.sent.Load(), Failed: d.failed.Load(), Dropped: d.dropped.Load()}
}
