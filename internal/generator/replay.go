package generator

import (
	"context"
	"errors"
	"log"
	"time"

	"Go2NetLogger/internal/model"
	"Go2NetLogger/pkg/pcap"
)

// maxReplayGap caps the pause between two packets during paced replay.
const maxReplayGap = time.Second

// Replayer turns a capture into flow records, paced by the capture's own
// timestamps divided by the rate multiplier. A multiplier of zero or less
// replays as fast as possible.
type Replayer struct {
	path        string
	multiplier  float64
	flowTimeout time.Duration
	label       string
	tag         string

	sleep func(ctx context.Context, d time.Duration) error
}

// NewReplayer creates a replayer for the capture at path.
func NewReplayer(path string, multiplier float64, flowTimeout time.Duration, label, tag string) *Replayer {
	return &Replayer{
		path:        path,
		multiplier:  multiplier,
		flowTimeout: flowTimeout,
		label:       label,
		tag:         tag,
		sleep:       sleepCtx,
	}
}

// Run emits every flow of the capture and returns how many were emitted.
func (r *Replayer) Run(ctx context.Context, emit func(model.EventRecord) error) (int, error) {
	reader, err := pcap.NewReader(r.path)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	packets := make(chan *pcap.PacketInfo, 256)
	readErr := make(chan error, 1)
	go func() { readErr <- reader.ReadPackets(ctx, packets) }()

	table := NewFlowTable(r.label, r.tag)
	emitted := 0
	flush := func(now time.Time, timeout time.Duration) error {
		for _, rec := range table.FlushInactive(now, timeout) {
			if err := emit(rec); err != nil {
				return err
			}
			emitted++
		}
		return nil
	}

	var last time.Time
	for p := range packets {
		if !last.IsZero() && r.multiplier > 0 {
			gap := time.Duration(float64(p.Timestamp.Sub(last)) / r.multiplier)
			if gap > maxReplayGap {
				gap = maxReplayGap
			}
			if gap > 0 {
				if err := r.sleep(ctx, gap); err != nil {
					return emitted, err
				}
			}
		}
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
		// Expire idle flows before the packet can extend one of them.
		if r.flowTimeout > 0 {
			if err := flush(last, r.flowTimeout); err != nil {
				return emitted, err
			}
		}
		table.ProcessPacket(p)
	}
	if err := <-readErr; err != nil && !errors.Is(err, context.Canceled) {
		return emitted, err
	}
	if err := flush(last, 0); err != nil {
		return emitted, err
	}
	log.Printf("Generator: replayed %s, %d flows, %d packets skipped", r.path, emitted, reader.Skipped)
	return emitted, nil
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
