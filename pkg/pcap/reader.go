package pcap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/pcapgo"
)

// Reader reads packets from a pcap file.
type Reader struct {
	f      *os.File
	handle *pcapgo.Reader

	// Skipped counts packets the parser rejected.
	Skipped int
}

// NewReader creates a new pcap reader for the given file path.
func NewReader(filePath string) (*Reader, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	handle, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", filePath, err)
	}
	return &Reader{f: f, handle: handle}, nil
}

// Close closes the underlying file.
func (r *Reader) Close() {
	r.f.Close()
}

// ReadPackets parses every packet and sends it to out, in capture order. It
// closes out when the file is exhausted or ctx ends.
func (r *Reader) ReadPackets(ctx context.Context, out chan<- *PacketInfo) error {
	defer close(out)

	for {
		data, ci, err := r.handle.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read packet: %w", err)
		}

		packet := gopacket.NewPacket(data, r.handle.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		md := packet.Metadata()
		md.CaptureInfo = ci

		info, err := ParsePacket(packet)
		if err != nil {
			// Unsupported packet types are expected in real captures.
			r.Skipped++
			continue
		}
		select {
		case out <- info:
		case <-ctx.Done():
			log.Printf("PcapReader: stopped after context end: %v", ctx.Err())
			return ctx.Err()
		}
	}
}
