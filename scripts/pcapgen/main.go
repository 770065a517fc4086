package main

import (
	"flag"
	"log"
	"math/rand"
	"net"
	"os"
	"time"

	"Go2NetLogger/pkg/pcap"
)

// pattern is one kind of traffic written into the capture.
type pattern struct {
	name  string
	share float64
	write func(w *pcap.Writer, rng *rand.Rand, at time.Time) (int, error)
}

var (
	victim  = net.IPv4(172, 20, 0, 3)
	regular = net.IPv4(172, 20, 0, 2)
)

func randomSource(rng *rand.Rand) net.IP {
	return net.IPv4(172, 20, 0, byte(10+rng.Intn(240)))
}

var patterns = []pattern{
	{name: "syn_flood", share: 0.3, write: func(w *pcap.Writer, rng *rand.Rand, at time.Time) (int, error) {
		ft := pcap.FiveTuple{SrcIP: randomSource(rng), DstIP: victim, SrcPort: uint16(1024 + rng.Intn(64000)), DstPort: 80, Protocol: 6}
		return 1, w.WritePacket(pcap.PacketSpec{Timestamp: at, FiveTuple: ft, TCPFlags: pcap.FlagSYN})
	}},
	{name: "udp_flood", share: 0.2, write: func(w *pcap.Writer, rng *rand.Rand, at time.Time) (int, error) {
		ft := pcap.FiveTuple{SrcIP: randomSource(rng), DstIP: victim, SrcPort: uint16(1024 + rng.Intn(64000)), DstPort: uint16(1024 + rng.Intn(64000)), Protocol: 17}
		return 1, w.WritePacket(pcap.PacketSpec{Timestamp: at, FiveTuple: ft, Payload: 512 + rng.Intn(512)})
	}},
	{name: "web", share: 0.3, write: func(w *pcap.Writer, rng *rand.Rand, at time.Time) (int, error) {
		// A short handshake, one request and a close.
		ft := pcap.FiveTuple{SrcIP: regular, DstIP: victim, SrcPort: uint16(40000 + rng.Intn(25000)), DstPort: 80, Protocol: 6}
		steps := []pcap.PacketSpec{
			{FiveTuple: ft, TCPFlags: pcap.FlagSYN},
			{FiveTuple: ft, TCPFlags: pcap.FlagACK},
			{FiveTuple: ft, TCPFlags: pcap.FlagACK | pcap.FlagPSH, Payload: 300 + rng.Intn(1200)},
			{FiveTuple: ft, TCPFlags: pcap.FlagACK | pcap.FlagFIN},
		}
		for i, s := range steps {
			s.Timestamp = at.Add(time.Duration(i) * 20 * time.Millisecond)
			if err := w.WritePacket(s); err != nil {
				return i, err
			}
		}
		return len(steps), nil
	}},
	{name: "dns", share: 0.2, write: func(w *pcap.Writer, rng *rand.Rand, at time.Time) (int, error) {
		ft := pcap.FiveTuple{SrcIP: regular, DstIP: victim, SrcPort: uint16(40000 + rng.Intn(25000)), DstPort: 53, Protocol: 17}
		return 1, w.WritePacket(pcap.PacketSpec{Timestamp: at, FiveTuple: ft, Payload: 60 + rng.Intn(60)})
	}},
}

func pick(rng *rand.Rand) pattern {
	x := rng.Float64()
	for _, p := range patterns {
		if x < p.share {
			return p
		}
		x -= p.share
	}
	return patterns[len(patterns)-1]
}

func main() {
	outputFile := flag.String("o", "test.pcap", "Output pcap file path")
	flowCount := flag.Int("c", 1000, "Number of flows to generate")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	w, err := pcap.NewWriter(f)
	if err != nil {
		log.Fatalf("Failed to write pcap header: %v", err)
	}

	rng := rand.New(rand.NewSource(*seed))
	log.Printf("Generating %d flows into %s...", *flowCount, *outputFile)

	at := time.Now()
	packets := 0
	counts := make(map[string]int)
	for i := 0; i < *flowCount; i++ {
		p := pick(rng)
		n, err := p.write(w, rng, at)
		if err != nil {
			log.Fatalf("Failed to write packet: %v", err)
		}
		packets += n
		counts[p.name]++
		at = at.Add(time.Duration(rng.Intn(50)) * time.Millisecond)
	}

	log.Printf("Successfully generated %d flows (%d packets) into %s: %v", *flowCount, packets, *outputFile, counts)
}
