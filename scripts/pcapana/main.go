package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"Go2NetLogger/internal/generator"
	"Go2NetLogger/pkg/pcap"
)

func main() {
	packetsToShow := flag.Int("n", 5, "Number of packets to print")
	flowTimeout := flag.Duration("flow-timeout", 10*time.Second, "Idle time that ends a flow")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Println("Usage: go run ./scripts/pcapana/main.go [-n 5] <path_to_pcap_file>")
		os.Exit(1)
	}
	pcapFilePath := flag.Arg(0)

	reader, err := pcap.NewReader(pcapFilePath)
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()

	out := make(chan *pcap.PacketInfo, 256)
	go func() {
		if err := reader.ReadPackets(context.Background(), out); err != nil {
			log.Printf("Read stopped: %v", err)
		}
	}()

	table := generator.NewFlowTable("background", "pcap_replay")
	i, flows := 0, 0
	var last time.Time
	for info := range out {
		if i < *packetsToShow {
			fmt.Printf("[%s] %s:%d -> %s:%d proto=%d len=%d flags=%s tos=%d\n",
				info.Timestamp.Format("15:04:05.000"),
				info.FiveTuple.SrcIP, info.FiveTuple.SrcPort,
				info.FiveTuple.DstIP, info.FiveTuple.DstPort,
				info.FiveTuple.Protocol, info.Length,
				pcap.FormatFlags(info.TCPFlags), info.TOS,
			)
		}
		i++
		if info.Timestamp.After(last) {
			last = info.Timestamp
		}
		for _, rec := range table.FlushInactive(last, *flowTimeout) {
			flows++
			if flows <= *packetsToShow {
				fmt.Println("flow:", rec)
			}
		}
		table.ProcessPacket(info)
	}
	flows += len(table.FlushInactive(last, 0))

	fmt.Printf("\n%d packets parsed, %d skipped, %d flows\n", i, reader.Skipped, flows)
}
