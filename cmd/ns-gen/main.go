package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/generator"
	"Go2NetLogger/internal/logging"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	mode := flag.String("mode", "", "Override generator.mode: 'synth' or 'replay'")
	pcapFile := flag.String("pcap", "", "Capture to replay (implies -mode replay)")
	target := flag.String("target", "", "Override generator.target_addr")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	gcfg := cfg.Generator
	if *pcapFile != "" {
		gcfg.PcapFile = *pcapFile
		gcfg.Mode = generator.ModeReplay
	}
	if *mode != "" {
		gcfg.Mode = *mode
	}
	if *target != "" {
		gcfg.TargetAddr = *target
	}

	gen, err := generator.New(gcfg)
	if err != nil {
		log.Fatalf("Failed to create generator: %v", err)
	}
	log.Printf("Generator: mode %s, target %s", gcfg.Mode, gcfg.TargetAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := gen.Run(ctx); err != nil {
		log.Printf("Generator failed after %d records: %v", gen.Sent(), err)
		closer.Close()
		os.Exit(1)
	}
	log.Printf("Generator stopped, %d records sent.", gen.Sent())
}
