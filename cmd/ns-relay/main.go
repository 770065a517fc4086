package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/logging"
	"Go2NetLogger/internal/relay"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	upstream := flag.String("upstream", "", "Override relay.upstream_addr")
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
	if *upstream != "" {
		cfg.Relay.UpstreamAddr = *upstream
	}

	r, err := relay.New(cfg.Relay)
	if err != nil {
		log.Fatalf("Failed to create relay: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := r.Serve(ctx); err != nil {
		st := r.Stats()
		log.Printf("Relay failed after %d sessions, %d bytes forwarded: %v", st.Sessions, st.BytesUp, err)
		closer.Close()
		os.Exit(1)
	}
	log.Println("Relay exited.")
}
