package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/sink"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	url := flag.String("url", "", "Override sinks.nats.url")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	natsCfg := cfg.Sinks.NATS
	if *url != "" {
		natsCfg.URL = *url
	}

	sub, err := sink.NewSubscriber(natsCfg)
	if err != nil {
		log.Fatalf("Failed to create subscriber: %v", err)
	}
	defer sub.Close()

	if err := sub.Start(func(n sink.Notice) {
		fmt.Println(n)
	}); err != nil {
		log.Fatalf("Failed to start subscriber: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("Shutting down batchwatch...")
}
