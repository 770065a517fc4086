package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"Go2NetLogger/internal/api"
	"Go2NetLogger/internal/batch"
	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/ingest"
	"Go2NetLogger/internal/logging"
	"Go2NetLogger/internal/model"
	"Go2NetLogger/internal/pending"
	"Go2NetLogger/internal/pkg/fsutil"
	"Go2NetLogger/internal/recovery"
	"Go2NetLogger/internal/sink"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	flag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	closer, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()

	if err := run(cfg); err != nil {
		log.Printf("ns-logger stopped with error: %v", err)
		closer.Close()
		os.Exit(1)
	}
	log.Println("Shutdown complete.")
}

func run(cfg *config.Config) error {
	runID := uuid.NewString()
	log.Printf("Starting ns-logger, run %s", runID)

	// 2. Claim the output directory
	dir, err := recovery.ResolveDir(cfg.Logger.OutputDir, cfg.Logger.FallbackDir)
	if err != nil {
		return err
	}
	lock, err := fsutil.LockDir(dir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	// 3. Recover what a previous run left behind
	buf := pending.New(dir, cfg.Logger.Fsync)
	defer buf.Close()
	res, err := recovery.Recover(dir, cfg.Logger.BatchSize, buf, cfg.Logger.Fsync)
	if err != nil {
		return err
	}
	log.Printf("Recovery: %d complete files, %d reclaimed, %d corrupt, %d records restored (%d from partial files, %d from side-store), next index %d",
		len(res.Complete), len(res.Reclaimed), len(res.Corrupt), res.Restored, res.FromPartial, res.FromSideStore, res.NextIndex)

	// 4. Writer and optional mirrors
	writer, err := batch.NewWriter(cfg.Logger, dir, buf, res.NextIndex)
	if err != nil {
		return err
	}
	dispatcher := startSinks(cfg.Sinks, runID)
	if dispatcher != nil {
		writer.OnCommit(dispatcher.Enqueue)
		defer dispatcher.Stop()
	}
	writer.Start()

	listener, err := ingest.NewListener(cfg.Logger, writer)
	if err != nil {
		writer.Stop()
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// 5. Health and stats
	if cfg.API.Enabled {
		var sinkStatus api.SinkStatus
		if dispatcher != nil {
			sinkStatus = dispatcher
		}
		server := api.NewServer(cfg.API, runID, dir, writer, listener, sinkStatus)
		if err := server.Start(ctx); err != nil {
			writer.Stop()
			return err
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			server.Stop(shutdownCtx)
		}()
	}

	// 6. Serve until a signal or a fatal error
	serveErr := make(chan error, 1)
	go func() { serveErr <- listener.Serve(ctx) }()

	var fatal error
	select {
	case fatal = <-serveErr:
		serveErr = nil
	case fatal = <-writer.Fatal():
		log.Printf("BatchWriter reported a fatal error: %v", fatal)
	case <-ctx.Done():
		log.Println("Shutdown signal received, draining...")
	}
	cancel()
	if serveErr != nil {
		if err := <-serveErr; err != nil && fatal == nil {
			fatal = err
		}
	}

	if err := writer.Stop(); err != nil {
		log.Printf("BatchWriter: final flush failed: %v", err)
		if errors.Is(err, pending.ErrSideStore) && fatal == nil {
			fatal = err
		}
	}
	log.Printf("BatchWriter: %d records still pending in %s", writer.Pending(), buf.Path())
	return fatal
}

// startSinks connects the enabled mirrors. A mirror that cannot connect is
// skipped; the batch files stay complete without it.
func startSinks(cfg config.SinksConfig, runID string) *sink.Dispatcher {
	var sinks []model.Sink
	if cfg.ClickHouse.Enabled {
		s, err := sink.NewClickHouseSink(cfg.ClickHouse)
		if err != nil {
			log.Printf("WARN: ClickHouse sink disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if cfg.NATS.Enabled {
		s, err := sink.NewNATSSink(cfg.NATS, runID)
		if err != nil {
			log.Printf("WARN: NATS sink disabled: %v", err)
		} else {
			sinks = append(sinks, s)
		}
	}
	if len(sinks) == 0 {
		return nil
	}
	d := sink.NewDispatcher(cfg.QueueSize, sinks...)
	d.Start()
	return d
}
