// Package api exposes the logger's health and counters over HTTP and gRPC.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"Go2NetLogger/internal/batch"
	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/ingest"
	"Go2NetLogger/internal/sink"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the logger.
const ServiceName = "gonl.logger"

const watchEvery = time.Second

// WriterStatus is the part of the batch writer the API reads.
type WriterStatus interface {
	Healthy() bool
	Stats() batch.Stats
}

// ListenerStatus is the part of the ingest listener the API reads.
type ListenerStatus interface {
	Stats() ingest.Stats
}

// SinkStatus is the part of the sink dispatcher the API reads.
type SinkStatus interface {
	Stats() sink.Stats
}

// HostStats describes the resources the batch directory depends on.
type HostStats struct {
	DiskFreeBytes  uint64  `json:"disk_free_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	MemUsedPct     float64 `json:"mem_used_pct"`
	MemAvailBytes  uint64  `json:"mem_available_bytes"`
	CollectorError string  `json:"collector_error,omitempty"`
}

// StatsResponse is the body of GET /api/v1/stats.
type StatsResponse struct {
	RunID    string       `json:"run_id"`
	Uptime   string       `json:"uptime"`
	DataDir  string       `json:"data_dir"`
	Healthy  bool         `json:"healthy"`
	Writer   batch.Stats  `json:"writer"`
	Listener ingest.Stats `json:"listener"`
	Sinks    *sink.Stats  `json:"sinks,omitempty"`
	Host     HostStats    `json:"host"`
}

// Server serves /healthz and /api/v1/stats, and mirrors writer health into
// the standard gRPC health service.
type Server struct {
	cfg      config.APIConfig
	runID    string
	dataDir  string
	started  time.Time
	writer   WriterStatus
	listener ListenerStatus
	sinks    SinkStatus

	router *mux.Router
	http   *http.Server
	grpc   *grpc.Server
	health *health.Server
	wg     sync.WaitGroup
}

// NewServer wires the handlers. sinks may be nil.
func NewServer(cfg config.APIConfig, runID, dataDir string, w WriterStatus, l ListenerStatus, sinks SinkStatus) *Server {
	s := &Server{
		cfg:      cfg,
		runID:    runID,
		dataDir:  dataDir,
		started:  time.Now(),
		writer:   w,
		listener: l,
		sinks:    sinks,
		router:   mux.NewRouter(),
		health:   health.NewServer(),
	}
	s.router.HandleFunc("/healthz", s.healthzHandler).Methods("GET")
	s.router.HandleFunc("/api/v1/stats", s.statsHandler).Methods("GET")
	return s
}

// Handler returns the HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

// Start binds both listeners and begins serving until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.http = &http.Server{Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		log.Printf("API server starting on %s", httpLn.Addr())
		if err := s.http.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("API server error: %v", err)
		}
	}()

	if s.cfg.GRPCAddr != "" {
		grpcLn, err := net.Listen("tcp", s.cfg.GRPCAddr)
		if err != nil {
			s.http.Close()
			return err
		}
		s.grpc = grpc.NewServer()
		healthpb.RegisterHealthServer(s.grpc, s.health)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			log.Printf("gRPC health server listening at %v", grpcLn.Addr())
			if err := s.grpc.Serve(grpcLn); err != nil {
				log.Printf("gRPC server error: %v", err)
			}
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(ctx)
	}()
	return nil
}

// watch keeps the gRPC health status in step with the writer.
func (s *Server) watch(ctx context.Context) {
	s.syncHealth()
	ticker := time.NewTicker(watchEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.syncHealth()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) syncHealth() {
	status := healthpb.HealthCheckResponse_SERVING
	if !s.writer.Healthy() {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}

// Stop shuts both servers down and waits for the watcher to exit. The
// context passed to Start must already be cancelled.
func (s *Server) Stop(ctx context.Context) {
	s.health.Shutdown()
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			log.Printf("API server forced to shutdown: %v", err)
		}
	}
	s.wg.Wait()
	log.Println("API server exited.")
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	code, status := http.StatusOK, "ok"
	if !s.writer.Healthy() {
		code, status = http.StatusServiceUnavailable, "degraded"
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"state":      s.listener.Stats().State,
		"last_error": s.writer.Stats().LastFlushError,
	})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{
		RunID:    s.runID,
		Uptime:   time.Since(s.started).Round(time.Second).String(),
		DataDir:  s.dataDir,
		Healthy:  s.writer.Healthy(),
		Writer:   s.writer.Stats(),
		Listener: s.listener.Stats(),
		Host:     hostStats(r.Context(), s.dataDir),
	}
	if s.sinks != nil {
		st := s.sinks.Stats()
		resp.Sinks = &st
	}
	writeJSON(w, http.StatusOK, resp)
}

func hostStats(ctx context.Context, dir string) HostStats {
	var hs HostStats
	var errs []error
	if du, err := disk.UsageWithContext(ctx, dir); err == nil {
		hs.DiskFreeBytes = du.Free
		hs.DiskUsedPct = du.UsedPercent
	} else {
		errs = append(errs, err)
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		hs.MemUsedPct = vm.UsedPercent
		hs.MemAvailBytes = vm.Available
	} else {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		hs.CollectorError = err.Error()
	}
	return hs
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("API: failed to encode response: %v", err)
	}
}
