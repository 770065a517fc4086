package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"Go2NetLogger/internal/api"
	"Go2NetLogger/internal/config"

	"github.com/ClickHouse/clickhouse-go/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// --- Main Function ---
func main() {
	mode := flag.String("mode", "api", "Query mode: 'api' for the stats endpoint, 'grpc' for the health service, 'direct' to query ClickHouse.")
	configPath := flag.String("config", "configs/config.yaml", "Path to the configuration file")
	addr := flag.String("addr", "localhost:8080", "HTTP address of ns-logger (api mode)")
	grpcAddr := flag.String("grpc", "localhost:9090", "gRPC address of ns-logger (grpc mode)")
	since := flag.Duration("since", 24*time.Hour, "Window to aggregate over (direct mode)")
	flag.Parse()

	log.Printf("Running in '%s' mode.", *mode)

	switch *mode {
	case "api":
		queryViaAPI(*addr)
	case "grpc":
		checkHealth(*grpcAddr)
	case "direct":
		cfg, err := config.LoadConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
		directQueryClickHouse(cfg.Sinks.ClickHouse, *since)
	default:
		log.Fatalf("Invalid mode: %s. Use 'api', 'grpc' or 'direct'.", *mode)
	}
}

// --- API Query Logic ---
func queryViaAPI(addr string) {
	for _, path := range []string{"/healthz", "/api/v1/stats"} {
		url := "http://" + addr + path
		resp, err := http.Get(url)
		if err != nil {
			log.Fatalf("Error sending request: %v", err)
		}
		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			log.Fatalf("Error reading response body: %v", err)
		}

		log.Printf("--- %s (%d) ---", path, resp.StatusCode)
		var prettyJSON bytes.Buffer
		if err := json.Indent(&prettyJSON, respBody, "", "  "); err != nil {
			log.Printf("Could not prettify JSON, printing raw response:")
			fmt.Println(string(respBody))
			continue
		}
		fmt.Println(prettyJSON.String())
	}
}

// --- gRPC Health Logic ---
func checkHealth(addr string) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("did not connect: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: api.ServiceName})
	if err != nil {
		log.Fatalf("could not check health: %v", err)
	}
	fmt.Printf("%s: %s\n", api.ServiceName, resp.GetStatus())
}

// --- Direct ClickHouse Query Logic ---
func directQueryClickHouse(cfg config.ClickHouseConfig, since time.Duration) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		log.Fatalf("Error connecting to ClickHouse: %v", err)
	}
	defer conn.Close()

	log.Println("Successfully connected to ClickHouse.")

	query := fmt.Sprintf(`
		SELECT
			ClassLabel,
			Tag,
			COUNT(*) AS Events,
			SUM(ByteCount) AS TotalBytes,
			uniqExact(BatchIndex) AS Batches
		FROM %s
		WHERE ObservedAt >= ?
		GROUP BY ClassLabel, Tag
		ORDER BY Events DESC`, cfg.Table)

	rows, err := conn.Query(context.Background(), query, time.Now().UTC().Add(-since))
	if err != nil {
		log.Fatalf("Error executing query: %v", err)
	}
	defer rows.Close()

	log.Println("--- Label Breakdown (Direct) ---")

	var foundResult bool
	for rows.Next() {
		foundResult = true
		var (
			label, tag         string
			events, totalBytes uint64
			batches            uint64
		)
		if err := rows.Scan(&label, &tag, &events, &totalBytes, &batches); err != nil {
			log.Printf("Error scanning row: %v", err)
			continue
		}
		fmt.Printf("%-12s %-18s events=%-8d bytes=%-12d batches=%d\n", label, tag, events, totalBytes, batches)
	}

	if !foundResult {
		log.Println("No data found for the specified window.")
	}
	if err := rows.Err(); err != nil {
		log.Printf("An error occurred during row iteration: %v", err)
	}
}
