package sink

import (
	"context"
	"fmt"
	"log"
	"regexp"

	"Go2NetLogger/internal/config"
	"Go2NetLogger/internal/model"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    BatchIndex    UInt32,
    ObservedAt    DateTime64(6, 'UTC'),
    Duration      Float64,
    Protocol      LowCardinality(String),
    SourceAddress String,
    DestAddress   String,
    SourcePort    UInt16,
    DestPort      UInt16,
    PacketCount   UInt64,
    ByteCount     UInt64,
    Flags         LowCardinality(String),
    TOS           UInt8,
    ClassLabel    LowCardinality(String),
    Tag           LowCardinality(String)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(ObservedAt)
ORDER BY (ClassLabel, ObservedAt);
`

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSink inserts every committed batch into a MergeTree table.
type ClickHouseSink struct {
	conn  driver.Conn
	table string
}

// NewClickHouseSink connects, and creates the table if needed.
func NewClickHouseSink(cfg config.ClickHouseConfig) (*ClickHouseSink, error) {
	if !tableName.MatchString(cfg.Table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", cfg.Table)
	}
	conn, err := connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, cfg.Table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Printf("Successfully connected to ClickHouse and ensured table %s exists.", cfg.Table)

	return &ClickHouseSink{conn: conn, table: cfg.Table}, nil
}

func connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	return conn, nil
}

// Name implements model.Sink.
func (s *ClickHouseSink) Name() string { return "clickhouse" }

// Write inserts the batch rows in one round trip.
func (s *ClickHouseSink) Write(ctx context.Context, b model.Batch) error {
	if len(b.Records) == 0 {
		return nil // Nothing to write
	}
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO "+s.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}
	for _, r := range b.Records {
		if err := batch.Append(rowValues(b.Index, r)...); err != nil {
			batch.Abort()
			return fmt.Errorf("failed to append record to batch: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	log.Printf("Wrote %d records of batch %d to ClickHouse", len(b.Records), b.Index)
	return nil
}

// rowValues orders a record's columns as in createTableStatement.
func rowValues(index int, r model.EventRecord) []any {
	return []any{
		uint32(index),
		r.ObservedAt,
		r.Duration,
		r.Protocol,
		r.SourceAddress,
		r.DestAddress,
		uint16(r.SourcePort),
		uint16(r.DestPort),
		uint64(r.PacketCount),
		uint64(r.ByteCount),
		r.Flags,
		uint8(r.TOS),
		r.ClassLabel,
		r.Tag,
	}
}

// Close closes the connection.
func (s *ClickHouseSink) Close() error {
	return s.conn.Close()
}
