package model

import (
	"fmt"
	"time"
)

// EventRecord is one observed (simulated) network flow. It is the shared
// contract between the generator, the relay and the batch writer, and the row
// type of every batch file.
type EventRecord struct {
	ObservedAt    time.Time `json:"observed_at" parquet:"observed_at,timestamp(microsecond)"`
	Duration      float64   `json:"duration" parquet:"duration"`
	Protocol      string    `json:"protocol" parquet:"protocol,dict"`
	SourceAddress string    `json:"source_address" parquet:"source_address"`
	DestAddress   string    `json:"dest_address" parquet:"dest_address"`
	SourcePort    int32     `json:"source_port" parquet:"source_port"`
	DestPort      int32     `json:"dest_port" parquet:"dest_port"`
	PacketCount   int64     `json:"packet_count" parquet:"packet_count"`
	ByteCount     int64     `json:"byte_count" parquet:"byte_count"`
	Flags         string    `json:"flags" parquet:"flags,dict"`
	TOS           int32     `json:"tos" parquet:"tos"`
	ClassLabel    string    `json:"class_label" parquet:"class_label,dict"`
	Tag           string    `json:"tag" parquet:"tag,dict"`
}

// String renders the record as a short flow description, used in debug logs.
func (r EventRecord) String() string {
	return fmt.Sprintf("%s %s %s:%d -> %s:%d pkts=%d bytes=%d [%s/%s]",
		r.ObservedAt.Format("2006-01-02 15:04:05.000000"),
		r.Protocol,
		r.SourceAddress, r.SourcePort,
		r.DestAddress, r.DestPort,
		r.PacketCount, r.ByteCount,
		r.ClassLabel, r.Tag,
	)
}
