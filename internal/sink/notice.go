package sink

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"Go2NetLogger/internal/model"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Notice announces a committed batch file. It travels as a protobuf Struct
// so consumers need no generated code.
type Notice struct {
	RunID       string
	Index       int
	File        string
	Records     int
	CommittedAt time.Time
	Labels      map[string]int
}

// NoticeFor summarises b.
func NoticeFor(runID string, b model.Batch) Notice {
	labels := make(map[string]int)
	for _, r := range b.Records {
		labels[r.ClassLabel]++
	}
	return Notice{
		RunID:       runID,
		Index:       b.Index,
		File:        filepath.Base(b.Path),
		Records:     len(b.Records),
		CommittedAt: b.CommittedAt,
		Labels:      labels,
	}
}

// Encode serialises the notice to protobuf binary.
func (n Notice) Encode() ([]byte, error) {
	labels := make(map[string]any, len(n.Labels))
	for k, v := range n.Labels {
		labels[k] = v
	}
	ts := timestamppb.New(n.CommittedAt)
	st, err := structpb.NewStruct(map[string]any{
		"run_id":  n.RunID,
		"index":   n.Index,
		"file":    n.File,
		"records": n.Records,
		"committed_at": map[string]any{
			"seconds": ts.GetSeconds(),
			"nanos":   ts.GetNanos(),
		},
		"labels": labels,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build notice: %w", err)
	}
	return proto.Marshal(st)
}

// DecodeNotice parses the output of Notice.Encode.
func DecodeNotice(data []byte) (Notice, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return Notice{}, fmt.Errorf("failed to unmarshal notice: %w", err)
	}
	f := st.GetFields()
	n := Notice{
		RunID:   f["run_id"].GetStringValue(),
		Index:   int(f["index"].GetNumberValue()),
		File:    f["file"].GetStringValue(),
		Records: int(f["records"].GetNumberValue()),
		Labels:  make(map[string]int),
	}
	if ts := f["committed_at"].GetStructValue().GetFields(); ts != nil {
		pb := &timestamppb.Timestamp{
			Seconds: int64(ts["seconds"].GetNumberValue()),
			Nanos:   int32(ts["nanos"].GetNumberValue()),
		}
		n.CommittedAt = pb.AsTime()
	}
	for k, v := range f["labels"].GetStructValue().GetFields() {
		n.Labels[k] = int(v.GetNumberValue())
	}
	return n, nil
}

// String renders the notice for terminal output.
func (n Notice) String() string {
	keys := make([]string, 0, len(n.Labels))
	for k := range n.Labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	s := fmt.Sprintf("[%s] batch %d %s: %d records", n.CommittedAt.Format(time.RFC3339), n.Index, n.File, n.Records)
	for _, k := range keys {
		s += fmt.Sprintf(" %s=%d", k, n.Labels[k])
	}
	return s
}
