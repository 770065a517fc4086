package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/google/gopacket/layers"
)

// ErrMalformed is returned for input that is not a JSON object at all.
// Objects never fail: unusable sub-fields fall back to their defaults.
var ErrMalformed = errors.New("malformed record")

// Kind describes how a raw input value is converted into a record field.
type Kind int

const (
	KindTime Kind = iota
	KindSeconds
	KindProtocol
	KindIPv4
	KindPort
	KindCount
	KindFlags
	KindTOS
	KindLabel
)

// IngestTime is the default of time fields: the moment the record is coerced.
type IngestTime struct{}

const (
	ProtocolTCP   = "tcp"
	ProtocolUDP   = "udp"
	ProtocolICMP  = "icmp"
	ProtocolOther = "other"

	maxFlagsLen = 16
	maxLabelLen = 64
)

// Field is one row of the schema table. Name is the canonical wire and column
// name; Aliases are accepted on input only.
type Field struct {
	Name    string
	Aliases []string
	Kind    Kind
	Default any

	set func(r *EventRecord, v any)
}

// Schema is the single definition of every field, its accepted input names
// and its default. The sanitizer and the tests both read it.
var Schema = []Field{
	{Name: "observed_at", Aliases: []string{"timestamp", "ts"}, Kind: KindTime, Default: IngestTime{},
		set: func(r *EventRecord, v any) { r.ObservedAt = v.(time.Time) }},
	{Name: "duration", Aliases: []string{"td"}, Kind: KindSeconds, Default: 0.0,
		set: func(r *EventRecord, v any) { r.Duration = v.(float64) }},
	{Name: "protocol", Aliases: []string{"proto"}, Kind: KindProtocol, Default: ProtocolOther,
		set: func(r *EventRecord, v any) { r.Protocol = v.(string) }},
	{Name: "source_address", Aliases: []string{"source_ip", "src_ip", "sa"}, Kind: KindIPv4, Default: "0.0.0.0",
		set: func(r *EventRecord, v any) { r.SourceAddress = v.(string) }},
	{Name: "dest_address", Aliases: []string{"dest_ip", "dst_ip", "da"}, Kind: KindIPv4, Default: "0.0.0.0",
		set: func(r *EventRecord, v any) { r.DestAddress = v.(string) }},
	{Name: "source_port", Aliases: []string{"src_port", "sp"}, Kind: KindPort, Default: int64(0),
		set: func(r *EventRecord, v any) { r.SourcePort = int32(v.(int64)) }},
	{Name: "dest_port", Aliases: []string{"dst_port", "dp"}, Kind: KindPort, Default: int64(0),
		set: func(r *EventRecord, v any) { r.DestPort = int32(v.(int64)) }},
	{Name: "packet_count", Aliases: []string{"packets", "pkt"}, Kind: KindCount, Default: int64(0),
		set: func(r *EventRecord, v any) { r.PacketCount = v.(int64) }},
	{Name: "byte_count", Aliases: []string{"bytes", "packet_size", "byt"}, Kind: KindCount, Default: int64(0),
		set: func(r *EventRecord, v any) { r.ByteCount = v.(int64) }},
	{Name: "flags", Aliases: []string{"tcp_flags", "flg"}, Kind: KindFlags, Default: "-",
		set: func(r *EventRecord, v any) { r.Flags = v.(string) }},
	{Name: "tos", Aliases: []string{"type_of_service"}, Kind: KindTOS, Default: int64(0),
		set: func(r *EventRecord, v any) { r.TOS = int32(v.(int64)) }},
	{Name: "class_label", Aliases: []string{"traffic_class", "label"}, Kind: KindLabel, Default: "background",
		set: func(r *EventRecord, v any) { r.ClassLabel = v.(string) }},
	{Name: "tag", Aliases: []string{"attack_type", "malware_type", "type"}, Kind: KindLabel, Default: "none",
		set: func(r *EventRecord, v any) { r.Tag = v.(string) }},
}

// Sanitizer coerces decoded JSON objects into complete records.
type Sanitizer struct {
	// Now supplies the default for time fields. Defaults to time.Now.
	Now func() time.Time
}

// NewSanitizer returns a Sanitizer using the wall clock.
func NewSanitizer() *Sanitizer {
	return &Sanitizer{Now: time.Now}
}

// ParseLine decodes one wire line and coerces it. Only input that is not a
// JSON object returns an error (wrapping ErrMalformed).
func (s *Sanitizer) ParseLine(line []byte) (EventRecord, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return EventRecord{}, errors.Join(ErrMalformed, err)
	}
	if dec.More() {
		return EventRecord{}, errors.Join(ErrMalformed, errors.New("trailing data after object"))
	}
	obj, ok := raw.(map[string]any)
	if !ok {
		return EventRecord{}, errors.Join(ErrMalformed, errors.New("not a JSON object"))
	}
	return s.Coerce(obj), nil
}

// Coerce fills every schema field from obj, taking the first name or alias
// that yields a usable value and the field default otherwise.
func (s *Sanitizer) Coerce(obj map[string]any) EventRecord {
	var rec EventRecord
	for _, f := range Schema {
		v, ok := lookup(obj, f)
		if !ok {
			v = s.defaultFor(f)
		}
		f.set(&rec, v)
	}
	return rec
}

func (s *Sanitizer) defaultFor(f Field) any {
	if _, ok := f.Default.(IngestTime); ok {
		now := time.Now
		if s.Now != nil {
			now = s.Now
		}
		return normalizeTime(now())
	}
	return f.Default
}

func lookup(obj map[string]any, f Field) (any, bool) {
	if raw, ok := obj[f.Name]; ok {
		if v, ok := convert(f.Kind, raw); ok {
			return v, true
		}
	}
	for _, alias := range f.Aliases {
		if raw, ok := obj[alias]; ok {
			if v, ok := convert(f.Kind, raw); ok {
				return v, true
			}
		}
	}
	return nil, false
}

func convert(kind Kind, raw any) (any, bool) {
	switch kind {
	case KindTime:
		return toTime(raw)
	case KindSeconds:
		f, ok := toFloat(raw)
		if !ok || f < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, false
		}
		return f, true
	case KindProtocol:
		return toProtocol(raw)
	case KindIPv4:
		return toIPv4(raw)
	case KindPort:
		return toIntRange(raw, 0, 65535)
	case KindCount:
		return toIntRange(raw, 0, math.MaxInt64)
	case KindTOS:
		return toIntRange(raw, 0, 255)
	case KindFlags:
		return toFlags(raw)
	case KindLabel:
		s, ok := raw.(string)
		if !ok {
			return nil, false
		}
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || len(s) > maxLabelLen {
			return nil, false
		}
		return s, true
	}
	return nil, false
}

// normalizeTime keeps what a batch column can hold: UTC, microseconds.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func toTime(raw any) (any, bool) {
	switch v := raw.(type) {
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999", "2006-01-02T15:04:05.999999999"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				return normalizeTime(t), true
			}
		}
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return epochToTime(f)
		}
	case json.Number, float64, int, int64:
		if f, ok := toFloat(v); ok {
			return epochToTime(f)
		}
	case time.Time:
		return normalizeTime(v), true
	}
	return nil, false
}

func epochToTime(f float64) (any, bool) {
	if f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) || f > 1e11 {
		return nil, false
	}
	sec, frac := math.Modf(f)
	return normalizeTime(time.Unix(int64(sec), int64(frac*1e9))), true
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func toIntRange(raw any, lo, hi int64) (any, bool) {
	var n int64
	switch v := raw.(type) {
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil || f != math.Trunc(f) || f > math.MaxInt64 || f < math.MinInt64 {
				return nil, false
			}
			i = int64(f)
		}
		n = i
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt64 || v < math.MinInt64 {
			return nil, false
		}
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, false
		}
		n = i
	default:
		return nil, false
	}
	if n < lo || n > hi {
		return nil, false
	}
	return n, true
}

func toProtocol(raw any) (any, bool) {
	var name string
	switch v := raw.(type) {
	case string:
		name = strings.ToLower(strings.TrimSpace(v))
		if n, err := strconv.ParseUint(name, 10, 8); err == nil {
			name = strings.ToLower(layers.IPProtocol(n).String())
		}
	case json.Number, float64, int, int64:
		n, ok := toIntRange(v, 0, 255)
		if !ok {
			return nil, false
		}
		name = strings.ToLower(layers.IPProtocol(n.(int64)).String())
	default:
		return nil, false
	}
	switch name {
	case "":
		return nil, false
	case ProtocolTCP, ProtocolUDP:
		return name, true
	case ProtocolICMP, "icmpv4", "icmpv6":
		return ProtocolICMP, true
	}
	return ProtocolOther, true
}

func toIPv4(raw any) (any, bool) {
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return nil, false
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return nil, false
	}
	return addr.String(), true
}

func toFlags(raw any) (any, bool) {
	var s string
	switch v := raw.(type) {
	case string:
		s = strings.TrimSpace(v)
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			ps, ok := p.(string)
			if !ok {
				return nil, false
			}
			if ps = strings.TrimSpace(ps); ps != "" {
				parts = append(parts, ps)
			}
		}
		s = strings.Join(parts, "|")
	default:
		return nil, false
	}
	if s == "" || len(s) > maxFlagsLen {
		return nil, false
	}
	return s, true
}
