package generator

import (
	"sort"
	"strings"
	"time"

	"Go2NetLogger/internal/model"
	"Go2NetLogger/pkg/pcap"

	"github.com/google/gopacket/layers"
)

type flow struct {
	tuple   pcap.FiveTuple
	start   time.Time
	end     time.Time
	packets int64
	bytes   int64
	flags   uint8
	tos     uint8
}

// FlowTable folds packets into per-five-tuple flows.
type FlowTable struct {
	flows map[string]*flow
	label string
	tag   string
}

// NewFlowTable creates a table whose records carry the given label and tag.
func NewFlowTable(label, tag string) *FlowTable {
	return &FlowTable{flows: make(map[string]*flow), label: label, tag: tag}
}

// Len returns the number of open flows.
func (t *FlowTable) Len() int { return len(t.flows) }

// ProcessPacket creates or updates the packet's flow.
func (t *FlowTable) ProcessPacket(p *pcap.PacketInfo) {
	key := p.FiveTuple.Key()
	if f, ok := t.flows[key]; ok {
		if p.Timestamp.After(f.end) {
			f.end = p.Timestamp
		}
		f.packets++
		f.bytes += int64(p.Length)
		f.flags |= p.TCPFlags
		return
	}
	t.flows[key] = &flow{
		tuple:   p.FiveTuple,
		start:   p.Timestamp,
		end:     p.Timestamp,
		packets: 1,
		bytes:   int64(p.Length),
		flags:   p.TCPFlags,
		tos:     p.TOS,
	}
}

// FlushInactive removes and returns flows idle for at least timeout as of
// now, oldest first. A zero timeout flushes every flow.
func (t *FlowTable) FlushInactive(now time.Time, timeout time.Duration) []model.EventRecord {
	var out []*flow
	for key, f := range t.flows {
		if timeout == 0 || now.Sub(f.end) >= timeout {
			out = append(out, f)
			delete(t.flows, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].start.Equal(out[j].start) {
			return out[i].tuple.Key() < out[j].tuple.Key()
		}
		return out[i].start.Before(out[j].start)
	})

	recs := make([]model.EventRecord, 0, len(out))
	for _, f := range out {
		recs = append(recs, t.record(f))
	}
	return recs
}

func (t *FlowTable) record(f *flow) model.EventRecord {
	proto := strings.ToLower(layers.IPProtocol(f.tuple.Protocol).String())
	switch proto {
	case model.ProtocolTCP, model.ProtocolUDP, model.ProtocolICMP:
	case "icmpv4":
		proto = model.ProtocolICMP
	default:
		proto = model.ProtocolOther
	}
	flags := "-"
	if f.tuple.Protocol == uint8(layers.IPProtocolTCP) {
		flags = pcap.FormatFlags(f.flags)
	}
	return model.EventRecord{
		ObservedAt:    f.start.UTC().Truncate(time.Microsecond),
		Duration:      f.end.Sub(f.start).Seconds(),
		Protocol:      proto,
		SourceAddress: f.tuple.SrcIP.String(),
		DestAddress:   f.tuple.DstIP.String(),
		SourcePort:    int32(f.tuple.SrcPort),
		DestPort:      int32(f.tuple.DstPort),
		PacketCount:   f.packets,
		ByteCount:     f.bytes,
		Flags:         flags,
		TOS:           int32(f.tos),
		ClassLabel:    t.label,
		Tag:           t.tag,
	}
}
