// Package pcap reads and writes classic pcap captures without libpcap.
package pcap

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// FiveTuple identifies the flow a packet belongs to.
type FiveTuple struct {
	SrcIP    net.IP
	DstIP    net.IP
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

// Key renders the tuple as a map key.
func (ft FiveTuple) Key() string {
	return fmt.Sprintf("%s-%s-%d-%d-%d", ft.SrcIP, ft.DstIP, ft.SrcPort, ft.DstPort, ft.Protocol)
}

// TCP flag bits, in the order they are printed.
const (
	FlagURG uint8 = 1 << iota
	FlagACK
	FlagPSH
	FlagRST
	FlagSYN
	FlagFIN
)

// PacketInfo holds the metadata extracted from a single packet.
type PacketInfo struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	Length    int
	TOS       uint8
	TCPFlags  uint8
}

// ParsePacket uses gopacket to decode a packet and extract key information.
func ParsePacket(packet gopacket.Packet) (*PacketInfo, error) {
	info := &PacketInfo{
		Timestamp: time.Now(),
		Length:    len(packet.Data()),
	}
	if meta := packet.Metadata(); meta != nil {
		if !meta.Timestamp.IsZero() {
			info.Timestamp = meta.Timestamp
		}
		if meta.Length > 0 {
			info.Length = meta.Length
		}
	}

	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return nil, fmt.Errorf("not an IPv4 packet")
	}
	ip := l.(*layers.IPv4)
	info.FiveTuple.SrcIP = ip.SrcIP
	info.FiveTuple.DstIP = ip.DstIP
	info.FiveTuple.Protocol = uint8(ip.Protocol)
	info.TOS = ip.TOS

	if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		info.FiveTuple.SrcPort = uint16(tcp.SrcPort)
		info.FiveTuple.DstPort = uint16(tcp.DstPort)
		info.TCPFlags = tcpFlags(tcp)
	} else if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		info.FiveTuple.SrcPort = uint16(udp.SrcPort)
		info.FiveTuple.DstPort = uint16(udp.DstPort)
	} else if packet.Layer(layers.LayerTypeICMPv4) == nil {
		return nil, fmt.Errorf("not a TCP, UDP or ICMP packet")
	}
	return info, nil
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	for _, b := range []struct {
		set  bool
		flag uint8
	}{
		{tcp.URG, FlagURG}, {tcp.ACK, FlagACK}, {tcp.PSH, FlagPSH},
		{tcp.RST, FlagRST}, {tcp.SYN, FlagSYN}, {tcp.FIN, FlagFIN},
	} {
		if b.set {
			f |= b.flag
		}
	}
	return f
}

// FormatFlags renders flag bits as six characters "UAPRSF", with '.' for
// each unset flag.
func FormatFlags(f uint8) string {
	const letters = "UAPRSF"
	out := []byte("......")
	for i := range letters {
		if f&(1<<i) != 0 {
			out[i] = letters[i]
		}
	}
	return string(out)
}
