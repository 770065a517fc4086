package pcap

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

var (
	srcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	dstMAC = net.HardwareAddr{0x00, 0x66, 0x77, 0x88, 0x99, 0xAA}
)

// PacketSpec describes one synthetic packet.
type PacketSpec struct {
	Timestamp time.Time
	FiveTuple FiveTuple
	TOS       uint8
	TCPFlags  uint8
	Payload   int
}

// Writer serialises synthetic Ethernet/IPv4 packets into a pcap stream.
type Writer struct {
	w *pcapgo.Writer
}

// NewWriter writes the pcap file header to out.
func NewWriter(out io.Writer) (*Writer, error) {
	w := pcapgo.NewWriter(out)
	if err := w.WriteFileHeader(65536, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Writer{w: w}, nil
}

// WritePacket builds the layers for spec and appends the packet.
func (w *Writer) WritePacket(spec PacketSpec) error {
	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		SrcIP:    spec.FiveTuple.SrcIP.To4(),
		DstIP:    spec.FiveTuple.DstIP.To4(),
		Version:  4,
		TTL:      64,
		TOS:      spec.TOS,
		Protocol: layers.IPProtocol(spec.FiveTuple.Protocol),
	}
	payload := gopacket.Payload(make([]byte, spec.Payload))

	var ls []gopacket.SerializableLayer
	switch ip.Protocol {
	case layers.IPProtocolTCP:
		tcp := &layers.TCP{
			SrcPort: layers.TCPPort(spec.FiveTuple.SrcPort),
			DstPort: layers.TCPPort(spec.FiveTuple.DstPort),
			URG:     spec.TCPFlags&FlagURG != 0,
			ACK:     spec.TCPFlags&FlagACK != 0,
			PSH:     spec.TCPFlags&FlagPSH != 0,
			RST:     spec.TCPFlags&FlagRST != 0,
			SYN:     spec.TCPFlags&FlagSYN != 0,
			FIN:     spec.TCPFlags&FlagFIN != 0,
			Window:  14600,
		}
		tcp.SetNetworkLayerForChecksum(ip)
		ls = []gopacket.SerializableLayer{eth, ip, tcp, payload}
	case layers.IPProtocolUDP:
		udp := &layers.UDP{
			SrcPort: layers.UDPPort(spec.FiveTuple.SrcPort),
			DstPort: layers.UDPPort(spec.FiveTuple.DstPort),
		}
		udp.SetNetworkLayerForChecksum(ip)
		ls = []gopacket.SerializableLayer{eth, ip, udp, payload}
	default:
		return fmt.Errorf("unsupported protocol %d", spec.FiveTuple.Protocol)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		return fmt.Errorf("failed to serialize layers: %w", err)
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     spec.Timestamp,
		CaptureLength: len(buf.Bytes()),
		Length:        len(buf.Bytes()),
	}
	return w.w.WritePacket(ci, buf.Bytes())
}
