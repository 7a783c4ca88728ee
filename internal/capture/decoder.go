package capture

import (
	"net"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"icc.tech/nds/internal/core"
)

// mustAddr converts a gopacket net.IP (always 4 or 16 bytes) to a
// netip.Addr, zero value if malformed.
func mustAddr(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	if addr.Is4In6() {
		return addr.Unmap()
	}
	return addr
}

// decoder projects raw captured bytes into core.PacketRecord. It reuses
// its DecodingLayerParsers (one rooted at Ethernet, one each at IPv4 and
// IPv6) and one shared layer set across calls to avoid a per-packet
// allocation, same pattern as the teacher's decoder.
type decoder struct {
	ethParser *gopacket.DecodingLayerParser
	ip4Parser *gopacket.DecodingLayerParser
	ip6Parser *gopacket.DecodingLayerParser

	eth layers.Ethernet
	ip4 layers.IPv4
	ip6 layers.IPv6
	tcp layers.TCP
	udp layers.UDP

	decoded []gopacket.LayerType
}

// newDecoder builds a decoder starting layer parsing at Ethernet, for
// the two L2 capture modes.
func newDecoder() *decoder {
	d := &decoder{}
	d.ethParser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeEthernet,
		&d.eth, &d.ip4, &d.ip6, &d.tcp, &d.udp,
	)
	d.ethParser.IgnoreUnsupported = true
	d.ip4Parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeIPv4,
		&d.ip4, &d.tcp, &d.udp,
	)
	d.ip4Parser.IgnoreUnsupported = true
	d.ip6Parser = gopacket.NewDecodingLayerParser(
		layers.LayerTypeIPv6,
		&d.ip6, &d.tcp, &d.udp,
	)
	d.ip6Parser.IgnoreUnsupported = true
	return d
}

// decode turns one captured Ethernet frame into a PacketRecord. Non-IP
// frames return ok=false and are dropped silently by the caller.
func (d *decoder) decode(data []byte, ts time.Time) (rec core.PacketRecord, ok bool) {
	return d.decodeWith(d.ethParser, data, ts)
}

// decodeL3 turns one captured L3 datagram (no link-layer header, as
// produced by the raw-socket capture mode) into a PacketRecord,
// dispatching on the IP version nibble.
func (d *decoder) decodeL3(data []byte, ts time.Time) (rec core.PacketRecord, ok bool) {
	if len(data) == 0 {
		return core.PacketRecord{}, false
	}
	version := data[0] >> 4
	switch version {
	case 4:
		return d.decodeWith(d.ip4Parser, data, ts)
	case 6:
		return d.decodeWith(d.ip6Parser, data, ts)
	default:
		return core.PacketRecord{}, false
	}
}

func (d *decoder) decodeWith(parser *gopacket.DecodingLayerParser, data []byte, ts time.Time) (rec core.PacketRecord, ok bool) {
	d.decoded = d.decoded[:0]
	if err := parser.DecodeLayers(data, &d.decoded); err != nil {
		return core.PacketRecord{}, false
	}

	rec.Timestamp = ts
	haveIP := false
	for _, lt := range d.decoded {
		switch lt {
		case layers.LayerTypeIPv4:
			haveIP = true
			rec.SrcIP = mustAddr(d.ip4.SrcIP)
			rec.DstIP = mustAddr(d.ip4.DstIP)
			rec.Protocol = uint8(d.ip4.Protocol)
			rec.Size = int(d.ip4.Length)
		case layers.LayerTypeIPv6:
			haveIP = true
			rec.SrcIP = mustAddr(d.ip6.SrcIP)
			rec.DstIP = mustAddr(d.ip6.DstIP)
			rec.Protocol = uint8(d.ip6.NextHeader)
			rec.Size = int(d.ip6.Length) + 40
		case layers.LayerTypeTCP:
			rec.SrcPort = uint16(d.tcp.SrcPort)
			rec.DstPort = uint16(d.tcp.DstPort)
			rec.TCPFlags = tcpFlags(&d.tcp)
		case layers.LayerTypeUDP:
			rec.SrcPort = uint16(d.udp.SrcPort)
			rec.DstPort = uint16(d.udp.DstPort)
		}
	}

	if !haveIP {
		return core.PacketRecord{}, false
	}
	if rec.Size == 0 {
		rec.Size = len(data)
	}
	return rec, true
}

func tcpFlags(tcp *layers.TCP) uint8 {
	var f uint8
	if tcp.FIN {
		f |= core.TCPFlagFIN
	}
	if tcp.SYN {
		f |= core.TCPFlagSYN
	}
	if tcp.RST {
		f |= core.TCPFlagRST
	}
	if tcp.PSH {
		f |= core.TCPFlagPSH
	}
	if tcp.ACK {
		f |= core.TCPFlagACK
	}
	if tcp.URG {
		f |= core.TCPFlagURG
	}
	if tcp.ECE {
		f |= core.TCPFlagECE
	}
	if tcp.CWR {
		f |= core.TCPFlagCWR
	}
	return f
}
