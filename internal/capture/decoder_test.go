package capture

import (
	"net"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"icc.tech/nds/internal/core"
)

func buildTCPFrame(t *testing.T) []byte {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		DstMAC:       net.HardwareAddr{0x00, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip4 := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: layers.IPProtocolTCP,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("10.0.0.2").To4(),
	}
	tcp := &layers.TCP{
		SrcPort: 51000,
		DstPort: 443,
		SYN:     true,
		ACK:     true,
		Seq:     1000,
	}
	tcp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip4, tcp); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestDecodeExtractsFiveTupleAndFlags(t *testing.T) {
	dec := newDecoder()
	data := buildTCPFrame(t)
	ts := time.Now()

	rec, ok := dec.decode(data, ts)
	if !ok {
		t.Fatal("expected decode to succeed")
	}
	if rec.SrcIP.String() != "10.0.0.1" || rec.DstIP.String() != "10.0.0.2" {
		t.Errorf("unexpected IPs: %s -> %s", rec.SrcIP, rec.DstIP)
	}
	if rec.SrcPort != 51000 || rec.DstPort != 443 {
		t.Errorf("unexpected ports: %d -> %d", rec.SrcPort, rec.DstPort)
	}
	if rec.Protocol != core.ProtoTCP {
		t.Errorf("expected TCP protocol, got %d", rec.Protocol)
	}
	if rec.TCPFlags&core.TCPFlagSYN == 0 || rec.TCPFlags&core.TCPFlagACK == 0 {
		t.Errorf("expected SYN+ACK flags set, got %08b", rec.TCPFlags)
	}
}

func TestDecodeRejectsNonIPFrame(t *testing.T) {
	dec := newDecoder()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0, 1, 2, 3, 4, 5},
		DstMAC:       net.HardwareAddr{6, 7, 8, 9, 10, 11},
		EthernetType: layers.EthernetTypeARP,
	}
	buf := gopacket.NewSerializeBuffer()
	gopacket.SerializeLayers(buf, gopacket.SerializeOptions{}, eth, gopacket.Payload([]byte{1, 2, 3, 4}))

	_, ok := dec.decode(buf.Bytes(), time.Now())
	if ok {
		t.Error("expected non-IP frame to be rejected")
	}
}

func TestDecodeL3DispatchesOnVersionNibble(t *testing.T) {
	dec := newDecoder()
	ip4 := &layers.IPv4{
		Version: 4, IHL: 5, TTL: 64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.ParseIP("192.168.1.1").To4(),
		DstIP:    net.ParseIP("192.168.1.2").To4(),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	udp.SetNetworkLayerForChecksum(ip4)

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, ip4, udp); err != nil {
		t.Fatalf("serialize: %v", err)
	}

	rec, ok := dec.decodeL3(buf.Bytes(), time.Now())
	if !ok {
		t.Fatal("expected L3 decode to succeed")
	}
	if rec.DstPort != 53 {
		t.Errorf("expected dst port 53, got %d", rec.DstPort)
	}
}
