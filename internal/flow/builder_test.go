package flow

import (
	"net/netip"
	"testing"
	"time"

	"icc.tech/nds/internal/core"
)

func rec(src, dst string, sport, dport uint16, ts time.Time, flags uint8, size int) core.PacketRecord {
	return core.PacketRecord{
		Timestamp: ts,
		SrcIP:     netip.MustParseAddr(src),
		DstIP:     netip.MustParseAddr(dst),
		SrcPort:   sport,
		DstPort:   dport,
		Protocol:  core.ProtoTCP,
		TCPFlags:  flags,
		Size:      size,
	}
}

func TestBuilderIngestCreatesAndMergesBidirectional(t *testing.T) {
	b := NewBuilder(120*time.Second, time.Hour)
	now := time.Now()

	b.Ingest(rec("10.0.0.1", "10.0.0.2", 1234, 443, now, core.TCPFlagSYN, 60))
	if b.ActiveCount() != 1 {
		t.Fatalf("expected 1 active flow, got %d", b.ActiveCount())
	}

	// response travels in the opposite direction, same 5-tuple reversed
	b.Ingest(rec("10.0.0.2", "10.0.0.1", 443, 1234, now.Add(time.Millisecond), core.TCPFlagSYN|core.TCPFlagACK, 60))
	if b.ActiveCount() != 1 {
		t.Fatalf("expected request/response to merge into 1 flow, got %d active", b.ActiveCount())
	}
}

func TestBuilderIngestRSTCompletesAndRemoves(t *testing.T) {
	b := NewBuilder(120*time.Second, time.Hour)
	now := time.Now()

	b.Ingest(rec("10.0.0.1", "10.0.0.2", 1234, 443, now, core.TCPFlagSYN, 60))
	completed := b.Ingest(rec("10.0.0.2", "10.0.0.1", 443, 1234, now.Add(time.Millisecond), core.TCPFlagRST, 40))

	if completed == nil {
		t.Fatal("expected RST to complete the flow")
	}
	if completed.Reason != core.ReasonTCPClose {
		t.Errorf("expected ReasonTCPClose, got %v", completed.Reason)
	}
	if b.ActiveCount() != 0 {
		t.Errorf("expected 0 active flows after completion, got %d", b.ActiveCount())
	}
}

func TestBuilderPollTimeoutsIdle(t *testing.T) {
	b := NewBuilder(10*time.Second, time.Hour)
	now := time.Now()

	b.Ingest(rec("10.0.0.1", "10.0.0.2", 1234, 443, now, core.TCPFlagSYN, 60))

	completed := b.PollTimeouts(now.Add(5 * time.Second))
	if len(completed) != 0 {
		t.Fatalf("expected no timeouts yet, got %d", len(completed))
	}

	completed = b.PollTimeouts(now.Add(20 * time.Second))
	if len(completed) != 1 {
		t.Fatalf("expected 1 idle-timed-out flow, got %d", len(completed))
	}
	if completed[0].Reason != core.ReasonIdleTimeout {
		t.Errorf("expected ReasonIdleTimeout, got %v", completed[0].Reason)
	}
	if b.ActiveCount() != 0 {
		t.Errorf("expected 0 active flows after sweep, got %d", b.ActiveCount())
	}
}

func TestBuilderPollTimeoutsHardCap(t *testing.T) {
	b := NewBuilder(time.Hour, 30*time.Second)
	now := time.Now()

	b.Ingest(rec("10.0.0.1", "10.0.0.2", 1234, 443, now, core.TCPFlagSYN, 60))
	b.Ingest(rec("10.0.0.1", "10.0.0.2", 1234, 443, now.Add(35*time.Second), 0, 60))

	completed := b.PollTimeouts(now.Add(40 * time.Second))
	if len(completed) != 1 {
		t.Fatalf("expected 1 hard-capped flow, got %d", len(completed))
	}
	if completed[0].Reason != core.ReasonHardCap {
		t.Errorf("expected ReasonHardCap, got %v", completed[0].Reason)
	}
}
