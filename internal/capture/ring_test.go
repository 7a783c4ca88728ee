package capture

import (
	"net/netip"
	"testing"

	"icc.tech/nds/internal/core"
)

func rec(id uint16) core.PacketRecord {
	return core.PacketRecord{SrcPort: id, SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2")}
}

func TestRingPushAndDrainFIFOOrder(t *testing.T) {
	r := NewRing(3)
	r.Push(rec(1))
	r.Push(rec(2))
	r.Push(rec(3))

	if got := r.Fill(); got != 3 {
		t.Fatalf("expected fill 3, got %d", got)
	}

	batch := r.DrainBatch(10)
	if len(batch) != 3 {
		t.Fatalf("expected 3 records drained, got %d", len(batch))
	}
	for i, want := range []uint16{1, 2, 3} {
		if batch[i].SrcPort != want {
			t.Errorf("index %d: expected %d, got %d", i, want, batch[i].SrcPort)
		}
	}
	if r.Fill() != 0 {
		t.Errorf("expected empty ring after drain, got fill %d", r.Fill())
	}
}

func TestRingOverflowDropsOldest(t *testing.T) {
	r := NewRing(2)
	r.Push(rec(1))
	r.Push(rec(2))
	r.Push(rec(3)) // overflow: record 1 dropped

	if got := r.Dropped(); got != 1 {
		t.Fatalf("expected 1 dropped record, got %d", got)
	}

	batch := r.DrainBatch(10)
	if len(batch) != 2 {
		t.Fatalf("expected 2 records remaining, got %d", len(batch))
	}
	if batch[0].SrcPort != 2 || batch[1].SrcPort != 3 {
		t.Errorf("expected [2 3] remaining, got [%d %d]", batch[0].SrcPort, batch[1].SrcPort)
	}
}

func TestRingDefaultCapacity(t *testing.T) {
	r := NewRing(0)
	if r.capacity != 1000 {
		t.Errorf("expected default capacity 1000, got %d", r.capacity)
	}
}

func TestRingDrainPartialBatch(t *testing.T) {
	r := NewRing(5)
	for i := 0; i < 5; i++ {
		r.Push(rec(uint16(i)))
	}
	first := r.DrainBatch(2)
	if len(first) != 2 {
		t.Fatalf("expected 2, got %d", len(first))
	}
	if r.Fill() != 3 {
		t.Errorf("expected 3 remaining, got %d", r.Fill())
	}
}
