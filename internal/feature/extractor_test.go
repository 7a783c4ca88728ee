package feature

import (
	"testing"
	"time"

	"icc.tech/nds/internal/core"
)

func buildFlow() *core.Flow {
	f := &core.Flow{}
	now := time.Now()

	f.Observe(core.PacketRecord{Timestamp: now, Protocol: core.ProtoTCP, TCPFlags: core.TCPFlagSYN, Size: 60}, true)
	f.Observe(core.PacketRecord{Timestamp: now.Add(10 * time.Millisecond), Protocol: core.ProtoTCP, TCPFlags: core.TCPFlagSYN | core.TCPFlagACK, Size: 60}, false)
	f.Observe(core.PacketRecord{Timestamp: now.Add(20 * time.Millisecond), Protocol: core.ProtoTCP, TCPFlags: core.TCPFlagACK, Size: 1400}, true)
	f.Observe(core.PacketRecord{Timestamp: now.Add(30 * time.Millisecond), Protocol: core.ProtoTCP, TCPFlags: core.TCPFlagACK, Size: 1400}, false)

	return f
}

func TestExtractProducesFixedLength(t *testing.T) {
	fv := Extract(buildFlow())
	if len(fv) != core.FeatureVectorLength {
		t.Fatalf("expected length %d, got %d", core.FeatureVectorLength, len(fv))
	}
}

func TestExtractBasicCounts(t *testing.T) {
	fv := Extract(buildFlow())

	if fv[1] != 2 {
		t.Errorf("expected fwd_pkts=2, got %v", fv[1])
	}
	if fv[2] != 2 {
		t.Errorf("expected bwd_pkts=2, got %v", fv[2])
	}
	if fv[3] != 1460 {
		t.Errorf("expected fwd_bytes=1460, got %v", fv[3])
	}
	if fv[4] != 1460 {
		t.Errorf("expected bwd_bytes=1460, got %v", fv[4])
	}
}

func TestExtractEmptyFlowNoDivideByZero(t *testing.T) {
	fv := Extract(&core.Flow{})
	if len(fv) != core.FeatureVectorLength {
		t.Fatalf("expected length %d, got %d", core.FeatureVectorLength, len(fv))
	}
	for i, x := range fv {
		if x != 0 {
			t.Errorf("expected zero flow to produce all-zero vector, index %d = %v", i, x)
		}
	}
}
