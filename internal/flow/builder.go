// Package flow implements the FlowBuilder: it groups captured packets
// into bidirectional flows keyed by the canonical 5-tuple and applies the
// completion rules (idle timeout, TCP RST, FIN-both-directions+ACK, hard
// cap).
package flow

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"icc.tech/nds/internal/core"
)

// Builder tracks the set of active flows and folds incoming packets into
// them. Its active table is guarded by a mutex; in the pipeline the
// single flow-builder goroutine calls both Ingest and PollTimeouts.
type Builder struct {
	idleTimeout time.Duration
	hardCap     time.Duration

	mu     sync.Mutex
	active map[core.FlowKey]*core.Flow
	count  atomic.Int64
}

// NewBuilder creates a Builder with the given idle-timeout and hard-cap
// durations.
func NewBuilder(idleTimeout, hardCap time.Duration) *Builder {
	return &Builder{
		idleTimeout: idleTimeout,
		hardCap:     hardCap,
		active:      make(map[core.FlowKey]*core.Flow),
	}
}

// Ingest folds one packet record into its flow, creating the flow if this
// is the first packet seen for its 5-tuple. When the packet causes the
// flow to complete (RST, or FIN seen in both directions followed by ACK),
// the completed flow is returned and removed from the active table.
func (b *Builder) Ingest(rec core.PacketRecord) (completed *core.Flow) {
	src := core.Endpoint{IP: rec.SrcIP, Port: rec.SrcPort}
	dst := core.Endpoint{IP: rec.DstIP, Port: rec.DstPort}
	key, forward := core.NewFlowKey(src, dst, rec.Protocol)

	b.mu.Lock()
	defer b.mu.Unlock()

	f, ok := b.active[key]
	if !ok {
		f = &core.Flow{
			ID:        uuid.NewString(),
			Key:       key,
			Initiator: src,
			Responder: dst,
			Protocol:  rec.Protocol,
			FirstSeen: rec.Timestamp,
		}
		b.active[key] = f
		b.count.Add(1)
	}

	f.Observe(rec, forward)

	if f.State == core.FlowComplete {
		delete(b.active, key)
		b.count.Add(-1)
		return f
	}
	return nil
}

// PollTimeouts sweeps the active table for flows that have exceeded the
// idle timeout or the hard cap, marking and removing them. Called
// periodically by the pipeline's flow-builder goroutine.
func (b *Builder) PollTimeouts(now time.Time) []*core.Flow {
	b.mu.Lock()
	defer b.mu.Unlock()

	var completed []*core.Flow
	for key, f := range b.active {
		switch {
		case now.Sub(f.LastSeen) >= b.idleTimeout:
			f.State = core.FlowComplete
			f.Reason = core.ReasonIdleTimeout
		case f.Duration() >= b.hardCap:
			f.State = core.FlowComplete
			f.Reason = core.ReasonHardCap
		default:
			continue
		}
		delete(b.active, key)
		b.count.Add(-1)
		completed = append(completed, f)
	}
	return completed
}

// ActiveCount returns the current number of flows in the active table.
func (b *Builder) ActiveCount() int {
	return int(b.count.Load())
}
