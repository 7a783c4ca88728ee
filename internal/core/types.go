// Package core defines core types with zero external dependencies.
package core

import (
	"net/netip"
	"time"
)

// Protocol numbers recognised by the detection pipeline.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

// TCP flag bits, matching the wire bitfield layout.
const (
	TCPFlagFIN uint8 = 1 << 0
	TCPFlagSYN uint8 = 1 << 1
	TCPFlagRST uint8 = 1 << 2
	TCPFlagPSH uint8 = 1 << 3
	TCPFlagACK uint8 = 1 << 4
	TCPFlagURG uint8 = 1 << 5
	TCPFlagECE uint8 = 1 << 6
	TCPFlagCWR uint8 = 1 << 7
)

// tcpFlagBits lists the flags in the contractual feature-vector order.
var tcpFlagBits = [8]uint8{TCPFlagFIN, TCPFlagSYN, TCPFlagRST, TCPFlagPSH, TCPFlagACK, TCPFlagURG, TCPFlagECE, TCPFlagCWR}

// PacketRecord is the normalised, ephemeral projection of a captured
// packet emitted by the Sniffer. It lives only in the capture buffer and
// is never persisted.
type PacketRecord struct {
	Timestamp time.Time
	SrcIP     netip.Addr
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	Protocol  uint8
	Size      int // full IP length in bytes
	TCPFlags  uint8
}

// Endpoint is one side of a flow's 5-tuple.
type Endpoint struct {
	IP   netip.Addr
	Port uint16
}

// Less orders endpoints lexicographically by address then port. Used to
// build the canonical flow key.
func (e Endpoint) Less(o Endpoint) bool {
	if cmp := e.IP.Compare(o.IP); cmp != 0 {
		return cmp < 0
	}
	return e.Port < o.Port
}

// FlowKey canonically identifies a bidirectional flow: endpoints are
// ordered so that A->B and B->A traffic hashes to the same key.
type FlowKey struct {
	Low      Endpoint
	High     Endpoint
	Protocol uint8
}

// NewFlowKey builds the canonical key for a packet's (src, dst) pair and
// reports whether this packet travels Low->High (forward) or the
// opposite (backward).
func NewFlowKey(src, dst Endpoint, protocol uint8) (key FlowKey, forward bool) {
	if src.Less(dst) {
		return FlowKey{Low: src, High: dst, Protocol: protocol}, true
	}
	return FlowKey{Low: dst, High: src, Protocol: protocol}, false
}

// FlowState is the lifecycle state of a Flow.
type FlowState int

const (
	FlowActive FlowState = iota
	FlowComplete
)

// CompletionReason records why a flow transitioned to FlowComplete.
type CompletionReason string

const (
	ReasonIdleTimeout CompletionReason = "idle_timeout"
	ReasonTCPClose    CompletionReason = "tcp_close"
	ReasonHardCap     CompletionReason = "hard_cap"
)

// DirectionStats aggregates per-direction counters for a flow.
type DirectionStats struct {
	Packets    int
	Bytes      int64
	Sizes      []int
	IATs       []time.Duration // inter-arrival times within this direction
	FlagCounts [8]int          // indexed by position in tcpFlagBits
	FirstSeen  time.Time
	lastSeen   time.Time
}

// observe records one packet into this direction's running statistics.
func (d *DirectionStats) observe(ts time.Time, size int, flags uint8) {
	if d.Packets > 0 {
		d.IATs = append(d.IATs, ts.Sub(d.lastSeen))
	} else {
		d.FirstSeen = ts
	}
	d.Packets++
	d.Bytes += int64(size)
	d.Sizes = append(d.Sizes, size)
	for i, bit := range tcpFlagBits {
		if flags&bit != 0 {
			d.FlagCounts[i]++
		}
	}
	d.lastSeen = ts
}

// Flow is the transient (then persisted) bidirectional flow record,
// exclusively owned by the FlowBuilder until completion.
type Flow struct {
	ID        string
	Key       FlowKey
	Initiator Endpoint
	Responder Endpoint
	Protocol  uint8
	FirstSeen time.Time
	LastSeen  time.Time
	State     FlowState
	Reason    CompletionReason
	Forward   DirectionStats
	Backward  DirectionStats

	sawFwdFIN bool
	sawBwdFIN bool
}

// Duration returns LastSeen-FirstSeen, never negative.
func (f *Flow) Duration() time.Duration {
	d := f.LastSeen.Sub(f.FirstSeen)
	if d < 0 {
		return 0
	}
	return d
}

// Observe folds one packet into the flow, updating direction, FIN/RST
// tracking, and timestamps. forward indicates Low->High orientation as
// returned by NewFlowKey.
func (f *Flow) Observe(rec PacketRecord, forward bool) {
	if f.FirstSeen.IsZero() || rec.Timestamp.Before(f.FirstSeen) {
		f.FirstSeen = rec.Timestamp
	}
	if rec.Timestamp.After(f.LastSeen) {
		f.LastSeen = rec.Timestamp
	}

	dir := &f.Forward
	if !forward {
		dir = &f.Backward
	}
	dir.observe(rec.Timestamp, rec.Size, rec.TCPFlags)

	if rec.Protocol == ProtoTCP {
		if rec.TCPFlags&TCPFlagRST != 0 {
			f.Reason = ReasonTCPClose
			f.State = FlowComplete
			return
		}
		if rec.TCPFlags&TCPFlagFIN != 0 {
			if forward {
				f.sawFwdFIN = true
			} else {
				f.sawBwdFIN = true
			}
		}
		if f.sawFwdFIN && f.sawBwdFIN && rec.TCPFlags&TCPFlagACK != 0 {
			f.Reason = ReasonTCPClose
			f.State = FlowComplete
		}
	}
}

// FeatureVector is the fixed-length, fixed-order input to the
// preprocessing chain and predictors.
type FeatureVector []float64

// FeatureVectorLength is the contractual length of every FeatureVector
// produced by internal/feature and consumed by internal/preprocess:
// basics(5) + rates(2) + size fwd/bwd/total(12) + IAT flow/fwd/bwd(12) +
// TCP flags fwd/bwd(16) + derived(3).
const FeatureVectorLength = 50

// SupervisedOutput is the classifier's verdict on a prepared vector.
type SupervisedOutput struct {
	ClassProbabilities map[string]float64
	PredictedLabel     string
	Confidence         float64
	IsAttack           bool
}

// UnsupervisedOutput is the auto-encoder's verdict on a prepared vector.
type UnsupervisedOutput struct {
	ReconstructionError float64
	AnomalyScore        float64
	IsAnomaly           bool
	ThresholdUsed       float64
}

// DecisionKind enumerates the fused verdict categories.
type DecisionKind string

const (
	DecisionConfirmedAttack DecisionKind = "confirmed_attack"
	DecisionSuspicious      DecisionKind = "suspicious"
	DecisionUnknownAnomaly  DecisionKind = "unknown_anomaly"
	DecisionNormal          DecisionKind = "normal"
)

// Severity enumerates alert severities.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// AlertStatus is the lifecycle status of a persisted alert.
type AlertStatus string

const (
	AlertStatusOpen         AlertStatus = "open"
	AlertStatusAcknowledged AlertStatus = "acknowledged"
	AlertStatusResolved     AlertStatus = "resolved"
)

// Decision is the DecisionEngine's fused verdict for one flow.
type Decision struct {
	FlowID     string
	Kind       DecisionKind
	FinalRisk  float64
	Severity   Severity
	Priority   int
	AttackType *string
}

// AlertRecord is the persisted-and-published record of a non-normal
// decision.
type AlertRecord struct {
	ID          string
	FlowID      string
	Severity    Severity
	AttackType  *string
	ThreatScore float64
	Decision    DecisionKind
	Status      AlertStatus
	Priority    int
	Metadata    map[string]any
	CreatedAt   time.Time
}

// PredictionRecord is the persisted supervised-classifier result.
type PredictionRecord struct {
	ID                 string
	FlowID             string
	PredictedLabel     string
	Confidence         float64
	ClassProbabilities map[string]float64
}

// AnomalyRecord is the persisted auto-encoder result.
type AnomalyRecord struct {
	ID                  string
	FlowID              string
	ReconstructionError float64
	AnomalyScore        float64
	ThresholdUsed       float64
	IsAnomaly           bool
}
