// Package decision implements the DecisionEngine: it fuses the
// supervised and unsupervised predictor outputs with an IP-reputation
// signal into a single decision, persists the result in one transaction,
// and publishes alerts.
package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/metrics"
)

const (
	thresholdCritical = 0.85
	thresholdHigh      = 0.65
	thresholdMedium    = 0.40

	confirmedAttackConfidence = 0.80
)

// Weights are the risk-fusion weights; callers must pass
// already-renormalised weights (see config.renormaliseWeights).
type Weights struct {
	Supervised   float64
	Unsupervised float64
	Reputation   float64
}

// Datastore is the persistence side effect, implemented by
// internal/store.Store.
type Datastore interface {
	PersistFlowResult(ctx context.Context, f *core.Flow, pred core.PredictionRecord, anomaly core.AnomalyRecord, alert *core.AlertRecord) error
}

// Publisher is the pub/sub side effect, implemented by
// internal/pubsub.Publisher.
type Publisher interface {
	PublishAlert(ctx context.Context, alert core.AlertRecord) error
}

// Engine fuses predictor outputs into a Decision and orchestrates
// persistence and publication.
type Engine struct {
	weights         Weights
	thresholdAttack float64
	store           Datastore
	publisher       Publisher
}

// NewEngine builds an Engine. thresholdAttack is the final_risk cut for
// the "suspicious" branch of the decision matrix (default 0.70).
func NewEngine(weights Weights, thresholdAttack float64, store Datastore, publisher Publisher) *Engine {
	return &Engine{weights: weights, thresholdAttack: thresholdAttack, store: store, publisher: publisher}
}

// Decide fuses the two predictor outputs and an IP-reputation score into
// a Decision, per the risk formula and decision matrix in spec.md §4.6.
func (e *Engine) Decide(sup core.SupervisedOutput, unsup core.UnsupervisedOutput, ipReputation float64) core.Decision {
	supRisk := 1 - sup.Confidence
	if sup.IsAttack {
		supRisk = sup.Confidence
	}

	finalRisk := e.weights.Supervised*supRisk + e.weights.Unsupervised*unsup.AnomalyScore + e.weights.Reputation*ipReputation
	finalRisk = clamp(finalRisk, 0, 1)

	kind := classify(sup, unsup, finalRisk, e.thresholdAttack)
	severity := severityFor(finalRisk)
	priority := priorityFor(severity, kind)

	d := core.Decision{Kind: kind, FinalRisk: finalRisk, Severity: severity, Priority: priority}
	if sup.IsAttack {
		label := sup.PredictedLabel
		d.AttackType = &label
	}
	return d
}

// classify implements the decision matrix:
//
//	is_attack  is_anomaly  decision
//	true       true        confirmed_attack
//	true       false       confirmed_attack if confidence>=0.80, else suspicious
//	false      true        unknown_anomaly
//	false      false       suspicious if final_risk>=threshold, else normal
func classify(sup core.SupervisedOutput, unsup core.UnsupervisedOutput, finalRisk, thresholdAttack float64) core.DecisionKind {
	switch {
	case sup.IsAttack && unsup.IsAnomaly:
		return core.DecisionConfirmedAttack
	case sup.IsAttack && !unsup.IsAnomaly:
		if sup.Confidence >= confirmedAttackConfidence {
			return core.DecisionConfirmedAttack
		}
		return core.DecisionSuspicious
	case !sup.IsAttack && unsup.IsAnomaly:
		return core.DecisionUnknownAnomaly
	default:
		if finalRisk >= thresholdAttack {
			return core.DecisionSuspicious
		}
		return core.DecisionNormal
	}
}

func severityFor(finalRisk float64) core.Severity {
	switch {
	case finalRisk >= thresholdCritical:
		return core.SeverityCritical
	case finalRisk >= thresholdHigh:
		return core.SeverityHigh
	case finalRisk >= thresholdMedium:
		return core.SeverityMedium
	default:
		return core.SeverityLow
	}
}

func priorityFor(severity core.Severity, kind core.DecisionKind) int {
	if kind == core.DecisionNormal {
		return 5
	}
	row := map[core.Severity]map[core.DecisionKind]int{
		core.SeverityCritical: {core.DecisionConfirmedAttack: 1, core.DecisionUnknownAnomaly: 1, core.DecisionSuspicious: 2},
		core.SeverityHigh:     {core.DecisionConfirmedAttack: 2, core.DecisionUnknownAnomaly: 2, core.DecisionSuspicious: 3},
		core.SeverityMedium:   {core.DecisionConfirmedAttack: 3, core.DecisionUnknownAnomaly: 3, core.DecisionSuspicious: 4},
	}
	if byKind, ok := row[severity]; ok {
		if p, ok := byKind[kind]; ok {
			return p
		}
	}
	return 5
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// Process runs the full decision, persistence, and publication pipeline
// for one completed, scored flow. Persistence failures drop the flow
// without retry; publication failures are logged and counted but never
// fail the call, per spec.md §4.6.
func (e *Engine) Process(ctx context.Context, f *core.Flow, sup core.SupervisedOutput, unsup core.UnsupervisedOutput, ipReputation float64) {
	d := e.Decide(sup, unsup, ipReputation)
	metrics.DecisionsTotal.WithLabelValues(string(d.Kind)).Inc()

	pred := core.PredictionRecord{
		ID:                 uuid.NewString(),
		FlowID:             f.ID,
		PredictedLabel:     sup.PredictedLabel,
		Confidence:         sup.Confidence,
		ClassProbabilities: sup.ClassProbabilities,
	}
	anomaly := core.AnomalyRecord{
		ID:                  uuid.NewString(),
		FlowID:              f.ID,
		ReconstructionError: unsup.ReconstructionError,
		AnomalyScore:        unsup.AnomalyScore,
		ThresholdUsed:       unsup.ThresholdUsed,
		IsAnomaly:           unsup.IsAnomaly,
	}

	var alert *core.AlertRecord
	if d.Kind != core.DecisionNormal {
		alert = &core.AlertRecord{
			ID:          uuid.NewString(),
			FlowID:      f.ID,
			Severity:    d.Severity,
			AttackType:  d.AttackType,
			ThreatScore: d.FinalRisk,
			Decision:    d.Kind,
			Status:      core.AlertStatusOpen,
			Priority:    d.Priority,
			CreatedAt:   time.Now(),
		}
	}

	if err := e.store.PersistFlowResult(ctx, f, pred, anomaly, alert); err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("persist_flow_result").Inc()
		slog.Error("dropping flow after persistence failure", "flow_id", f.ID, "error", err)
		return
	}

	if alert == nil {
		return
	}

	if err := e.publisher.PublishAlert(ctx, *alert); err != nil {
		metrics.PubsubErrorsTotal.Inc()
		slog.Warn("alert publish failed", "flow_id", f.ID, "error", err)
		return
	}
	metrics.AlertsPublishedTotal.WithLabelValues(string(alert.Severity)).Inc()
}
