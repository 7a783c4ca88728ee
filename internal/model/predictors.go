package model

import (
	"math"

	"icc.tech/nds/internal/core"
)

// benignLabels are predicted labels that never count as an attack,
// regardless of confidence.
var benignLabels = map[string]bool{"BENIGN": true, "NORMAL": true, "LEGITIMATE": true}

// SupervisedPredictor wraps an immutable SupervisedModel. It is
// stateless with respect to call ordering and safe for concurrent use by
// the inference pool.
type SupervisedPredictor struct {
	model      SupervisedModel
	labels     LabelEncoder
	minConfDef float64
}

// NewSupervisedPredictor builds a predictor over the given model and
// label encoder. minConfidence gates is_attack (default 0.5).
func NewSupervisedPredictor(m SupervisedModel, labels LabelEncoder, minConfidence float64) *SupervisedPredictor {
	return &SupervisedPredictor{model: m, labels: labels, minConfDef: minConfidence}
}

// Predict runs the prepared (selected + scaled) vector through the
// linear classifier and softmax, returning class probabilities, the
// argmax label, confidence, and the is_attack gate.
func (p *SupervisedPredictor) Predict(prepared []float64) core.SupervisedOutput {
	logits := make([]float64, len(p.model.Weights))
	for c, row := range p.model.Weights {
		logits[c] = dot(row, prepared) + biasAt(p.model.Bias, c)
	}
	probs := softmax(logits)

	best := 0
	for i, v := range probs {
		if v > probs[best] {
			best = i
		}
	}

	label := "UNKNOWN"
	if best < len(p.labels.Labels) {
		label = p.labels.Labels[best]
	}

	classProbs := make(map[string]float64, len(probs))
	for i, v := range probs {
		name := label
		if i < len(p.labels.Labels) {
			name = p.labels.Labels[i]
		}
		classProbs[name] = v
	}

	confidence := probs[best]
	isAttack := !benignLabels[label] && confidence >= p.minConfDef

	return core.SupervisedOutput{
		ClassProbabilities: classProbs,
		PredictedLabel:     label,
		Confidence:         confidence,
		IsAttack:           isAttack,
	}
}

// UnsupervisedPredictor wraps an immutable auto-encoder and its fitted
// threshold statistics.
type UnsupervisedPredictor struct {
	model     UnsupervisedModel
	mu, sigma float64
	k         float64
	zMax      float64
}

// NewUnsupervisedPredictor builds a predictor over the given
// auto-encoder and threshold statistics. k is the sigma multiplier
// (default 3.0), zMax the anomaly-score normalisation constant (default
// 10.0).
func NewUnsupervisedPredictor(m UnsupervisedModel, stats ThresholdStats, k, zMax float64) *UnsupervisedPredictor {
	return &UnsupervisedPredictor{model: m, mu: stats.Mu, sigma: stats.Sigma, k: k, zMax: zMax}
}

// Predict reconstructs the prepared vector through the auto-encoder and
// scores the reconstruction error against the fitted threshold.
func (p *UnsupervisedPredictor) Predict(prepared []float64) core.UnsupervisedOutput {
	hidden := make([]float64, len(p.model.EncoderWeights))
	for h, row := range p.model.EncoderWeights {
		hidden[h] = relu(dot(row, prepared) + biasAt(p.model.EncoderBias, h))
	}

	reconstructed := make([]float64, len(p.model.DecoderWeights))
	for o, row := range p.model.DecoderWeights {
		reconstructed[o] = dot(row, hidden) + biasAt(p.model.DecoderBias, o)
	}

	errVal := meanSquaredError(prepared, reconstructed)
	threshold := p.mu + p.k*p.sigma

	z := 0.0
	if p.sigma > 0 {
		z = (errVal - p.mu) / p.sigma
	}
	score := clamp(z/p.zMax, 0, 1)

	return core.UnsupervisedOutput{
		ReconstructionError: errVal,
		AnomalyScore:        score,
		IsAnomaly:           errVal > threshold,
		ThresholdUsed:       threshold,
	}
}

func dot(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

func biasAt(bias []float64, i int) float64 {
	if i < len(bias) {
		return bias[i]
	}
	return 0
}

func softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		e := math.Exp(v - max)
		out[i] = e
		sum += e
	}
	if sum == 0 {
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func meanSquaredError(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum / float64(n)
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

// WarmUp runs both predictors once on a zero vector to amortise
// first-call initialisation cost, per spec.md §4.5.
func WarmUp(sup *SupervisedPredictor, unsup *UnsupervisedPredictor, width int) {
	zero := make([]float64, width)
	sup.Predict(zero)
	unsup.Predict(zero)
}
