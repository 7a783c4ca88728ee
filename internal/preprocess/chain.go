// Package preprocess implements the fixed Validator -> FeatureSelector ->
// Scaler chain that normalises a raw feature vector for the predictors.
// The ordering is a hard invariant: reversing steps 2 and 3 silently
// produces wrong predictions.
package preprocess

import (
	"math"

	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/model"
)

// globalClipMin/Max bound any raw feature lacking an artifact-provided
// per-feature range.
const (
	globalClipMin = -1e6
	globalClipMax = 1e6
)

// Chain applies validation, selection, and scaling using one immutable
// artifact bundle. Safe for concurrent use by the inference pool.
type Chain struct {
	selector model.FeatureSelector
	scaler   model.Scaler
}

// NewChain builds a Chain bound to the given artifact bundle.
func NewChain(b *model.Bundle) *Chain {
	return &Chain{selector: b.Selector, scaler: b.Scaler}
}

// Transform runs the three-stage chain over a raw feature vector,
// returning the prepared vector ready for the predictors.
func (c *Chain) Transform(raw core.FeatureVector) []float64 {
	validated := c.validate(raw)
	selected := c.selectFeatures(validated)
	return c.scale(selected)
}

// validate replaces NaN/+-Inf with 0 and clips each coordinate to its
// plausible range.
func (c *Chain) validate(raw core.FeatureVector) []float64 {
	out := make([]float64, len(raw))
	for i, x := range raw {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			x = 0
		}
		lo, hi := globalClipMin, globalClipMax
		if i < len(c.selector.ClipMin) {
			lo = c.selector.ClipMin[i]
		}
		if i < len(c.selector.ClipMax) {
			hi = c.selector.ClipMax[i]
		}
		if x < lo {
			x = lo
		}
		if x > hi {
			x = hi
		}
		out[i] = x
	}
	return out
}

// selectFeatures projects onto the artifact-defined subset of indices,
// in artifact order. Out-of-range indices are skipped defensively.
func (c *Chain) selectFeatures(validated []float64) []float64 {
	if len(c.selector.Indices) == 0 {
		return validated
	}
	out := make([]float64, 0, len(c.selector.Indices))
	for _, idx := range c.selector.Indices {
		if idx >= 0 && idx < len(validated) {
			out = append(out, validated[idx])
		} else {
			out = append(out, 0)
		}
	}
	return out
}

// scale applies element-wise standardisation (x-mu)/sigma. A zero sigma
// leaves the coordinate unscaled rather than dividing by zero.
func (c *Chain) scale(selected []float64) []float64 {
	out := make([]float64, len(selected))
	for i, x := range selected {
		mu, sigma := 0.0, 1.0
		if i < len(c.scaler.Mu) {
			mu = c.scaler.Mu[i]
		}
		if i < len(c.scaler.Sigma) && c.scaler.Sigma[i] != 0 {
			sigma = c.scaler.Sigma[i]
		}
		out[i] = (x - mu) / sigma
	}
	return out
}
