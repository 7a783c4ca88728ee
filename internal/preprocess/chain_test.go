package preprocess

import (
	"math"
	"testing"

	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/model"
)

func TestTransformReplacesNaNAndClips(t *testing.T) {
	b := &model.Bundle{
		Selector: model.FeatureSelector{
			Indices: []int{0, 1, 2},
			ClipMin: []float64{0, 0, 0},
			ClipMax: []float64{10, 10, 10},
		},
		Scaler: model.Scaler{Mu: []float64{0, 0, 0}, Sigma: []float64{1, 1, 1}},
	}
	c := NewChain(b)

	raw := core.FeatureVector{math.NaN(), 100, math.Inf(1)}
	out := c.Transform(raw)

	if out[0] != 0 {
		t.Errorf("expected NaN replaced with 0, got %v", out[0])
	}
	if out[1] != 10 {
		t.Errorf("expected clip to 10, got %v", out[1])
	}
	if out[2] != 0 {
		t.Errorf("expected +Inf replaced with 0, got %v", out[2])
	}
}

func TestTransformSelectsAndScales(t *testing.T) {
	b := &model.Bundle{
		Selector: model.FeatureSelector{Indices: []int{2, 0}},
		Scaler:   model.Scaler{Mu: []float64{5, 1}, Sigma: []float64{2, 1}},
	}
	c := NewChain(b)

	raw := core.FeatureVector{10, 20, 30}
	out := c.Transform(raw)

	if len(out) != 2 {
		t.Fatalf("expected length 2 after selection, got %d", len(out))
	}
	if out[0] != (30-5)/2.0 {
		t.Errorf("expected scaled selected[0]=12.5, got %v", out[0])
	}
	if out[1] != (10-1)/1.0 {
		t.Errorf("expected scaled selected[1]=9, got %v", out[1])
	}
}

func TestTransformZeroSigmaLeavesUnscaled(t *testing.T) {
	b := &model.Bundle{
		Selector: model.FeatureSelector{Indices: []int{0}},
		Scaler:   model.Scaler{Mu: []float64{0}, Sigma: []float64{0}},
	}
	c := NewChain(b)

	out := c.Transform(core.FeatureVector{42})
	if out[0] != 42 {
		t.Errorf("expected zero-sigma coordinate left unscaled, got %v", out[0])
	}
}
