package pubsub

import "testing"

func TestSmoothFirstScore(t *testing.T) {
	got := smooth(0.3, 0.8, 0)
	want := 0.24
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("smooth(0.3, 0.8, 0) = %v, want %v", got, want)
	}
}

func TestSmoothBlendsWithPrior(t *testing.T) {
	got := smooth(0.3, 1.0, 0.5)
	want := 0.3*1.0 + 0.7*0.5
	if diff := got - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("smooth(0.3, 1.0, 0.5) = %v, want %v", got, want)
	}
}
