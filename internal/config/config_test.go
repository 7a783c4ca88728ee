package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nds.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfigFile(t, "nds:\n  node:\n    hostname: test-host\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Capture.Interface != "auto" {
		t.Errorf("expected default interface auto, got %q", cfg.Capture.Interface)
	}
	if cfg.Capture.BufferSize != 1000 {
		t.Errorf("expected default buffer size 1000, got %d", cfg.Capture.BufferSize)
	}
	if cfg.Flow.IdleTimeoutSeconds != 120 {
		t.Errorf("expected default idle timeout 120, got %d", cfg.Flow.IdleTimeoutSeconds)
	}
	if cfg.Decision.ThresholdAttack != 0.7 {
		t.Errorf("expected default threshold_attack 0.7, got %v", cfg.Decision.ThresholdAttack)
	}
	if cfg.Node.Hostname != "test-host" {
		t.Errorf("expected hostname test-host, got %q", cfg.Node.Hostname)
	}
}

func TestValidateAndApplyDefaultsRejectsBadLogLevel(t *testing.T) {
	cfg := &GlobalConfig{Log: LogConfig{Level: "verbose", Format: "json"}}
	if err := cfg.ValidateAndApplyDefaults(); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestRenormaliseWeights(t *testing.T) {
	t.Run("sums to one already", func(t *testing.T) {
		w := FusionWeights{Supervised: 0.5, Unsupervised: 0.3, Reputation: 0.2}
		renormaliseWeights(&w)
		if w.Supervised != 0.5 || w.Unsupervised != 0.3 || w.Reputation != 0.2 {
			t.Errorf("unexpected renormalisation of already-valid weights: %+v", w)
		}
	})

	t.Run("rescales non-unit sum", func(t *testing.T) {
		w := FusionWeights{Supervised: 1, Unsupervised: 1, Reputation: 2}
		renormaliseWeights(&w)
		sum := w.Supervised + w.Unsupervised + w.Reputation
		if sum < 0.999 || sum > 1.001 {
			t.Errorf("expected weights to sum to 1, got %v", sum)
		}
	})

	t.Run("falls back to default on non-positive sum", func(t *testing.T) {
		w := FusionWeights{}
		renormaliseWeights(&w)
		if w.Supervised != 0.5 || w.Unsupervised != 0.3 || w.Reputation != 0.2 {
			t.Errorf("expected default weights, got %+v", w)
		}
	})
}
