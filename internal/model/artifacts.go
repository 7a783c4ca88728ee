// Package model loads the pre-trained artifact bundle and implements the
// supervised and unsupervised predictors over it.
package model

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"icc.tech/nds/internal/core"
)

// Fixed artifact filenames within MODEL_DIR.
const (
	fileSupervisedModel   = "supervised_model.json"
	fileUnsupervisedModel = "unsupervised_model.json"
	fileScaler            = "scaler.json"
	fileLabelEncoder      = "label_encoder.json"
	fileFeatureSelector   = "feature_selector.json"
	fileThresholdStats    = "threshold_stats.json"
)

// SupervisedModel is a linear multi-class classifier: one weight row and
// bias per class, softmax-normalised at inference time.
type SupervisedModel struct {
	Weights [][]float64 `json:"weights"` // [numClasses][numFeatures]
	Bias    []float64   `json:"bias"`    // [numClasses]
}

// UnsupervisedModel is a single-hidden-layer auto-encoder: encode then
// decode, reconstruction error measured against the input.
type UnsupervisedModel struct {
	EncoderWeights [][]float64 `json:"encoder_weights"` // [hidden][numFeatures]
	EncoderBias    []float64   `json:"encoder_bias"`
	DecoderWeights [][]float64 `json:"decoder_weights"` // [numFeatures][hidden]
	DecoderBias    []float64   `json:"decoder_bias"`
}

// Scaler holds the fitted standardisation parameters: (x-mu)/sigma,
// applied after feature selection.
type Scaler struct {
	Mu    []float64 `json:"mu"`
	Sigma []float64 `json:"sigma"`
}

// LabelEncoder maps class index to human-readable label.
type LabelEncoder struct {
	Labels []string `json:"labels"`
}

// FeatureSelector projects the validated raw vector onto a fixed subset
// of indices, in the artifact's order.
type FeatureSelector struct {
	Indices []int `json:"indices"`
	// ClipMin/ClipMax are per-raw-feature plausible ranges consulted by
	// the Validator, indexed the same as the raw vector (length
	// core.FeatureVectorLength). Either may be nil, in which case the
	// caller's global clip applies instead.
	ClipMin []float64 `json:"clip_min"`
	ClipMax []float64 `json:"clip_max"`
}

// ThresholdStats holds the reconstruction-error distribution used to
// derive the anomaly threshold tau = mu + k*sigma.
type ThresholdStats struct {
	Mu    float64 `json:"mu"`
	Sigma float64 `json:"sigma"`
}

// Bundle is the full, immutable set of loaded artifacts, shared
// read-only across inference workers.
type Bundle struct {
	Supervised   SupervisedModel
	Unsupervised UnsupervisedModel
	Scaler       Scaler
	Labels       LabelEncoder
	Selector     FeatureSelector
	Thresholds   ThresholdStats
}

// MissingArtifactError names the specific artifact file absent from
// MODEL_DIR, so a caller can report which artifact is missing rather
// than just that the bundle failed to load (spec.md's models_status()
// surface).
type MissingArtifactError struct {
	Artifact string
}

func (e *MissingArtifactError) Error() string {
	return fmt.Sprintf("%s: %s", e.Artifact, core.ErrArtifactMissing)
}

func (e *MissingArtifactError) Unwrap() error {
	return core.ErrArtifactMissing
}

// Load reads the six fixed-name artifact files from dir. A missing file
// is reported as a *MissingArtifactError wrapping core.ErrArtifactMissing;
// the caller (daemon/pipeline startup) treats this as a signal to enter
// degraded mode rather than a fatal error.
func Load(dir string) (*Bundle, error) {
	var b Bundle

	if err := loadJSON(dir, fileSupervisedModel, &b.Supervised); err != nil {
		return nil, err
	}
	if err := loadJSON(dir, fileUnsupervisedModel, &b.Unsupervised); err != nil {
		return nil, err
	}
	if err := loadJSON(dir, fileScaler, &b.Scaler); err != nil {
		return nil, err
	}
	if err := loadJSON(dir, fileLabelEncoder, &b.Labels); err != nil {
		return nil, err
	}
	if err := loadJSON(dir, fileFeatureSelector, &b.Selector); err != nil {
		return nil, err
	}
	if err := loadJSON(dir, fileThresholdStats, &b.Thresholds); err != nil {
		return nil, err
	}

	if b.Thresholds.Sigma <= 0 {
		slog.Warn("threshold_stats artifact missing usable sigma, falling back to defaults",
			"mu", 0.01, "sigma", 0.005, "dir", dir)
		b.Thresholds.Mu, b.Thresholds.Sigma = 0.01, 0.005
	}

	return &b, nil
}

func loadJSON(dir, name string, out any) error {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &MissingArtifactError{Artifact: name}
		}
		return fmt.Errorf("reading %s: %w", name, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: %w", name, core.ErrArtifactInvalid)
	}
	return nil
}
