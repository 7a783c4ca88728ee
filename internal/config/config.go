// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration. Maps to the `nds:`
// root key in YAML.
type GlobalConfig struct {
	Node     NodeConfig     `mapstructure:"node"`
	Control  ControlConfig  `mapstructure:"control"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Flow     FlowConfig     `mapstructure:"flow"`
	Model    ModelConfig    `mapstructure:"model"`
	Decision DecisionConfig `mapstructure:"decision"`
	Store    StoreConfig    `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	WS       WSConfig       `mapstructure:"ws"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	DataDir  string         `mapstructure:"data_dir"`
}

// NodeConfig contains node identification settings.
type NodeConfig struct {
	IP       string `mapstructure:"ip"` // empty = auto-detect
	Hostname string `mapstructure:"hostname"`
}

// ControlConfig contains local control-plane settings.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// CaptureConfig configures the Sniffer.
type CaptureConfig struct {
	Interface  string `mapstructure:"interface"`   // CAPTURE_INTERFACE, default "auto"
	BufferSize int    `mapstructure:"buffer_size"` // CAPTURE_BUFFER_SIZE, default 1000
	SnapLen    int    `mapstructure:"snap_len"`
	BPFFilter  string `mapstructure:"bpf_filter"`
}

// FlowConfig configures the FlowBuilder.
type FlowConfig struct {
	IdleTimeoutSeconds int `mapstructure:"idle_timeout_seconds"` // CAPTURE_FLOW_TIMEOUT, default 120
	HardCapSeconds     int `mapstructure:"hard_cap_seconds"`     // default 3600
}

// ModelConfig configures artifact loading and predictors.
type ModelConfig struct {
	Dir                         string  `mapstructure:"dir"`                           // MODEL_DIR
	MinClassificationConfidence float64 `mapstructure:"min_classification_confidence"` // MIN_CLASSIFICATION_CONFIDENCE
	AnomalyThresholdK           float64 `mapstructure:"anomaly_threshold_k"`           // ANOMALY_THRESHOLD_K
	AnomalyZMax                 float64 `mapstructure:"anomaly_z_max"`
	InferenceWorkers            int     `mapstructure:"inference_workers"` // INFERENCE_WORKERS, 0=#cores
	InferenceQueueSize          int     `mapstructure:"inference_queue_size"`
}

// DecisionConfig configures risk fusion and the decision thresholds.
type DecisionConfig struct {
	Weights        FusionWeights `mapstructure:"weights"`
	ThresholdAttack float64      `mapstructure:"threshold_attack"` // THRESHOLD_ATTACK
}

// FusionWeights are the risk-fusion weights; must sum to 1 after
// renormalisation.
type FusionWeights struct {
	Supervised   float64 `mapstructure:"supervised"`   // WEIGHT_SUPERVISED
	Unsupervised float64 `mapstructure:"unsupervised"` // WEIGHT_UNSUPERVISED
	Reputation   float64 `mapstructure:"reputation"`   // WEIGHT_REPUTATION
}

// StoreConfig configures the SQLite datastore.
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the pub/sub client.
type RedisConfig struct {
	Addr            string `mapstructure:"addr"`
	AlertChannel    string `mapstructure:"alert_channel"`
	ThreatScoreKey  string `mapstructure:"threat_score_key"`
	SmoothingAlpha  float64 `mapstructure:"smoothing_alpha"`
}

// WSConfig configures the AlertBroadcaster.
type WSConfig struct {
	Listen          string `mapstructure:"listen"`
	Path            string `mapstructure:"path"`
	SendQueueLength int    `mapstructure:"send_queue_length"`
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level"`
	Format  string           `mapstructure:"format"`
	Outputs LogOutputsConfig `mapstructure:"outputs"`
}

// LogOutputsConfig contains structured log output destinations.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Path     string         `mapstructure:"path"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups"`
	Compress   bool `mapstructure:"compress"`
}

// configRoot is the top-level wrapper matching the YAML structure
// `nds: ...`.
type configRoot struct {
	NDS GlobalConfig `mapstructure:"nds"`
}

// Load loads configuration from a YAML file at path, applying defaults
// and environment overrides (prefix NDS_, e.g. NDS_CAPTURE_INTERFACE).
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.NDS

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values matching the keys in spec.md §6.
func setDefaults(v *viper.Viper) {
	v.SetDefault("nds.node.ip", "")

	v.SetDefault("nds.control.pid_file", "/var/run/nds.pid")
	v.SetDefault("nds.control.socket", "/var/run/nds.sock")

	v.SetDefault("nds.capture.interface", "auto")
	v.SetDefault("nds.capture.buffer_size", 1000)
	v.SetDefault("nds.capture.snap_len", 65535)
	v.SetDefault("nds.capture.bpf_filter", "ip")

	v.SetDefault("nds.flow.idle_timeout_seconds", 120)
	v.SetDefault("nds.flow.hard_cap_seconds", 3600)

	v.SetDefault("nds.model.dir", "./ai/artifacts")
	v.SetDefault("nds.model.min_classification_confidence", 0.5)
	v.SetDefault("nds.model.anomaly_threshold_k", 3.0)
	v.SetDefault("nds.model.anomaly_z_max", 10.0)
	v.SetDefault("nds.model.inference_workers", 0)
	v.SetDefault("nds.model.inference_queue_size", 4096)

	v.SetDefault("nds.decision.weights.supervised", 0.5)
	v.SetDefault("nds.decision.weights.unsupervised", 0.3)
	v.SetDefault("nds.decision.weights.reputation", 0.2)
	v.SetDefault("nds.decision.threshold_attack", 0.7)

	v.SetDefault("nds.store.path", "/var/lib/nds/nds.db")

	v.SetDefault("nds.redis.addr", "127.0.0.1:6379")
	v.SetDefault("nds.redis.alert_channel", "nds:alerts:realtime")
	v.SetDefault("nds.redis.threat_score_key", "nds:threat_score")
	v.SetDefault("nds.redis.smoothing_alpha", 0.3)

	v.SetDefault("nds.ws.listen", ":8088")
	v.SetDefault("nds.ws.path", "/ws/alerts")
	v.SetDefault("nds.ws.send_queue_length", 64)

	v.SetDefault("nds.metrics.enabled", true)
	v.SetDefault("nds.metrics.listen", ":9090")
	v.SetDefault("nds.metrics.path", "/metrics")

	v.SetDefault("nds.log.level", "info")
	v.SetDefault("nds.log.format", "json")
	v.SetDefault("nds.log.outputs.file.enabled", false)
	v.SetDefault("nds.log.outputs.file.path", "/var/log/nds/nds.log")
	v.SetDefault("nds.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("nds.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("nds.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("nds.log.outputs.file.rotation.compress", true)

	v.SetDefault("nds.data_dir", "/var/lib/nds")
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults: hostname/IP auto-detect and fusion-weight renormalisation.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	resolvedIP, err := resolveNodeIP(&cfg.Node)
	if err != nil {
		return err
	}
	cfg.Node.IP = resolvedIP

	renormaliseWeights(&cfg.Decision.Weights)

	return nil
}

// resolveNodeIP resolves the node IP address: explicit config/env value
// first, then auto-detect the first non-loopback, non-link-local IPv4.
func resolveNodeIP(node *NodeConfig) (string, error) {
	if node.IP != "" {
		return node.IP, nil
	}

	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("cannot resolve node IP: failed to list interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipNet.IP.To4()
			if ip4 == nil {
				continue
			}
			if ip4[0] == 169 && ip4[1] == 254 {
				continue
			}
			return ip4.String(), nil
		}
	}

	return "", fmt.Errorf("cannot resolve node IP: set NDS_NODE_IP or nds.node.ip")
}

// renormaliseWeights rescales fusion weights to sum to 1 when configured
// weights don't, per spec.md §4.6 / §7 (invalid configuration: renormalise
// weights, log).
func renormaliseWeights(w *FusionWeights) {
	sum := w.Supervised + w.Unsupervised + w.Reputation
	if sum <= 0 {
		slog.Warn("fusion weights sum to zero or less, resetting to defaults",
			"supervised", w.Supervised, "unsupervised", w.Unsupervised, "reputation", w.Reputation)
		w.Supervised, w.Unsupervised, w.Reputation = 0.5, 0.3, 0.2
		return
	}
	if sum == 1 {
		return
	}
	slog.Warn("fusion weights do not sum to 1, renormalising",
		"supervised", w.Supervised, "unsupervised", w.Unsupervised, "reputation", w.Reputation, "sum", sum)
	w.Supervised /= sum
	w.Unsupervised /= sum
	w.Reputation /= sum
}
