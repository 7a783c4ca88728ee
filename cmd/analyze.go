package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"icc.tech/nds/internal/config"
	"icc.tech/nds/internal/core"
	"icc.tech/nds/internal/decision"
	"icc.tech/nds/internal/model"
	"icc.tech/nds/internal/pipeline"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <vector-file>",
	Short: "Score one feature vector offline",
	Long: `Analyze loads the model artifact bundle and runs a single raw
50-dimension feature vector through the preprocessing chain and both
predictors, printing the fused decision. The vector file holds either a
JSON array of numbers or one number per line.`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	bundle, err := model.Load(cfg.Model.Dir)
	if err != nil {
		return fmt.Errorf("load model artifacts: %w", err)
	}

	raw, err := readFeatureVector(args[0])
	if err != nil {
		return fmt.Errorf("read vector file: %w", err)
	}

	weights := decision.Weights{
		Supervised:   cfg.Decision.Weights.Supervised,
		Unsupervised: cfg.Decision.Weights.Unsupervised,
		Reputation:   cfg.Decision.Weights.Reputation,
	}

	d, err := pipeline.Analyze(bundle, weights, cfg.Decision.ThresholdAttack,
		cfg.Model.MinClassificationConfidence, cfg.Model.AnomalyThresholdK, cfg.Model.AnomalyZMax, raw)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}

	fmt.Printf("kind:       %s\n", d.Kind)
	fmt.Printf("final_risk: %.4f\n", d.FinalRisk)
	fmt.Printf("severity:   %s\n", d.Severity)
	fmt.Printf("priority:   %d\n", d.Priority)
	if d.AttackType != nil {
		fmt.Printf("attack:     %s\n", *d.AttackType)
	}
	return nil
}

func readFeatureVector(path string) (core.FeatureVector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var values []float64
		if err := json.Unmarshal([]byte(trimmed), &values); err != nil {
			return nil, fmt.Errorf("parse JSON vector: %w", err)
		}
		return core.FeatureVector(values), nil
	}

	var values []float64
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", line, err)
		}
		values = append(values, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return core.FeatureVector(values), nil
}
