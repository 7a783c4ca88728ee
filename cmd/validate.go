package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/nds/internal/config"
	"icc.tech/nds/internal/model"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and model artifacts without starting capture",
	Long: `Validate loads and validates the configuration file, then attempts
to load the model artifact bundle from the configured directory, reporting
whether the daemon would start in degraded mode.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("config invalid: %w", err)
	}
	fmt.Printf("config OK: %s\n", configFile)
	fmt.Printf("  capture interface: %s\n", cfg.Capture.Interface)
	fmt.Printf("  fusion weights:    supervised=%.2f unsupervised=%.2f reputation=%.2f\n",
		cfg.Decision.Weights.Supervised, cfg.Decision.Weights.Unsupervised, cfg.Decision.Weights.Reputation)

	if _, err := model.Load(cfg.Model.Dir); err != nil {
		fmt.Printf("model artifacts: UNAVAILABLE (%v)\n", err)
		fmt.Println("the daemon would start in degraded mode: no inference, no alerts")
		return nil
	}
	fmt.Printf("model artifacts: OK (%s)\n", cfg.Model.Dir)
	return nil
}
