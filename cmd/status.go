package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/nds/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report daemon health",
	Long: `Status loads the config to find the metrics listen address, then
queries the running daemon's /healthz endpoint for capture, model,
datastore, and pub/sub health booleans, and /api/models/status for which
model artifact is missing, if any.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cfg.Metrics.Enabled {
		return fmt.Errorf("metrics server disabled in config, /healthz unavailable")
	}

	base := "http://" + healthzAddr(cfg.Metrics.Listen)
	client := &http.Client{Timeout: 3 * time.Second}

	var health struct {
		Status string          `json:"status"`
		Checks map[string]bool `json:"checks"`
	}
	if err := getJSON(client, base+"/healthz", &health); err != nil {
		return fmt.Errorf("nds daemon unreachable at %s: %w", base, err)
	}

	fmt.Printf("status: %s\n", health.Status)
	for _, name := range []string{"capture", "model", "datastore", "pubsub"} {
		fmt.Printf("  %-10s %v\n", name, health.Checks[name])
	}

	var models struct {
		Available       bool   `json:"available"`
		MissingArtifact string `json:"missing_artifact"`
		Error           string `json:"error"`
	}
	if err := getJSON(client, base+"/api/models/status", &models); err == nil && !models.Available {
		fmt.Printf("models_status: unavailable")
		if models.MissingArtifact != "" {
			fmt.Printf(" (missing artifact: %s)", models.MissingArtifact)
		}
		fmt.Println()
	}

	if health.Status != "ok" {
		return fmt.Errorf("nds daemon is degraded")
	}
	return nil
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// healthzAddr turns a listen address like ":9090" into a dialable host,
// since an empty host means "all interfaces" for listening but is not a
// valid address to connect to.
func healthzAddr(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "127.0.0.1" + listen
	}
	return listen
}
