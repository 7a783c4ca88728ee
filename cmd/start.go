package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"icc.tech/nds/internal/daemon"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the detection daemon in the foreground",
	Long: `Start loads configuration and model artifacts, wires the datastore,
pub/sub publisher, and alert broadcaster, and runs the detection pipeline
until SIGTERM or SIGINT. It always runs in the foreground; use a process
supervisor (systemd, docker, etc.) for background operation.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	d, err := daemon.New(configFile, pidFile)
	if err != nil {
		return fmt.Errorf("build daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}

	return d.Run()
}
