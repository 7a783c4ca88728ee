package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"icc.tech/nds/internal/daemon"
)

var stopTimeout time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running detection daemon",
	Long: `Stop reads the daemon's PID from the pid file and sends SIGTERM,
waiting for the process to exit gracefully.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 10*time.Second, "how long to wait for shutdown")
}

func runStop(cmd *cobra.Command, args []string) error {
	if err := daemon.StopByPIDFile(pidFile, stopTimeout); err != nil {
		return fmt.Errorf("stop daemon: %w", err)
	}
	fmt.Println("nds daemon stopped")
	return nil
}
