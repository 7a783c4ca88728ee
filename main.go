// Package main is the entry point for the nds intrusion detection daemon.
package main

import (
	"fmt"
	"os"

	"icc.tech/nds/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
