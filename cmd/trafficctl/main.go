// Command trafficctl is the operator toolbox for trafficd: it checks feed
// payloads against the normalizer and serves a mock feed for local runs.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "trafficctl",
		Short: "Operator tools for the traffic alerts service",
		Long: `trafficctl works with the payloads trafficd polls.

Examples:
  # Check a telemetry snapshot and print congestion levels
  trafficctl normalize cams.json --kind telemetry

  # Serve mock telemetry and incident feeds on :8081
  trafficctl mockfeed --addr :8081`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.AddCommand(newNormalizeCmd(), newMockfeedCmd(), newVersionCmd())
	return root
}
