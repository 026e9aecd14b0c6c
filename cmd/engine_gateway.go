/*
Copyright © 2026 Michael Putera Wardana <michaelputeraw@gmail.com>
*/
package cmd

import (
	"github.com/krobus00/execution-engine/internal/bootstrap"
	"github.com/spf13/cobra"
)

// engineGatewayCmd represents the engineGateway command
var engineGatewayCmd = &cobra.Command{
	Use:   "engine-gateway",
	Short: "Start the Execution Engine Gateway service",
	Long: `The Execution Engine Gateway accepts prioritized trade-order submissions,
drains them through a single execution worker against the configured exchange
adapter, and serves order status, positions, and execution analytics over HTTP.
Order history write-through (Postgres), execution events (NATS JetStream), and
position snapshots (Redis) are enabled per configuration.`,
	Run: bootstrap.StartEngineGateway,
}

func init() {
	rootCmd.AddCommand(engineGatewayCmd)
}
