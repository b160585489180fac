package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tollgate/internal/cli"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	var endpoint string

	rootCmd := &cobra.Command{
		Use:   "tollgate",
		Short: "Tollgate - pay-per-call blockchain RPC gateway",
		Long: `Tollgate is an x402 payment gateway in front of blockchain RPC
providers: agents pay per call (or buy pre-paid batches) in stablecoins and
the gateway routes each call to the best upstream.

Quick Start:
  tollgate health         # Check gateway and facilitator health
  tollgate providers      # List upstream providers
  tollgate facilitator    # Show the active payment facilitator
  tollgate batch-pricing  # Show pre-paid bundle offers`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	}

	rootCmd.PersistentFlags().StringVar(&endpoint, "api", defaultEndpoint(), "Gateway base URL")

	healthCmd := &cobra.Command{
		Use:   "health",
		Short: "Check gateway and facilitator health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Health(endpoint)
		},
	}

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List upstream providers and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Providers(endpoint)
		},
	}

	facilitatorCmd := &cobra.Command{
		Use:   "facilitator",
		Short: "Show the active payment facilitator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Facilitator(endpoint)
		},
	}

	batchPricingCmd := &cobra.Command{
		Use:   "batch-pricing",
		Short: "Show pre-paid bundle offers for a chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			chain, _ := cmd.Flags().GetString("chain")
			return cli.BatchPricing(endpoint, chain)
		},
	}
	batchPricingCmd.Flags().String("chain", "solana", "Chain to list offers for")

	rootCmd.AddCommand(healthCmd, providersCmd, facilitatorCmd, batchPricingCmd)
	return rootCmd
}

func defaultEndpoint() string {
	if v := os.Getenv("TOLLGATE_API"); v != "" {
		return v
	}
	return cli.DefaultEndpoint
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
