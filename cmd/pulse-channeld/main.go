// Package main is the entry point for the Pulse Remit channel daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "pulse-channeld",
		Short: "Off-chain payment channel client for Pulse Remit",
		Long: `pulse-channeld maintains payment channel sessions against a relay:
it authenticates with a wallet-signed challenge, executes signed off-chain
transfers, and drives settlement handoff. It exposes a local HTTP gateway
for the dashboard.`,
	}

	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./config.yaml)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newWalletCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
