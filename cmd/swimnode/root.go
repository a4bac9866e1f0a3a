package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swimnode",
	Short: "A SWIM membership and failure-detection node",
	Long: `swimnode runs a single member of a SWIM cluster: periodic
probing, indirect probing, suspicion timeouts and infection-style
gossip, over a UDP transport.`,
}

func init() {
	rootCmd.AddCommand(runCmd)
}
