package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "oscrelay",
		Short: "Relay OSC messages between endpoints",
		Long: `oscrelay listens for OSC messages on configured UDP addresses, matches each
message's address against ordered mappings and forwards matches to their
destinations under a new address.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./config.yaml", "path to config (json or yaml)")

	root.AddCommand(newServeCommand(&cfgPath))
	root.AddCommand(newSendCommand())
	root.AddCommand(newValidateCommand(&cfgPath))
	return root
}
