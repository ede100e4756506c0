package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "meshrelay",
		Short:        "Mesh chat relay for restaurant operations channels",
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newServeCommand(),
		newTokenCommand(),
	)
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
