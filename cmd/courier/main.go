package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/courierdev/courier/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:           "courier",
		Short:         "Chat assistant request router",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "Courier %s\n", version.GetInfo())
		},
	}
}
