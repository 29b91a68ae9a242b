package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mcpmux/mcpmux/internal/version"
)

func main() {
	root := &cobra.Command{
		Use:   "mcpmux",
		Short: "Multiplex MCP tool servers behind one shared loopback listener",
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the gateway multiplexing service",
			Run: func(cmd *cobra.Command, args []string) {
				runServe()
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Println(version.GetInfo())
			},
		},
	)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
