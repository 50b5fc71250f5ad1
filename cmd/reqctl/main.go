package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-dispatch/internal/commands"
)

var version = "dev" // Will be set during build

func main() {
	rootCmd := &cobra.Command{
		Use:   "reqctl",
		Short: "Issue HTTP requests through a callback dispatcher",
		Long: `reqctl sends one request through the dispatcher and reports which
callback pools fired, the response status and the body.

Defaults come from dispatch.yaml in the working directory and DISPATCH_*
environment variables; flags override both.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		commands.NewSendCommand(),
		commands.NewPoolsCommand(),
		commands.NewVersionCommand(version),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
