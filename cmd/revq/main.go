package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var noColor bool

var rootCmd = &cobra.Command{
	Use:     "revq",
	Short:   "Supervised chat analytics over a categorized review corpus",
	Version: version,
	Long: `revq answers natural-language questions about product reviews.

A remote model routes each question to one of a fixed set of analytics
tools; every call is validated against the caller's category grants
before touching data, and every turn leaves an audit trace.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userGrantCmd)
	traceCmd.AddCommand(traceListCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(userCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(askCmd)
}
