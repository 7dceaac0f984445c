// Package cmd defines the askany command line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "askany",
	Short: "askany answers questions from your document knowledge base",
	Long: `askany indexes a directory of documents into PostgreSQL with pgvector
and answers questions about them with cited sources.

Typical workflow:

  askany ingest          index the documents directory
  askany ask "..."       ask a one-off question
  askany serve           run the HTTP API`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
