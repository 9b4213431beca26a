// Package main provides the entry point for the job application engine.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "job_applier",
	Short: "Automated job application engine",
	Long: `job_applier signs in to a job site, discovers postings for the configured keywords,
scores them for relevance and submits applications up to a per-run cap, answering
recruiter questionnaires along the way.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
