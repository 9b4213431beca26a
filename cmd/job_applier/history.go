package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/observability"
	"github.com/jonathan/job-applier/internal/session"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show applications and questions recorded across runs",
	RunE:  runHistory,
}

var (
	historyConfigPath string
	historyRuns       int
	historyQuestions  int
)

func init() {
	historyCmd.Flags().StringVarP(&historyConfigPath, "config", "c", "config.json", "Path to config.json file")
	historyCmd.Flags().IntVar(&historyRuns, "runs", 10, "Number of recent runs to list")
	historyCmd.Flags().IntVar(&historyQuestions, "questions", 0, "Number of recent chatbot questions to list")

	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(historyConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()

	ctx := cmd.Context()
	store, err := session.Open(ctx, cfg.Session(nil))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() { _ = store.Close() }()

	record, err := store.Load(ctx)
	if err != nil {
		return err
	}
	runs, err := store.Runs(ctx, historyRuns)
	if err != nil {
		return err
	}

	printer := observability.NewPrinter(cmd.OutOrStdout())
	printer.PrintHistory(record, runs)

	if historyQuestions > 0 {
		questions, err := store.Questions(ctx, historyQuestions)
		if err != nil {
			return err
		}
		printer.PrintQuestions(questions)
	}
	return nil
}
