package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/jonathan/job-applier/internal/apply"
	"github.com/jonathan/job-applier/internal/auth"
	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/chatbot"
	"github.com/jonathan/job-applier/internal/circuitbreaker"
	"github.com/jonathan/job-applier/internal/config"
	"github.com/jonathan/job-applier/internal/discovery"
	"github.com/jonathan/job-applier/internal/llm"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/logging"
	"github.com/jonathan/job-applier/internal/metrics"
	"github.com/jonathan/job-applier/internal/observability"
	"github.com/jonathan/job-applier/internal/pacing"
	"github.com/jonathan/job-applier/internal/report"
	"github.com/jonathan/job-applier/internal/runner"
	"github.com/jonathan/job-applier/internal/scoring"
	"github.com/jonathan/job-applier/internal/session"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run one application session",
	Long: `Signs in, discovers jobs, filters them and applies until the per-run cap is reached,
discovery is exhausted or the process is interrupted. A run report is always written.

Configuration is loaded from a JSON file using --config. Credentials and the API key may
come from JOBAPPLIER_EMAIL, JOBAPPLIER_PASSWORD and GEMINI_API_KEY instead.`,
	RunE: runSessionCmd,
}

var (
	runConfigPath      string
	runVerbose         bool
	runMaxApplications int
	runHeadless        bool
	runMinScore        int
)

func init() {
	runCommand.Flags().StringVarP(&runConfigPath, "config", "c", "config.json", "Path to config.json file")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Log at debug level")
	runCommand.Flags().IntVar(&runMaxApplications, "max-applications", 0, "Override max_applications_per_session")
	runCommand.Flags().IntVar(&runMinScore, "min-score", 0, "Override filter.min_job_score")
	runCommand.Flags().BoolVar(&runHeadless, "headless", true, "Run Chrome without a window")

	rootCmd.AddCommand(runCommand)
}

// loadRunConfig loads the config file and applies explicitly set flags.
func loadRunConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return nil, err
	}

	// Only override if the flag was explicitly set
	if cmd.Flags().Changed("verbose") && runVerbose {
		cfg.Logging.Level = "debug"
	}
	if cmd.Flags().Changed("max-applications") {
		cfg.MaxApplicationsPerSession = &runMaxApplications
	}
	if cmd.Flags().Changed("min-score") {
		cfg.Filter.MinJobScore = &runMinScore
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = &runHeadless
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSessionCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadRunConfig(cmd)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.Open(ctx, cfg.Session(logger))
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close session store", "error", err)
		}
	}()

	deps, finalizers, err := buildEngine(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer finalizers.closeAll()

	rep, runErr := runner.New(deps.Deps, runner.Config{
		Credentials:     cfg.AuthCredentials(),
		MaxApplications: cfg.MaxApplications(),
		Snapshot:        cfg.Snapshot(),
		MetricsFile:     cfg.MetricsFile,
		Gatherer:        deps.registry,
	}, logger).Run(ctx)

	printer := observability.NewPrinter(os.Stdout)
	printer.PrintRunSummary(rep)
	printer.PrintFailures(rep)

	if runErr != nil {
		if reason := auth.ReasonOf(runErr); reason != "" {
			return fmt.Errorf("%w (reason: %s)", runErr, reason)
		}
		return runErr
	}
	return nil
}

// engine is the wired runner dependencies plus the registry backing the metrics sink.
type engine struct {
	runner.Deps
	registry *prometheus.Registry
}

// closers release what the runner's finalizers do not cover.
type closers []func()

func (c closers) closeAll() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func buildEngine(ctx context.Context, cfg *config.Config, store *session.DB, logger *slog.Logger) (*engine, closers, error) {
	var cleanup closers

	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry, logger)

	floor, ranges := cfg.Pacing()
	pace := pacing.New(floor, ranges)

	cache, err := locator.LoadCache(cfg.Site.SelectorCachePath)
	if err != nil {
		logger.Warn("selector cache unreadable, starting empty", "error", err)
		cache = locator.NewCache()
	}

	chrome, err := browser.NewChrome(ctx, cfg.BrowserOptions(logger))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	loc := locator.New(chrome, locator.Options{
		Cache:  cache,
		Logger: logger,
		OnMiss: sink.LocatorMiss,
	})

	var client llm.Client
	if cfg.Oracle.Enabled || cfg.Chatbot.UseLLM {
		client, err = llm.NewClient(ctx, cfg.LLM(), cfg.Oracle.APIKey)
		if err != nil {
			_ = chrome.Close()
			return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		cleanup = append(cleanup, func() { _ = client.Close() })
	}

	var oracle scoring.Oracle
	if cfg.Oracle.Enabled {
		oracle = scoring.NewGeminiOracle(client, cfg.Oracle.RateLimitDelay.Duration())
	}
	filter := scoring.New(oracle, cfg.Scoring(), sink, logger)

	dict, err := chatbot.LoadDictionary(cfg.Chatbot.DictionaryPath)
	if err != nil {
		logger.Warn("answer dictionary unreadable, starting empty", "path", cfg.Chatbot.DictionaryPath, "error", err)
	}
	var answerClient llm.Client
	if cfg.Chatbot.UseLLM {
		answerClient = client
	}
	breaker := circuitbreaker.New(cfg.Oracle.BreakerThreshold, cfg.Oracle.BreakerCooldown.Duration())
	answerer := chatbot.NewAnswerer(cfg.Answers(), dict, answerClient, breaker, logger)
	handler := chatbot.NewHandler(loc, pace, answerer, store, cfg.ChatbotHandler(), logger)

	submitter := apply.New(chrome, loc, pace, handler, cfg.Apply(), logger)
	authenticator := auth.New(chrome, loc, pace, cfg.Auth(), logger)

	crawler := discovery.New(loc, pace, cfg.Discovery(), sink, logger)
	crawler.BeforeExtract = authenticator.DismissPopups

	sinks := []report.Sink{report.NewFileWriter(cfg.Report.Dir)}
	if s3cfg := cfg.S3(); s3cfg != nil {
		mirror, err := report.NewS3Mirror(ctx, *s3cfg)
		if err != nil {
			logger.Warn("report mirror disabled", "bucket", s3cfg.Bucket, "error", err)
		} else {
			sinks = append(sinks, mirror)
		}
	}

	finalizers := []runner.Finalizer{
		{Name: "logout", Fn: func(ctx context.Context) error { authenticator.Logout(ctx); return nil }},
		{Name: "browser", Fn: func(context.Context) error { return chrome.Close() }},
		{Name: "selector_cache", Fn: func(context.Context) error { return cache.Save() }},
	}

	return &engine{
		Deps: runner.Deps{
			Auth:       authenticator,
			Discovery:  crawler,
			Filter:     filter,
			Submitter:  submitter,
			Store:      store,
			Sinks:      sinks,
			Metrics:    sink,
			Finalizers: finalizers,
		},
		registry: registry,
	}, cleanup, nil
}
