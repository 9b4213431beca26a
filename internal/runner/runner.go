// Package runner coordinates one run: authenticate, discover, filter, submit, and always
// finalize the run report.
package runner

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonathan/job-applier/internal/auth"
	"github.com/jonathan/job-applier/internal/discovery"
	"github.com/jonathan/job-applier/internal/metrics"
	"github.com/jonathan/job-applier/internal/report"
	"github.com/jonathan/job-applier/internal/session"
	"github.com/jonathan/job-applier/internal/types"
)

const (
	DefaultJobTimeout      = 3 * time.Minute
	DefaultFinalizeTimeout = 30 * time.Second
)

// Authenticator gates the run.
type Authenticator interface {
	Login(ctx context.Context, creds auth.Credentials) error
}

// Discoverer streams job references.
type Discoverer interface {
	Jobs(ctx context.Context) iter.Seq2[types.JobReference, error]
	Stats() discovery.Stats
}

// Evaluator decides whether a job is worth applying to. An empty outcome means apply.
type Evaluator interface {
	Evaluate(ctx context.Context, job types.JobReference) (types.ScoreResult, types.Outcome)
	Stats() types.OracleStats
}

// Submitter applies to one job. It never returns an error; every failure is an outcome.
type Submitter interface {
	Submit(ctx context.Context, job types.JobReference) types.ApplicationAttempt
}

// Finalizer is a named cleanup step run once at the end of every run.
type Finalizer struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Deps are the run's collaborators.
type Deps struct {
	Auth      Authenticator
	Discovery Discoverer
	Filter    Evaluator
	Submitter Submitter
	Store     session.Store
	Sinks     []report.Sink
	Metrics   metrics.Sink
	// Finalizers run after the report is written, in order.
	Finalizers []Finalizer
}

// Config controls the run.
type Config struct {
	Credentials     auth.Credentials
	// MaxApplications caps applied outcomes. Zero applies to nothing.
	MaxApplications int
	// JobTimeout bounds one job's submission.
	JobTimeout      time.Duration
	FinalizeTimeout time.Duration
	// Snapshot is the redacted config recorded in the report.
	Snapshot map[string]any

	MetricsFile string
	Gatherer    prometheus.Gatherer
}

// Runner drives one run. It is single-use.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger

	once   sync.Once
	report *types.RunReport
}

// New returns a runner.
func New(deps Deps, cfg Config, logger *slog.Logger) *Runner {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = DefaultJobTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	deps.Metrics = metrics.OrNoop(deps.Metrics)
	return &Runner{deps: deps, cfg: cfg, logger: logger}
}

// errCapReached ends the job loop normally.
var errCapReached = errors.New("application cap reached")

// Run executes the run and returns its report, which has already been persisted and
// published. The error is the run-fatal cause, if any; cancellation is not an error.
func (r *Runner) Run(ctx context.Context) (rep *types.RunReport, err error) {
	rep = types.NewRunReport(r.cfg.Snapshot)
	r.report = rep
	log := r.logger.With("run_id", rep.RunID)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
			log.Error("run aborted by panic", "panic", p)
		}
		r.finalize(ctx, rep, err)
	}()

	log.Info("run started", "max_applications", r.cfg.MaxApplications)

	if _, err := r.deps.Store.Load(ctx); err != nil {
		return rep, fmt.Errorf("load session store: %w", err)
	}
	if err := r.deps.Store.Begin(ctx, rep); err != nil {
		return rep, fmt.Errorf("begin run: %w", err)
	}

	if err := r.deps.Auth.Login(ctx, r.cfg.Credentials); err != nil {
		return rep, fmt.Errorf("authentication failed: %w", err)
	}
	log.Info("authenticated")

	for job, jerr := range r.deps.Discovery.Jobs(ctx) {
		if jerr != nil {
			if ctx.Err() == nil {
				log.Warn("discovery stopped", "error", jerr)
			}
			break
		}
		if ctx.Err() != nil {
			log.Info("cancellation requested, stopping before next job", "processed", rep.Counters.Processed())
			break
		}
		if err := r.process(ctx, job); err != nil {
			if errors.Is(err, errCapReached) {
				log.Info("application cap reached", "applied", rep.Counters.Applied)
				break
			}
			return rep, err
		}
	}
	return rep, nil
}

// process runs one job through dedup, filter, cap and submission. Only run-fatal
// errors and errCapReached are returned.
func (r *Runner) process(ctx context.Context, job types.JobReference) (err error) {
	log := r.logger.With("job_id", job.ExternalID, "title", job.Title, "company", job.Company)

	if r.report.Counters.Applied >= r.cfg.MaxApplications {
		return errCapReached
	}

	defer func() {
		if p := recover(); p != nil {
			log.Error("panic while processing job", "panic", p)
			err = r.record(ctx, types.NewAttempt(job, types.OutcomeFailedSubmission, fmt.Sprintf("panic: %v", p)))
		}
	}()

	applied, err := r.deps.Store.HasApplied(ctx, job.ExternalID)
	if err != nil {
		return fmt.Errorf("dedup check for %s: %w", job.ExternalID, err)
	}
	if applied {
		log.Debug("already applied in an earlier run")
		return r.record(ctx, types.NewAttempt(job, types.OutcomeSkippedDuplicate, "applied in an earlier run"))
	}

	result, outcome := r.deps.Filter.Evaluate(ctx, job)
	if outcome != "" {
		attempt := types.NewAttempt(job, outcome, result.Rationale)
		if result.Source != types.SourceExcluded {
			attempt = attempt.WithScore(result.Score)
		}
		log.Info("job skipped", "outcome", outcome, "score", result.Score, "source", result.Source)
		return r.record(ctx, attempt)
	}

	// The in-flight job finishes even if the run is cancelled meanwhile.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.JobTimeout)
	defer cancel()
	attempt := r.deps.Submitter.Submit(jobCtx, job).WithScore(result.Score)
	return r.record(ctx, attempt)
}

// record appends the attempt to the report and the store. Store write failures are
// logged; the report still carries the attempt.
func (r *Runner) record(ctx context.Context, attempt types.ApplicationAttempt) error {
	r.report.Append(attempt)
	r.deps.Metrics.AttemptRecorded(string(attempt.Outcome))

	if err := r.deps.Store.RecordAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		if errors.Is(err, session.ErrAlreadyApplied) {
			r.logger.Warn("attempt for an already applied job", "job_id", attempt.JobExternalID)
			return nil
		}
		r.logger.Error("failed to persist attempt", "job_id", attempt.JobExternalID, "outcome", attempt.Outcome, "error", err)
	}
	return nil
}

// finalize runs exactly once per Runner, whatever the exit path.
func (r *Runner) finalize(ctx context.Context, rep *types.RunReport, runErr error) {
	r.once.Do(func() {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.FinalizeTimeout)
		defer cancel()
		log := r.logger.With("run_id", rep.RunID)

		status := types.RunCompleted
		switch {
		case runErr != nil:
			status = types.RunFailed
		case ctx.Err() != nil:
			status = types.RunCancelled
		}

		if r.deps.Discovery != nil {
			rep.Counters.Discovered = r.deps.Discovery.Stats().Discovered
		}
		if r.deps.Filter != nil {
			rep.OracleStats = r.deps.Filter.Stats()
		}
		rep.Finish(status, runErr)

		if r.deps.Store != nil {
			if err := r.deps.Store.RecordDiscovered(fctx, rep.Counters.Discovered); err != nil {
				log.Error("failed to record discovered count", "error", err)
			}
			if err := r.deps.Store.Flush(fctx); err != nil {
				log.Error("failed to flush session store", "error", err)
			}
			if err := r.deps.Store.SaveReport(fctx, rep); err != nil {
				log.Error("failed to save run summary", "error", err)
			}
		}

		if err := report.Publish(fctx, rep, r.deps.Sinks...); err != nil {
			log.Error("failed to publish run report", "error", err)
		}

		r.deps.Metrics.RunCompleted(string(status), rep.Duration())
		if r.cfg.MetricsFile != "" && r.cfg.Gatherer != nil {
			if err := metrics.WriteTextfile(r.cfg.MetricsFile, r.cfg.Gatherer); err != nil {
				log.Error("failed to write metrics", "error", err)
			}
		}

		for _, f := range r.deps.Finalizers {
			if err := f.Fn(fctx); err != nil {
				log.Error("finalizer failed", "step", f.Name, "error", err)
			}
		}

		log.Info("run finished",
			"status", status,
			"applied", rep.Counters.Applied,
			"processed", rep.Counters.Processed(),
			"discovered", rep.Counters.Discovered,
			"duration", rep.Duration().Round(time.Second))
	})
}
