// Package scoring decides whether a discovered job is worth applying to.
//
// Evaluation is two-stage: a cheap hard exclusion on company tokens, then a relevance
// score from the oracle (cached by content hash, retried, and backed by a local
// heuristic when the oracle cannot answer).
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonathan/job-applier/internal/circuitbreaker"
	"github.com/jonathan/job-applier/internal/metrics"
	"github.com/jonathan/job-applier/internal/retry"
	"github.com/jonathan/job-applier/internal/types"
)

const (
	DefaultOracleAttempts   = 2
	DefaultOracleBackoff    = 2 * time.Second
	DefaultOracleTimeout    = 30 * time.Second
	DefaultBreakerThreshold = 5
	DefaultBreakerCooldown  = 5 * time.Minute

	breakerKey = "oracle"
)

// Config controls the filter
type Config struct {
	// Keywords gate oracle scoring: a job is scored when one of them appears in its text.
	Keywords           []string
	ExcludedCompanies  []string
	PreferredCompanies []string
	MinScore           int
	AlwaysScore        bool
	// FailOpen applies to jobs that match no keyword by assigning them MinScore.
	// When false such jobs get the heuristic score instead.
	FailOpen bool
	Profile  Profile

	OracleAttempts   int
	OracleBackoff    time.Duration
	OracleTimeout    time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (c *Config) applyDefaults() {
	if c.OracleAttempts <= 0 {
		c.OracleAttempts = DefaultOracleAttempts
	}
	if c.OracleBackoff <= 0 {
		c.OracleBackoff = DefaultOracleBackoff
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = DefaultOracleTimeout
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = DefaultBreakerThreshold
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = DefaultBreakerCooldown
	}
}

type cached struct {
	score     int
	rationale string
	source    types.ScoreSource
}

// Filter evaluates jobs. Scores are cached for the filter's lifetime, which is one run.
type Filter struct {
	oracle  Oracle
	cfg     Config
	breaker *circuitbreaker.CircuitBreaker
	metrics metrics.Sink
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]cached
	stats types.OracleStats
}

// New creates a filter. A nil oracle scores every gated job with the heuristic.
func New(oracle Oracle, cfg Config, sink metrics.Sink, logger *slog.Logger) *Filter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Filter{
		oracle:  oracle,
		cfg:     cfg,
		breaker: circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		metrics: metrics.OrNoop(sink),
		logger:  logger,
		cache:   make(map[string]cached),
	}
}

// Stats returns oracle usage so far.
func (f *Filter) Stats() types.OracleStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Evaluate scores job and returns the result with the skip outcome. The outcome is
// empty when the decision is apply.
func (f *Filter) Evaluate(ctx context.Context, job types.JobReference) (types.ScoreResult, types.Outcome) {
	result := types.ScoreResult{
		JobExternalID: job.ExternalID,
		EvaluatedAt:   time.Now().UTC(),
	}
	text := job.Text()
	lower := strings.ToLower(text)

	if reason, excluded := f.excluded(lower); excluded {
		f.mu.Lock()
		f.stats.Exclusions++
		f.mu.Unlock()
		f.metrics.ScoreSourced(string(types.SourceExcluded))

		result.Decision = types.DecisionSkip
		result.Source = types.SourceExcluded
		result.Rationale = reason
		return result, types.OutcomeSkippedExcluded
	}

	switch {
	case f.cfg.AlwaysScore || matchAny(lower, f.cfg.Keywords):
		c := f.score(ctx, job)
		result.Score, result.Rationale, result.Source = c.score, c.rationale, c.source
	case f.cfg.FailOpen:
		result.Score = f.cfg.MinScore
		result.Source = types.SourceFailOpen
		result.Rationale = "no keyword matched; applying under fail-open policy"
	default:
		result.Score = Heuristic(text, f.cfg.Profile, f.cfg.ExcludedCompanies)
		result.Source = types.SourceHeuristic
		result.Rationale = "no keyword matched; keyword-overlap score"
	}
	f.metrics.ScoreSourced(string(result.Source))

	if result.Score >= f.cfg.MinScore {
		result.Decision = types.DecisionApply
		return result, ""
	}
	result.Decision = types.DecisionSkip
	return result, types.OutcomeSkippedLowScore
}

func (f *Filter) excluded(lowerText string) (string, bool) {
	for _, company := range f.cfg.ExcludedCompanies {
		if containsToken(lowerText, company) {
			return fmt.Sprintf("excluded company %q", company), true
		}
	}
	if len(f.cfg.PreferredCompanies) > 0 && !matchAny(lowerText, f.cfg.PreferredCompanies) {
		return "not a preferred company", true
	}
	return "", false
}

// score returns the cached score for the job's content, computing it on a miss.
func (f *Filter) score(ctx context.Context, job types.JobReference) cached {
	key := job.ContentHash()

	f.mu.Lock()
	if c, ok := f.cache[key]; ok {
		f.stats.CacheHits++
		f.mu.Unlock()
		f.metrics.OracleCacheHit()
		return c
	}
	f.mu.Unlock()

	c := f.compute(ctx, job)

	f.mu.Lock()
	f.cache[key] = c
	f.mu.Unlock()
	return c
}

func (f *Filter) compute(ctx context.Context, job types.JobReference) cached {
	if f.oracle == nil {
		return f.fallback(job, "no oracle configured")
	}
	if err := f.breaker.Allow(breakerKey); err != nil {
		f.logger.Debug("oracle circuit open, using heuristic", "job_id", job.ExternalID)
		return f.fallback(job, "oracle paused after repeated failures")
	}

	jc := JobContext{
		Title:     job.Title,
		Company:   job.Company,
		Location:  job.Location,
		Profile:   f.cfg.Profile,
		Excluded:  f.cfg.ExcludedCompanies,
		Threshold: f.cfg.MinScore,
	}

	text := job.Snippet
	if strings.TrimSpace(text) == "" {
		text = job.Text()
	}

	var out OracleScore
	err := retry.Do(ctx, f.cfg.OracleAttempts, retry.Linear(f.cfg.OracleBackoff), func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, f.cfg.OracleTimeout)
		defer cancel()

		f.mu.Lock()
		f.stats.Calls++
		f.mu.Unlock()

		start := time.Now()
		score, err := f.oracle.Score(callCtx, text, jc)
		f.metrics.OracleCall(time.Since(start), err)
		if err != nil {
			f.logger.Debug("oracle call failed", "job_id", job.ExternalID, "error", err)
			if errors.Is(err, context.Canceled) {
				return retry.Permanent(err)
			}
			return err
		}
		out = score
		return nil
	})
	if err != nil {
		f.breaker.RecordFailure(breakerKey)
		f.mu.Lock()
		f.stats.Failures++
		f.mu.Unlock()
		f.logger.Warn("oracle unavailable, using heuristic", "job_id", job.ExternalID, "error", err)
		return f.fallback(job, "oracle failed: "+failureClass(err))
	}

	f.breaker.RecordSuccess(breakerKey)
	return cached{score: clamp(out.Score), rationale: out.Rationale, source: types.SourceOracle}
}

func (f *Filter) fallback(job types.JobReference, why string) cached {
	f.mu.Lock()
	f.stats.Fallbacks++
	f.mu.Unlock()
	return cached{
		score:     Heuristic(job.Text(), f.cfg.Profile, f.cfg.ExcludedCompanies),
		rationale: why + "; keyword-overlap score",
		source:    types.SourceHeuristic,
	}
}

func failureClass(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return "rate limited"
	case errors.Is(err, ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return "unavailable"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "error"
	}
}

func matchAny(lowerText string, tokens []string) bool {
	for _, t := range tokens {
		if containsToken(lowerText, t) {
			return true
		}
	}
	return false
}
