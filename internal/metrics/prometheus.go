package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using the Prometheus client library.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	pagesTotal   *prometheus.CounterVec
	cardsTotal   *prometheus.CounterVec
	cardsSkipped *prometheus.CounterVec

	oracleCallsTotal *prometheus.CounterVec
	oracleDuration   prometheus.Histogram
	oracleCacheHits  prometheus.Counter
	scoreSources     *prometheus.CounterVec

	attemptsTotal  *prometheus.CounterVec
	locatorMisses  *prometheus.CounterVec
	runsTotal      *prometheus.CounterVec
	runDuration    prometheus.Gauge
	lastRunSuccess prometheus.Gauge

	logger *slog.Logger
}

// NewPrometheusSink creates a sink whose collectors are registered on reg.
func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	if logger == nil {
		logger = slog.Default()
	}
	s := &PrometheusSink{logger: logger}
	s.initDiscoveryMetrics(reg)
	s.initFilterMetrics(reg)
	s.initRunMetrics(reg)
	return s
}

func (s *PrometheusSink) initDiscoveryMetrics(reg prometheus.Registerer) {
	s.pagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_discovery_pages_total",
		Help: "Result pages crawled per search keyword.",
	}, []string{"keyword"})
	s.cardsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_discovery_cards_total",
		Help: "Job cards seen per search keyword.",
	}, []string{"keyword"})
	s.cardsSkipped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_discovery_cards_skipped_total",
		Help: "Job cards dropped during extraction.",
	}, []string{"reason"})

	s.register(reg, s.pagesTotal, "jobapplier_discovery_pages_total")
	s.register(reg, s.cardsTotal, "jobapplier_discovery_cards_total")
	s.register(reg, s.cardsSkipped, "jobapplier_discovery_cards_skipped_total")
}

func (s *PrometheusSink) initFilterMetrics(reg prometheus.Registerer) {
	s.oracleCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_oracle_calls_total",
		Help: "Scoring oracle calls by result.",
	}, []string{"result"})
	s.oracleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "jobapplier_oracle_duration_seconds",
		Help:    "Scoring oracle latency in seconds.",
		Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30},
	})
	s.oracleCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "jobapplier_oracle_cache_hits_total",
		Help: "Scores served from the in-run cache.",
	})
	s.scoreSources = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_scores_total",
		Help: "Scores produced by source.",
	}, []string{"source"})

	s.register(reg, s.oracleCallsTotal, "jobapplier_oracle_calls_total")
	s.register(reg, s.oracleDuration, "jobapplier_oracle_duration_seconds")
	s.register(reg, s.oracleCacheHits, "jobapplier_oracle_cache_hits_total")
	s.register(reg, s.scoreSources, "jobapplier_scores_total")
}

func (s *PrometheusSink) initRunMetrics(reg prometheus.Registerer) {
	s.attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_attempts_total",
		Help: "Application attempts by outcome.",
	}, []string{"outcome"})
	s.locatorMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_locator_misses_total",
		Help: "Targets for which every descriptor failed.",
	}, []string{"target"})
	s.runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "jobapplier_runs_total",
		Help: "Completed runs by final status.",
	}, []string{"status"})
	s.runDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobapplier_last_run_duration_seconds",
		Help: "Wall-clock duration of the most recent run.",
	})
	s.lastRunSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "jobapplier_last_run_success",
		Help: "1 if the most recent run completed, 0 otherwise.",
	})

	s.register(reg, s.attemptsTotal, "jobapplier_attempts_total")
	s.register(reg, s.locatorMisses, "jobapplier_locator_misses_total")
	s.register(reg, s.runsTotal, "jobapplier_runs_total")
	s.register(reg, s.runDuration, "jobapplier_last_run_duration_seconds")
	s.register(reg, s.lastRunSuccess, "jobapplier_last_run_success")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("metrics: failed to register collector", "name", name, "error", err)
	}
}

func (s *PrometheusSink) PageCrawled(keyword string, cards int) {
	s.pagesTotal.WithLabelValues(keyword).Inc()
	s.cardsTotal.WithLabelValues(keyword).Add(float64(cards))
}

func (s *PrometheusSink) CardSkipped(reason string) {
	s.cardsSkipped.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) OracleCall(duration time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	s.oracleCallsTotal.WithLabelValues(result).Inc()
	s.oracleDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) OracleCacheHit() {
	s.oracleCacheHits.Inc()
}

func (s *PrometheusSink) ScoreSourced(source string) {
	s.scoreSources.WithLabelValues(source).Inc()
}

func (s *PrometheusSink) AttemptRecorded(outcome string) {
	s.attemptsTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) LocatorMiss(target string) {
	s.locatorMisses.WithLabelValues(target).Inc()
}

func (s *PrometheusSink) RunCompleted(status string, duration time.Duration) {
	s.runsTotal.WithLabelValues(status).Inc()
	s.runDuration.Set(duration.Seconds())
	s.lastRunSuccess.Set(boolGauge(status == "completed"))
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// WriteTextfile writes everything gathered from g to path in the text exposition format,
// for pickup by the node exporter textfile collector.
func WriteTextfile(path string, g prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, g); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
