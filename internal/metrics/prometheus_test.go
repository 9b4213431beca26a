package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, nil), reg
}

func findMetric(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if matchLabels(m.GetLabel(), labels) {
				return m
			}
		}
	}
	return nil
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(pairs) != len(want) {
		return false
	}
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; !ok || v != p.GetValue() {
			return false
		}
	}
	return true
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	m := findMetric(t, reg, name, labels)
	if m == nil || m.GetCounter() == nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func TestPrometheusSink_Discovery(t *testing.T) {
	s, reg := newTestSink(t)

	s.PageCrawled("golang", 20)
	s.PageCrawled("golang", 5)
	s.CardSkipped(CardStale)

	assert.Equal(t, 2.0, counterValue(t, reg, "jobapplier_discovery_pages_total", map[string]string{"keyword": "golang"}))
	assert.Equal(t, 25.0, counterValue(t, reg, "jobapplier_discovery_cards_total", map[string]string{"keyword": "golang"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_discovery_cards_skipped_total", map[string]string{"reason": "stale"}))
}

func TestPrometheusSink_Oracle(t *testing.T) {
	s, reg := newTestSink(t)

	s.OracleCall(time.Second, nil)
	s.OracleCall(time.Second, errors.New("quota"))
	s.OracleCall(time.Second, errors.New("quota"))
	s.OracleCacheHit()
	s.ScoreSourced("heuristic")

	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_oracle_calls_total", map[string]string{"result": "ok"}))
	assert.Equal(t, 2.0, counterValue(t, reg, "jobapplier_oracle_calls_total", map[string]string{"result": "error"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_oracle_cache_hits_total", map[string]string{}))
	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_scores_total", map[string]string{"source": "heuristic"}))

	h := findMetric(t, reg, "jobapplier_oracle_duration_seconds", map[string]string{})
	require.NotNil(t, h)
	assert.Equal(t, uint64(3), h.GetHistogram().GetSampleCount())
}

func TestPrometheusSink_RunCompleted(t *testing.T) {
	s, reg := newTestSink(t)

	s.AttemptRecorded("applied")
	s.LocatorMiss("apply_button")
	s.RunCompleted("completed", 90*time.Second)

	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_attempts_total", map[string]string{"outcome": "applied"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_locator_misses_total", map[string]string{"target": "apply_button"}))
	assert.Equal(t, 1.0, counterValue(t, reg, "jobapplier_runs_total", map[string]string{"status": "completed"}))

	g := findMetric(t, reg, "jobapplier_last_run_duration_seconds", map[string]string{})
	require.NotNil(t, g)
	assert.Equal(t, 90.0, g.GetGauge().GetValue())

	ok := findMetric(t, reg, "jobapplier_last_run_success", map[string]string{})
	require.NotNil(t, ok)
	assert.Equal(t, 1.0, ok.GetGauge().GetValue())

	s.RunCompleted("cancelled", time.Second)
	assert.Equal(t, 0.0, findMetric(t, reg, "jobapplier_last_run_success", map[string]string{}).GetGauge().GetValue())
}

func TestPrometheusSink_DoubleRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewPrometheusSink(reg, nil)
	s := NewPrometheusSink(reg, nil)

	assert.NotPanics(t, func() { s.AttemptRecorded("applied") })
}

func TestWriteTextfile(t *testing.T) {
	s, reg := newTestSink(t)
	s.AttemptRecorded("applied")

	path := filepath.Join(t.TempDir(), "job_applier.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `jobapplier_attempts_total{outcome="applied"} 1`)
}
