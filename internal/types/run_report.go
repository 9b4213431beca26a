package types

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the terminal state of a run
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// OracleStats summarizes scoring oracle usage during a run
type OracleStats struct {
	Calls      int `json:"calls"`
	CacheHits  int `json:"cache_hits"`
	Failures   int `json:"failures"`
	Fallbacks  int `json:"fallbacks"`
	Exclusions int `json:"exclusions"`
}

// RunReport is the per-run artifact written to session_<timestamp>.json
type RunReport struct {
	RunID       uuid.UUID            `json:"run_id"`
	StartedAt   time.Time            `json:"started_at"`
	EndedAt     time.Time            `json:"ended_at"`
	Status      RunStatus            `json:"status"`
	Error       string               `json:"error,omitempty"`
	Counters    Counters             `json:"counters"`
	Attempts    []ApplicationAttempt `json:"attempts"`
	OracleStats OracleStats          `json:"oracle_stats"`
	Config      map[string]any       `json:"config_used,omitempty"`
}

// NewRunReport starts a report for a run beginning now.
func NewRunReport(cfg map[string]any) *RunReport {
	return &RunReport{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
		Status:    RunRunning,
		Counters:  NewCounters(),
		Attempts:  []ApplicationAttempt{},
		Config:    cfg,
	}
}

// Append records an attempt and updates counters.
func (r *RunReport) Append(a ApplicationAttempt) {
	r.Attempts = append(r.Attempts, a)
	r.Counters.Record(a.Outcome)
}

// AppliedCount returns the number of applied attempts.
func (r *RunReport) AppliedCount() int {
	return r.Counters.Applied
}

// Finish stamps the end time and terminal status.
func (r *RunReport) Finish(status RunStatus, err error) {
	r.EndedAt = time.Now().UTC()
	r.Status = status
	if err != nil {
		r.Error = err.Error()
	}
}

// Duration returns the run's wall-clock length.
func (r *RunReport) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}
