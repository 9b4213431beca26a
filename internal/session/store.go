// Package session persists the cross-run record of applied jobs, per-run attempts,
// aggregate counters, chatbot questions and run summaries.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/job-applier/internal/types"
)

// ErrAlreadyApplied is returned when an applied attempt is recorded for a job that is
// already in the applied set.
var ErrAlreadyApplied = errors.New("job already applied")

// ErrUnavailable wraps failures to open the backing store.
var ErrUnavailable = errors.New("session store unavailable")

// Store is the durable session record.
//
// The engine drives a Store from a single goroutine. Implementations still serialize the
// check-then-write of the applied set so that a multi-worker caller keeps the
// at-most-once-applied guarantee without changing call sites.
type Store interface {
	// Load returns the persisted record. An empty or absent store yields an empty record.
	Load(ctx context.Context) (*types.SessionRecord, error)
	HasApplied(ctx context.Context, externalID string) (bool, error)
	// Begin associates subsequent attempts with the run.
	Begin(ctx context.Context, report *types.RunReport) error
	// RecordAttempt persists applied attempts immediately and buffers all others until Flush.
	RecordAttempt(ctx context.Context, attempt types.ApplicationAttempt) error
	RecordDiscovered(ctx context.Context, n int) error
	RecordQuestion(ctx context.Context, q Question) error
	Questions(ctx context.Context, limit int) ([]Question, error)
	SaveReport(ctx context.Context, report *types.RunReport) error
	Runs(ctx context.Context, limit int) ([]RunSummary, error)
	Flush(ctx context.Context) error
	Close() error
}

// Question is a chatbot question seen during submission and the answer given
type Question struct {
	Text     string    `json:"question"`
	Answer   string    `json:"answer"`
	Source   string    `json:"source"`
	Seen     int       `json:"seen"`
	LastSeen time.Time `json:"last_seen"`
}

// RunSummary is the stored header of a finished run
type RunSummary struct {
	RunID     uuid.UUID       `json:"run_id"`
	StartedAt time.Time       `json:"started_at"`
	EndedAt   time.Time       `json:"ended_at"`
	Status    types.RunStatus `json:"status"`
	Applied   int             `json:"applied"`
	Processed int             `json:"processed"`
	Error     string          `json:"error,omitempty"`
}

// backend is the storage dialect behind DB.
type backend interface {
	appliedIDs(ctx context.Context) (map[string]struct{}, error)
	counters(ctx context.Context) (map[string]int, error)
	// writeAttempts stores attempts, adds applied ones to the applied set and bumps
	// the outcome counters plus discovered, all in one transaction.
	writeAttempts(ctx context.Context, runID string, attempts []types.ApplicationAttempt, discovered int) error
	beginRun(ctx context.Context, report *types.RunReport) error
	saveRun(ctx context.Context, report *types.RunReport, data []byte) error
	upsertQuestion(ctx context.Context, q Question) error
	questions(ctx context.Context, limit int) ([]Question, error)
	runs(ctx context.Context, limit int) ([]RunSummary, error)
	close() error
}

// DB implements Store over a SQL backend.
type DB struct {
	mu         sync.Mutex
	b          backend
	logger     *slog.Logger
	applied    map[string]struct{}
	runID      string
	pending    []types.ApplicationAttempt
	discovered int
	closed     bool
}

func newDB(b backend, logger *slog.Logger) *DB {
	if logger == nil {
		logger = slog.Default()
	}
	return &DB{b: b, logger: logger}
}

// Load reads the applied set and counters from the backend.
func (d *DB) Load(ctx context.Context) (*types.SessionRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	applied, err := d.b.appliedIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load applied jobs: %w", err)
	}
	raw, err := d.b.counters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}

	// Applied jobs recorded earlier in this process but not yet visible stay in the set.
	for id := range d.applied {
		applied[id] = struct{}{}
	}
	d.applied = applied

	rec := types.NewSessionRecord()
	for id := range applied {
		rec.AppliedIDs[id] = struct{}{}
	}
	rec.Counters = countersFromRaw(raw)
	return rec, nil
}

func (d *DB) ensureLoaded(ctx context.Context) error {
	if d.applied != nil {
		return nil
	}
	applied, err := d.b.appliedIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to load applied jobs: %w", err)
	}
	d.applied = applied
	return nil
}

// HasApplied reports whether the job is in the applied set.
func (d *DB) HasApplied(ctx context.Context, externalID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ensureLoaded(ctx); err != nil {
		return false, err
	}
	_, ok := d.applied[externalID]
	return ok, nil
}

// Begin records the run as started.
func (d *DB) Begin(ctx context.Context, report *types.RunReport) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runID = report.RunID.String()
	if err := d.b.beginRun(ctx, report); err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// RecordAttempt stores an attempt. Applied attempts are written through immediately,
// under the same lock as the applied-set check.
func (d *DB) RecordAttempt(ctx context.Context, attempt types.ApplicationAttempt) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if attempt.Outcome != types.OutcomeApplied {
		d.pending = append(d.pending, attempt)
		return nil
	}

	if err := d.ensureLoaded(ctx); err != nil {
		return err
	}
	if _, dup := d.applied[attempt.JobExternalID]; dup {
		return fmt.Errorf("%w: %s", ErrAlreadyApplied, attempt.JobExternalID)
	}
	if err := d.b.writeAttempts(ctx, d.runID, []types.ApplicationAttempt{attempt}, 0); err != nil {
		return fmt.Errorf("failed to persist applied attempt %s: %w", attempt.JobExternalID, err)
	}
	d.applied[attempt.JobExternalID] = struct{}{}
	return nil
}

// RecordDiscovered adds n to the discovered counter at the next Flush.
func (d *DB) RecordDiscovered(_ context.Context, n int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discovered += n
	return nil
}

// RecordQuestion upserts a chatbot question and the answer used.
func (d *DB) RecordQuestion(ctx context.Context, q Question) error {
	if q.LastSeen.IsZero() {
		q.LastSeen = time.Now().UTC()
	}
	if err := d.b.upsertQuestion(ctx, q); err != nil {
		return fmt.Errorf("failed to record question: %w", err)
	}
	return nil
}

// Questions returns recorded questions, most recently seen first.
func (d *DB) Questions(ctx context.Context, limit int) ([]Question, error) {
	return d.b.questions(ctx, limit)
}

// SaveReport stores the finished run's summary and full report.
func (d *DB) SaveReport(ctx context.Context, report *types.RunReport) error {
	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := d.b.saveRun(ctx, report, data); err != nil {
		return fmt.Errorf("failed to save run %s: %w", report.RunID, err)
	}
	return nil
}

// Runs lists stored runs, newest first.
func (d *DB) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	return d.b.runs(ctx, limit)
}

// Flush writes buffered attempts and counters.
func (d *DB) Flush(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.flushLocked(ctx)
}

func (d *DB) flushLocked(ctx context.Context) error {
	if len(d.pending) == 0 && d.discovered == 0 {
		return nil
	}
	if err := d.b.writeAttempts(ctx, d.runID, d.pending, d.discovered); err != nil {
		return fmt.Errorf("failed to flush %d attempts: %w", len(d.pending), err)
	}
	d.logger.Debug("session flushed", "attempts", len(d.pending), "discovered", d.discovered)
	d.pending = nil
	d.discovered = 0
	return nil
}

// Close flushes anything still buffered and releases the backend.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	flushErr := d.flushLocked(context.Background())
	return errors.Join(flushErr, d.b.close())
}

const counterDiscovered = "discovered"

// counterDeltas returns the counter increments implied by a batch.
func counterDeltas(attempts []types.ApplicationAttempt, discovered int) map[string]int {
	deltas := make(map[string]int)
	if discovered > 0 {
		deltas[counterDiscovered] = discovered
	}
	for _, a := range attempts {
		deltas[string(a.Outcome)]++
	}
	return deltas
}

func countersFromRaw(raw map[string]int) types.Counters {
	c := types.NewCounters()
	for name, v := range raw {
		if name == counterDiscovered {
			c.Discovered = v
			continue
		}
		o := types.Outcome(name)
		switch {
		case o == types.OutcomeApplied:
			c.Applied = v
		case o.IsSkip():
			c.Skipped[o] = v
		case o.IsFailure():
			c.Failed[o] = v
		}
	}
	return c
}

// Config selects and configures the backend
type Config struct {
	// DatabaseURL selects PostgreSQL when set.
	DatabaseURL string
	// Path is the SQLite database file used otherwise.
	Path   string
	Logger *slog.Logger
}

// Open connects to PostgreSQL when DatabaseURL is set and to SQLite otherwise.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	var (
		b   backend
		err error
	)
	if cfg.DatabaseURL != "" {
		b, err = openPostgres(ctx, cfg.DatabaseURL)
	} else {
		b, err = openSQLite(ctx, cfg.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return newDB(b, cfg.Logger), nil
}

var _ Store = (*DB)(nil)
