package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/jonathan/job-applier/internal/types"
)

// DefaultSQLitePath is used when no path is configured.
const DefaultSQLitePath = "data/sessions.db"

type sqliteBackend struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the SQLite store at path.
func OpenSQLite(ctx context.Context, path string) (*DB, error) {
	b, err := openSQLite(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return newDB(b, nil), nil
}

func openSQLite(ctx context.Context, path string) (*sqliteBackend, error) {
	if path == "" {
		path = DefaultSQLitePath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One writer; a single connection avoids SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	b := &sqliteBackend{db: db}
	if err := b.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return b, nil
}

func (s *sqliteBackend) initSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS applied_jobs (
		external_id TEXT PRIMARY KEY,
		title TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		run_id TEXT NOT NULL DEFAULT '',
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL DEFAULT '',
		external_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		score INTEGER,
		title TEXT NOT NULL DEFAULT '',
		company TEXT NOT NULL DEFAULT '',
		url TEXT NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS questions (
		question TEXT PRIMARY KEY,
		answer TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		seen INTEGER NOT NULL DEFAULT 1,
		last_seen INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER,
		status TEXT NOT NULL,
		applied INTEGER NOT NULL DEFAULT 0,
		processed INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		report TEXT
	);
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

func (s *sqliteBackend) appliedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT external_id FROM applied_jobs`)
	if err != nil {
		return nil, fmt.Errorf("query applied jobs: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan applied job: %w", err)
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

func (s *sqliteBackend) counters(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name  string
			value int
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (s *sqliteBackend) writeAttempts(ctx context.Context, runID string, attempts []types.ApplicationAttempt, discovered int) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, a := range attempts {
		var score any
		if a.Score != nil {
			score = *a.Score
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO attempts (run_id, external_id, outcome, score, title, company, url, detail, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, a.JobExternalID, string(a.Outcome), score, a.Title, a.Company, a.URL, a.Detail, a.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("insert attempt %s: %w", a.JobExternalID, err)
		}
		if a.Outcome != types.OutcomeApplied {
			continue
		}
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO applied_jobs (external_id, title, company, url, run_id, applied_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(external_id) DO NOTHING`,
			a.JobExternalID, a.Title, a.Company, a.URL, runID, a.Timestamp.Unix(),
		); err != nil {
			return fmt.Errorf("insert applied job %s: %w", a.JobExternalID, err)
		}
	}

	for name, delta := range counterDeltas(attempts, discovered) {
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = counters.value + excluded.value`,
			name, delta,
		); err != nil {
			return fmt.Errorf("update counter %s: %w", name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *sqliteBackend) beginRun(ctx context.Context, report *types.RunReport) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING`,
		report.RunID.String(), report.StartedAt.Unix(), string(types.RunRunning),
	)
	return err
}

func (s *sqliteBackend) saveRun(ctx context.Context, report *types.RunReport, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, ended_at, status, applied, processed, error, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			ended_at = excluded.ended_at,
			status = excluded.status,
			applied = excluded.applied,
			processed = excluded.processed,
			error = excluded.error,
			report = excluded.report`,
		report.RunID.String(), report.StartedAt.Unix(), report.EndedAt.Unix(), string(report.Status),
		report.Counters.Applied, report.Counters.Processed(), report.Error, string(data),
	)
	return err
}

func (s *sqliteBackend) upsertQuestion(ctx context.Context, q Question) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO questions (question, answer, source, seen, last_seen)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(question) DO UPDATE SET
			answer = excluded.answer,
			source = excluded.source,
			seen = questions.seen + 1,
			last_seen = excluded.last_seen`,
		q.Text, q.Answer, q.Source, q.LastSeen.Unix(),
	)
	return err
}

func (s *sqliteBackend) questions(ctx context.Context, limit int) ([]Question, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT question, answer, source, seen, last_seen
		FROM questions ORDER BY last_seen DESC, question LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var (
			q        Question
			lastSeen int64
		)
		if err := rows.Scan(&q.Text, &q.Answer, &q.Source, &q.Seen, &lastSeen); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		q.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, q)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) runs(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, started_at, ended_at, status, applied, processed, error
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r        RunSummary
			id       string
			started  int64
			ended    sql.NullInt64
			status   string
			errorMsg string
		)
		if err := rows.Scan(&id, &started, &ended, &status, &r.Applied, &r.Processed, &errorMsg); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.RunID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parse run id %q: %w", id, err)
		}
		r.StartedAt = time.Unix(started, 0).UTC()
		if ended.Valid {
			r.EndedAt = time.Unix(ended.Int64, 0).UTC()
		}
		r.Status = types.RunStatus(status)
		r.Error = errorMsg
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteBackend) close() error {
	return s.db.Close()
}
