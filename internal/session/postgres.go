package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/job-applier/internal/types"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS applied_jobs (
	external_id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	run_id TEXT NOT NULL DEFAULT '',
	applied_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS attempts (
	id BIGSERIAL PRIMARY KEY,
	run_id TEXT NOT NULL DEFAULT '',
	external_id TEXT NOT NULL,
	outcome TEXT NOT NULL,
	score INTEGER,
	title TEXT NOT NULL DEFAULT '',
	company TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);

CREATE TABLE IF NOT EXISTS counters (
	name TEXT PRIMARY KEY,
	value BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS questions (
	question TEXT PRIMARY KEY,
	answer TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	seen INTEGER NOT NULL DEFAULT 1,
	last_seen TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	run_id UUID PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	ended_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	applied INTEGER NOT NULL DEFAULT 0,
	processed INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	report JSONB
);
`

type postgresBackend struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to PostgreSQL and creates the schema if needed.
func OpenPostgres(ctx context.Context, databaseURL string) (*DB, error) {
	b, err := openPostgres(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return newDB(b, nil), nil
}

func openPostgres(ctx context.Context, databaseURL string) (*postgresBackend, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &postgresBackend{pool: pool}, nil
}

func (p *postgresBackend) appliedIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := p.pool.Query(ctx, `SELECT external_id FROM applied_jobs`)
	if err != nil {
		return nil, fmt.Errorf("failed to query applied jobs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan applied jobs: %w", err)
	}
	out := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		out[id] = struct{}{}
	}
	return out, nil
}

func (p *postgresBackend) counters(ctx context.Context) (map[string]int, error) {
	rows, err := p.pool.Query(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("failed to scan counter: %w", err)
		}
		out[name] = int(value)
	}
	return out, rows.Err()
}

func (p *postgresBackend) writeAttempts(ctx context.Context, runID string, attempts []types.ApplicationAttempt, discovered int) error {
	return pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		for _, a := range attempts {
			if _, err := tx.Exec(ctx,
				`INSERT INTO attempts (run_id, external_id, outcome, score, title, company, url, detail, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
				runID, a.JobExternalID, string(a.Outcome), a.Score, a.Title, a.Company, a.URL, a.Detail, a.Timestamp,
			); err != nil {
				return fmt.Errorf("failed to insert attempt %s: %w", a.JobExternalID, err)
			}
			if a.Outcome != types.OutcomeApplied {
				continue
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO applied_jobs (external_id, title, company, url, run_id, applied_at)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 ON CONFLICT (external_id) DO NOTHING`,
				a.JobExternalID, a.Title, a.Company, a.URL, runID, a.Timestamp,
			); err != nil {
				return fmt.Errorf("failed to insert applied job %s: %w", a.JobExternalID, err)
			}
		}

		for name, delta := range counterDeltas(attempts, discovered) {
			if _, err := tx.Exec(ctx,
				`INSERT INTO counters (name, value) VALUES ($1, $2)
				 ON CONFLICT (name) DO UPDATE SET value = counters.value + EXCLUDED.value`,
				name, delta,
			); err != nil {
				return fmt.Errorf("failed to update counter %s: %w", name, err)
			}
		}
		return nil
	})
}

func (p *postgresBackend) beginRun(ctx context.Context, report *types.RunReport) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO runs (run_id, started_at, status) VALUES ($1, $2, $3)
		 ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, report.StartedAt, string(types.RunRunning),
	)
	return err
}

func (p *postgresBackend) saveRun(ctx context.Context, report *types.RunReport, data []byte) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO runs (run_id, started_at, ended_at, status, applied, processed, error, report)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (run_id) DO UPDATE SET
			ended_at = EXCLUDED.ended_at,
			status = EXCLUDED.status,
			applied = EXCLUDED.applied,
			processed = EXCLUDED.processed,
			error = EXCLUDED.error,
			report = EXCLUDED.report`,
		report.RunID, report.StartedAt, report.EndedAt, string(report.Status),
		report.Counters.Applied, report.Counters.Processed(), report.Error, data,
	)
	return err
}

func (p *postgresBackend) upsertQuestion(ctx context.Context, q Question) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO questions (question, answer, source, seen, last_seen)
		 VALUES ($1, $2, $3, 1, $4)
		 ON CONFLICT (question) DO UPDATE SET
			answer = EXCLUDED.answer,
			source = EXCLUDED.source,
			seen = questions.seen + 1,
			last_seen = EXCLUDED.last_seen`,
		q.Text, q.Answer, q.Source, q.LastSeen,
	)
	return err
}

func (p *postgresBackend) questions(ctx context.Context, limit int) ([]Question, error) {
	query := `SELECT question, answer, source, seen, last_seen FROM questions ORDER BY last_seen DESC, question`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query questions: %w", err)
	}
	defer rows.Close()

	var out []Question
	for rows.Next() {
		var q Question
		if err := rows.Scan(&q.Text, &q.Answer, &q.Source, &q.Seen, &q.LastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func (p *postgresBackend) runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, started_at, ended_at, status, applied, processed, error FROM runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT $1`
		args = append(args, limit)
	}
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r      RunSummary
			ended  *time.Time
			status string
		)
		if err := rows.Scan(&r.RunID, &r.StartedAt, &ended, &status, &r.Applied, &r.Processed, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		if ended != nil {
			r.EndedAt = *ended
		}
		r.Status = types.RunStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *postgresBackend) close() error {
	p.pool.Close()
	return nil
}
