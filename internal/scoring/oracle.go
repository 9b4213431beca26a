package scoring

import (
	"context"
	"errors"
)

// Oracle failure classes. Both are retried and then answered by the heuristic.
var (
	ErrRateLimited = errors.New("scoring oracle rate limited")
	ErrUnavailable = errors.New("scoring oracle unavailable")
)

// JobContext is the structured side of an oracle request.
type JobContext struct {
	Title     string
	Company   string
	Location  string
	Profile   Profile
	Excluded  []string
	Threshold int
}

// OracleScore is the oracle's verdict on a job text
type OracleScore struct {
	Score     int
	Rationale string
}

// Oracle scores a job's text for relevance, 0–100.
type Oracle interface {
	Score(ctx context.Context, text string, jc JobContext) (OracleScore, error)
}

// OracleFunc adapts a function to Oracle.
type OracleFunc func(ctx context.Context, text string, jc JobContext) (OracleScore, error)

func (f OracleFunc) Score(ctx context.Context, text string, jc JobContext) (OracleScore, error) {
	return f(ctx, text, jc)
}
