package scoring

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonathan/job-applier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockOracle implements Oracle for testing
type MockOracle struct {
	mu        sync.Mutex
	calls     int
	texts     []string
	ScoreFunc func(ctx context.Context, text string, jc JobContext) (OracleScore, error)
}

func (m *MockOracle) Score(ctx context.Context, text string, jc JobContext) (OracleScore, error) {
	m.mu.Lock()
	m.calls++
	m.texts = append(m.texts, text)
	m.mu.Unlock()
	if m.ScoreFunc != nil {
		return m.ScoreFunc(ctx, text, jc)
	}
	return OracleScore{Score: 75, Rationale: "good fit"}, nil
}

func (m *MockOracle) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func fixedScore(score int) *MockOracle {
	return &MockOracle{ScoreFunc: func(context.Context, string, JobContext) (OracleScore, error) {
		return OracleScore{Score: score, Rationale: "fixed"}, nil
	}}
}

func testConfig() Config {
	return Config{
		Keywords:          []string{"golang", "data engineer"},
		ExcludedCompanies: []string{"TCS", "Infosys"},
		MinScore:          60,
		FailOpen:          true,
		OracleBackoff:     time.Millisecond,
		Profile: Profile{
			Role:         "Backend Engineer",
			Skills:       []string{"go", "postgres", "kubernetes"},
			Locations:    []string{"Pune", "Remote"},
			RoleKeywords: []string{"backend engineer", "golang developer"},
		},
	}
}

func job(id, title, company, snippet string) types.JobReference {
	return types.JobReference{ExternalID: id, Title: title, Company: company, Snippet: snippet}
}

func TestEvaluate_HardExclusionSkipsOracle(t *testing.T) {
	oracle := fixedScore(95)
	f := New(oracle, testConfig(), nil, nil)

	result, outcome := f.Evaluate(context.Background(), job("1", "Golang Developer", "TCS Digital", "Go microservices"))

	assert.Equal(t, types.OutcomeSkippedExcluded, outcome)
	assert.Equal(t, types.DecisionSkip, result.Decision)
	assert.Equal(t, types.SourceExcluded, result.Source)
	assert.Contains(t, result.Rationale, "TCS")
	assert.Equal(t, 0, oracle.Calls())
	assert.Equal(t, 1, f.Stats().Exclusions)
}

func TestEvaluate_ExclusionMatchesWholeTokens(t *testing.T) {
	f := New(fixedScore(80), testConfig(), nil, nil)

	// "tcs" inside "Metcs" must not exclude
	_, outcome := f.Evaluate(context.Background(), job("1", "Golang Developer", "Metcs Labs", "Go"))
	assert.Empty(t, outcome)
}

func TestEvaluate_PreferredCompanies(t *testing.T) {
	cfg := testConfig()
	cfg.PreferredCompanies = []string{"Acme"}
	f := New(fixedScore(80), cfg, nil, nil)

	_, outcome := f.Evaluate(context.Background(), job("1", "Golang Developer", "Globex", "Go"))
	assert.Equal(t, types.OutcomeSkippedExcluded, outcome)

	result, outcome := f.Evaluate(context.Background(), job("2", "Golang Developer", "Acme", "Go"))
	assert.Empty(t, outcome)
	assert.Equal(t, types.DecisionApply, result.Decision)
}

func TestEvaluate_Threshold(t *testing.T) {
	tests := []struct {
		score    int
		decision types.Decision
		outcome  types.Outcome
	}{
		{55, types.DecisionSkip, types.OutcomeSkippedLowScore},
		{59, types.DecisionSkip, types.OutcomeSkippedLowScore},
		{60, types.DecisionApply, ""},
		{80, types.DecisionApply, ""},
	}
	for _, tt := range tests {
		f := New(fixedScore(tt.score), testConfig(), nil, nil)
		result, outcome := f.Evaluate(context.Background(), job("1", "Golang Developer", "Acme", "Go APIs"))

		assert.Equal(t, tt.decision, result.Decision, "score %d", tt.score)
		assert.Equal(t, tt.outcome, outcome, "score %d", tt.score)
		assert.Equal(t, tt.score, result.Score)
		assert.Equal(t, types.SourceOracle, result.Source)
	}
}

func TestEvaluate_IdenticalTextScoredOnce(t *testing.T) {
	oracle := fixedScore(70)
	f := New(oracle, testConfig(), nil, nil)
	snippet := "Build data pipelines in Go and Postgres."

	first, _ := f.Evaluate(context.Background(), job("a", "Golang Developer", "Acme", snippet))
	second, _ := f.Evaluate(context.Background(), job("b", "Golang Developer", "Acme", snippet))

	assert.Equal(t, 1, oracle.Calls())
	assert.Equal(t, first.Score, second.Score)
	assert.Equal(t, first.Rationale, second.Rationale)
	assert.Equal(t, first.Source, second.Source)
	assert.Equal(t, "b", second.JobExternalID)
	assert.Equal(t, 1, f.Stats().CacheHits)
	assert.Equal(t, 1, f.Stats().Calls)
}

func TestEvaluate_OracleFailureFallsBackToHeuristic(t *testing.T) {
	oracle := &MockOracle{ScoreFunc: func(context.Context, string, JobContext) (OracleScore, error) {
		return OracleScore{}, ErrRateLimited
	}}
	f := New(oracle, testConfig(), nil, nil)

	result, _ := f.Evaluate(context.Background(),
		job("1", "Golang Developer", "Acme", "Go, Postgres and Kubernetes. Remote."))

	assert.Equal(t, 2, oracle.Calls())
	assert.Equal(t, types.SourceHeuristic, result.Source)
	assert.Contains(t, result.Rationale, "rate limited")
	// role 40 + three skills 24 + location 10
	assert.Equal(t, 74, result.Score)
	assert.Equal(t, types.DecisionApply, result.Decision)

	stats := f.Stats()
	assert.Equal(t, 2, stats.Calls)
	assert.Equal(t, 1, stats.Failures)
	assert.Equal(t, 1, stats.Fallbacks)
}

func TestEvaluate_RetrySucceedsOnSecondAttempt(t *testing.T) {
	var attempts int
	oracle := &MockOracle{ScoreFunc: func(context.Context, string, JobContext) (OracleScore, error) {
		attempts++
		if attempts == 1 {
			return OracleScore{}, ErrUnavailable
		}
		return OracleScore{Score: 88, Rationale: "strong"}, nil
	}}
	f := New(oracle, testConfig(), nil, nil)

	result, _ := f.Evaluate(context.Background(), job("1", "Golang Developer", "Acme", "Go"))

	assert.Equal(t, 88, result.Score)
	assert.Equal(t, types.SourceOracle, result.Source)
	assert.Equal(t, 0, f.Stats().Failures)
}

func TestEvaluate_OracleScoreClamped(t *testing.T) {
	f := New(fixedScore(140), testConfig(), nil, nil)
	result, _ := f.Evaluate(context.Background(), job("1", "Golang Developer", "Acme", "Go"))
	assert.Equal(t, 100, result.Score)
}

func TestEvaluate_FailOpenWhenNoKeyword(t *testing.T) {
	oracle := fixedScore(10)
	f := New(oracle, testConfig(), nil, nil)

	result, outcome := f.Evaluate(context.Background(), job("1", "Office Manager", "Acme", "Front desk"))

	assert.Empty(t, outcome)
	assert.Equal(t, types.SourceFailOpen, result.Source)
	assert.Equal(t, 60, result.Score)
	assert.Equal(t, 0, oracle.Calls())
}

func TestEvaluate_FailClosedUsesHeuristic(t *testing.T) {
	cfg := testConfig()
	cfg.FailOpen = false
	f := New(fixedScore(90), cfg, nil, nil)

	result, outcome := f.Evaluate(context.Background(), job("1", "Office Manager", "Acme", "Front desk"))

	assert.Equal(t, types.OutcomeSkippedLowScore, outcome)
	assert.Equal(t, types.SourceHeuristic, result.Source)
	assert.Equal(t, 0, result.Score)
}

func TestEvaluate_AlwaysScore(t *testing.T) {
	cfg := testConfig()
	cfg.AlwaysScore = true
	oracle := fixedScore(65)
	f := New(oracle, cfg, nil, nil)

	result, _ := f.Evaluate(context.Background(), job("1", "Office Manager", "Acme", "Front desk"))

	assert.Equal(t, 1, oracle.Calls())
	assert.Equal(t, types.SourceOracle, result.Source)
}

func TestEvaluate_BreakerSkipsOracleAfterFailures(t *testing.T) {
	cfg := testConfig()
	cfg.BreakerThreshold = 1
	cfg.OracleAttempts = 1
	oracle := &MockOracle{ScoreFunc: func(context.Context, string, JobContext) (OracleScore, error) {
		return OracleScore{}, ErrUnavailable
	}}
	f := New(oracle, cfg, nil, nil)

	f.Evaluate(context.Background(), job("1", "Golang Developer", "Acme", "first"))
	result, _ := f.Evaluate(context.Background(), job("2", "Golang Developer", "Acme", "second"))

	assert.Equal(t, 1, oracle.Calls())
	assert.Equal(t, types.SourceHeuristic, result.Source)
	assert.Contains(t, result.Rationale, "paused")
	assert.Equal(t, 2, f.Stats().Fallbacks)
}

func TestEvaluate_CancelledContextDoesNotBlock(t *testing.T) {
	oracle := fixedScore(90)
	f := New(oracle, testConfig(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, _ := f.Evaluate(ctx, job("1", "Golang Developer", "Acme", "Go"))

	assert.Equal(t, 0, oracle.Calls())
	assert.Equal(t, types.SourceHeuristic, result.Source)
}

func TestEvaluate_NilOracle(t *testing.T) {
	f := New(nil, testConfig(), nil, nil)
	result, _ := f.Evaluate(context.Background(), job("1", "Golang Developer", "Acme", "Go"))

	assert.Equal(t, types.SourceHeuristic, result.Source)
	assert.Equal(t, 1, f.Stats().Fallbacks)
}

func TestEvaluate_OracleReceivesContext(t *testing.T) {
	var got JobContext
	var gotText string
	oracle := &MockOracle{ScoreFunc: func(_ context.Context, text string, jc JobContext) (OracleScore, error) {
		got, gotText = jc, text
		return OracleScore{Score: 70}, nil
	}}
	f := New(oracle, testConfig(), nil, nil)

	f.Evaluate(context.Background(), types.JobReference{
		ExternalID: "1", Title: "Golang Developer", Company: "Acme", Location: "Pune", Snippet: "APIs",
	})

	assert.Equal(t, "APIs", gotText)
	assert.Equal(t, "Golang Developer", got.Title)
	assert.Equal(t, "Pune", got.Location)
	assert.Equal(t, 60, got.Threshold)
	assert.Equal(t, []string{"TCS", "Infosys"}, got.Excluded)
}

func TestHeuristic(t *testing.T) {
	profile := testConfig().Profile
	excluded := []string{"Wipro"}

	tests := []struct {
		name string
		text string
		want int
	}{
		{"nothing", "Office manager, front desk", 0},
		{"role only", "Backend Engineer", 40},
		{"role once even if repeated", "Backend Engineer / Golang Developer", 40},
		{"skills", "We use Go, Postgres and Kubernetes", 24},
		{"location", "Based in Pune", 10},
		{"excluded penalty floors at zero", "Wipro office", 0},
		{"penalty applied", "Backend Engineer at Wipro", 20},
		{"go inside google does not count", "Google Ads specialist", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Heuristic(tt.text, profile, excluded))
		})
	}
}

func TestHeuristic_SkillContributionCapped(t *testing.T) {
	profile := Profile{Skills: []string{"a1", "a2", "a3", "a4", "a5", "a6", "a7", "a8"}}
	assert.Equal(t, 50, Heuristic("a1 a2 a3 a4 a5 a6 a7 a8", profile, nil))
}

func TestHeuristic_RoleFallsBackToProfileRole(t *testing.T) {
	assert.Equal(t, 40, Heuristic("Senior SRE", Profile{Role: "SRE"}, nil))
}

func TestContainsToken(t *testing.T) {
	assert.True(t, containsToken("senior c++ developer", "c++"))
	assert.True(t, containsToken("go, rust", "go"))
	assert.True(t, containsToken("data engineer ii", "Data Engineer"))
	assert.False(t, containsToken("mongodb", "go"))
	assert.False(t, containsToken("anything", "  "))
	assert.True(t, containsToken("gogo go", "go"))
}

func TestFailureClass(t *testing.T) {
	assert.Equal(t, "rate limited", failureClass(errors.Join(context.DeadlineExceeded, ErrRateLimited)))
	assert.Equal(t, "unavailable", failureClass(context.DeadlineExceeded))
	assert.Equal(t, "cancelled", failureClass(context.Canceled))
	require.Equal(t, "error", failureClass(errors.New("boom")))
}
