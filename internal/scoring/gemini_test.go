package scoring

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/jonathan/job-applier/internal/llm"
	"github.com/jonathan/job-applier/internal/llm/llmtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJobContext() JobContext {
	return JobContext{
		Title:     "Golang Developer",
		Company:   "Acme",
		Location:  "Pune",
		Profile:   testConfig().Profile,
		Excluded:  []string{"TCS"},
		Threshold: 60,
	}
}

func TestGeminiOracle_Score(t *testing.T) {
	client := &llmtest.MockClient{
		GenerateJSONFunc: func(_ context.Context, _ string, tier llm.ModelTier) (string, error) {
			assert.Equal(t, llm.TierLite, tier)
			return `{"total_score": 82, "reasoning": "Strong Go match", "concerns": ["on-call"]}`, nil
		},
	}
	oracle := NewGeminiOracle(client, 0)

	got, err := oracle.Score(context.Background(), "Build Go APIs", testJobContext())
	require.NoError(t, err)
	assert.Equal(t, 82, got.Score)
	assert.Equal(t, "Strong Go match Concerns: on-call", got.Rationale)

	require.Len(t, client.Prompts, 1)
	prompt := client.Prompts[0]
	assert.Contains(t, prompt, "Target role: Backend Engineer")
	assert.Contains(t, prompt, "Core skills: go, postgres, kubernetes")
	assert.Contains(t, prompt, "Companies to avoid: TCS")
	assert.Contains(t, prompt, "applies at 60 or above")
	assert.Contains(t, prompt, "Title: Golang Developer")
	assert.Contains(t, prompt, "Description: Build Go APIs")
	assert.Contains(t, prompt, `"total_score"`)
	assert.NotContains(t, prompt, "{{.")
}

func TestGeminiOracle_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rate limited", fmt.Errorf("generate: %w", llm.ErrRateLimited), ErrRateLimited},
		{"unavailable", fmt.Errorf("generate: %w", llm.ErrUnavailable), ErrUnavailable},
		{"deadline", context.DeadlineExceeded, ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &llmtest.MockClient{GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
				return "", tt.err
			}}
			_, err := NewGeminiOracle(client, 0).Score(context.Background(), "x", testJobContext())
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestGeminiOracle_OtherErrorsPassThrough(t *testing.T) {
	boom := errors.New("invalid argument")
	client := &llmtest.MockClient{GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
		return "", boom
	}}
	_, err := NewGeminiOracle(client, 0).Score(context.Background(), "x", testJobContext())
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestGeminiOracle_RateLimiterHonoursContext(t *testing.T) {
	client := &llmtest.MockClient{GenerateJSONFunc: func(context.Context, string, llm.ModelTier) (string, error) {
		return `{"total_score": 70}`, nil
	}}
	oracle := NewGeminiOracle(client, time.Hour)

	_, err := oracle.Score(context.Background(), "x", testJobContext())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = oracle.Score(ctx, "x", testJobContext())
	assert.Error(t, err)
	assert.Equal(t, 1, client.Calls())
}

func TestBuildPrompt_TruncatesLongSnippet(t *testing.T) {
	prompt, err := BuildPrompt(strings.Repeat("a", maxPromptSnippet+500), testJobContext())
	require.NoError(t, err)
	assert.Contains(t, prompt, strings.Repeat("a", maxPromptSnippet)+"...")
	assert.NotContains(t, prompt, strings.Repeat("a", maxPromptSnippet+1))
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		wantScore int
		wantErr   bool
	}{
		{"integer", `{"total_score": 71, "reasoning": "ok"}`, 71, false},
		{"float rounds", `{"total_score": 70.6}`, 71, false},
		{"numeric string", `{"total_score": "65"}`, 65, false},
		{"slash hundred string", `{"total_score": "88/100"}`, 88, false},
		{"clamped high", `{"total_score": 250}`, 100, false},
		{"clamped low", `{"total_score": -5}`, 0, false},
		{"fenced", "```json\n{\"total_score\": 77}\n```", 77, false},
		{"preamble", "Here is my analysis: {\"total_score\": 64}", 64, false},
		{"missing score", `{"reasoning": "no score"}`, 0, true},
		{"null score", `{"total_score": null}`, 0, true},
		{"non numeric", `{"total_score": "high"}`, 0, true},
		{"not json", `the job looks fine`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseResponse(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.NotEmpty(t, got.Rationale)
		})
	}
}
