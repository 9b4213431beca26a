package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/jonathan/job-applier/internal/llm"
	"github.com/jonathan/job-applier/internal/prompts"
)

// maxPromptSnippet bounds the description sent to the model.
const maxPromptSnippet = 2000

// GeminiOracle scores jobs with an LLM. Calls are spaced by a rate limiter so the run
// stays under the provider quota.
type GeminiOracle struct {
	client  llm.Client
	tier    llm.ModelTier
	limiter *rate.Limiter
}

// NewGeminiOracle returns an oracle that waits at least delay between calls. A zero
// delay disables limiting.
func NewGeminiOracle(client llm.Client, delay time.Duration) *GeminiOracle {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &GeminiOracle{
		client:  client,
		tier:    llm.TierLite,
		limiter: rate.NewLimiter(limit, 1),
	}
}

func (o *GeminiOracle) Score(ctx context.Context, text string, jc JobContext) (OracleScore, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return OracleScore{}, err
	}

	prompt, err := BuildPrompt(text, jc)
	if err != nil {
		return OracleScore{}, err
	}

	raw, err := o.client.GenerateJSON(ctx, prompt, o.tier)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrRateLimited):
			return OracleScore{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
		case errors.Is(err, llm.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
			return OracleScore{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return OracleScore{}, err
	}
	return ParseResponse(raw)
}

// BuildPrompt renders the scoring prompt for a job.
func BuildPrompt(text string, jc JobContext) (string, error) {
	description, err := prompts.Render("scoring.json", "job-score", map[string]string{
		"Role":       jc.Profile.Role,
		"Experience": strconv.Itoa(jc.Profile.ExperienceYears),
		"Skills":     strings.Join(jc.Profile.Skills, ", "),
		"Locations":  strings.Join(jc.Profile.Locations, ", "),
		"Avoid":      orNone(jc.Excluded),
		"Threshold":  strconv.Itoa(jc.Threshold),
	})
	if err != nil {
		return "", fmt.Errorf("failed to load scoring prompt: %w", err)
	}
	input, err := prompts.Render("scoring.json", "job-text", map[string]string{
		"Title":    jc.Title,
		"Company":  jc.Company,
		"Location": jc.Location,
		"Snippet":  truncate(text, maxPromptSnippet),
	})
	if err != nil {
		return "", fmt.Errorf("failed to load scoring prompt: %w", err)
	}
	return llm.BuildExtractionPrompt(llm.JobScoreSchema(description), input), nil
}

type scoreResponse struct {
	TotalScore json.RawMessage `json:"total_score"`
	Reasoning  string          `json:"reasoning"`
	Concerns   []string        `json:"concerns"`
}

// ParseResponse reads the model's JSON. Scores may arrive as numbers or numeric
// strings and are clamped to 0–100; a response without a usable score is an error.
func ParseResponse(raw string) (OracleScore, error) {
	var resp scoreResponse
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(raw)), &resp); err != nil {
		return OracleScore{}, fmt.Errorf("failed to parse oracle response: %w", err)
	}
	score, err := parseScore(resp.TotalScore)
	if err != nil {
		return OracleScore{}, err
	}

	rationale := strings.TrimSpace(resp.Reasoning)
	if rationale == "" {
		rationale = "scored by oracle"
	}
	if len(resp.Concerns) > 0 {
		rationale += " Concerns: " + strings.Join(resp.Concerns, "; ")
	}
	return OracleScore{Score: clamp(score), Rationale: rationale}, nil
}

func parseScore(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, errors.New("oracle response has no total_score")
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f + 0.5), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSuffix(strings.TrimSpace(s), "/100")
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return int(f + 0.5), nil
		}
	}
	return 0, fmt.Errorf("oracle total_score %s is not a number", raw)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func orNone(list []string) string {
	if len(list) == 0 {
		return "none"
	}
	return strings.Join(list, ", ")
}
