// Package chatbot answers the screening questionnaire some sites show after the apply
// control is clicked.
package chatbot

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonathan/job-applier/internal/circuitbreaker"
	"github.com/jonathan/job-applier/internal/llm"
	"github.com/jonathan/job-applier/internal/prompts"
)

// Source names the strategy that produced an answer
type Source string

const (
	SourceConfigured Source = "configured"
	SourceDictionary Source = "dictionary"
	SourceRule       Source = "rule"
	SourceLLM        Source = "llm"
	SourceYesNo      Source = "yes_no"
	SourceDefault    Source = "default"
)

const (
	DefaultAnswer       = "Yes"
	DefaultMaxAnswerLen = 50
	DefaultLLMTimeout   = 15 * time.Second

	maxAnswerWords = 5
	breakerKey     = "chatbot"
)

var yesNoIndicators = []string{
	"are you", "do you", "can you", "will you", "comfortable", "willing", "able to",
}

// Facts are the candidate details keyword rules answer with. Empty facts disable their rule.
type Facts struct {
	ExperienceYears string `json:"experience"`
	CurrentCTC      string `json:"current_ctc"`
	ExpectedCTC     string `json:"expected_ctc"`
	NoticePeriod    string `json:"notice_period"`
	Location        string `json:"location"`
}

// AnswerConfig holds the answering sources
type AnswerConfig struct {
	// Answers maps a question fragment to its answer. The longest matching fragment wins.
	Answers       map[string]string
	Facts         Facts
	DefaultAnswer string
	// Profile is free text given to the LLM alongside the facts.
	Profile      string
	MaxAnswerLen int
	LLMTimeout   time.Duration
	// Learn stores LLM answers in the dictionary for later runs.
	Learn bool
}

func (c *AnswerConfig) applyDefaults() {
	if strings.TrimSpace(c.DefaultAnswer) == "" {
		c.DefaultAnswer = DefaultAnswer
	}
	if c.MaxAnswerLen <= 0 {
		c.MaxAnswerLen = DefaultMaxAnswerLen
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = DefaultLLMTimeout
	}
}

// Answerer resolves a question through configured answers, the dictionary, keyword rules,
// the LLM, a yes/no default and finally the configured default answer.
type Answerer struct {
	cfg     AnswerConfig
	dict    *Dictionary
	client  llm.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger

	fragments []string
}

// NewAnswerer creates an answerer. dict and client may be nil.
func NewAnswerer(cfg AnswerConfig, dict *Dictionary, client llm.Client, breaker *circuitbreaker.CircuitBreaker, logger *slog.Logger) *Answerer {
	cfg.applyDefaults()
	if dict == nil {
		dict = NewDictionary(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}

	fragments := make([]string, 0, len(cfg.Answers))
	for k := range cfg.Answers {
		if strings.TrimSpace(k) != "" {
			fragments = append(fragments, k)
		}
	}
	slices.SortFunc(fragments, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	return &Answerer{
		cfg:       cfg,
		dict:      dict,
		client:    client,
		breaker:   breaker,
		logger:    logger,
		fragments: fragments,
	}
}

// Answer returns a non-empty answer for question and the strategy that produced it.
func (a *Answerer) Answer(ctx context.Context, question string) (string, Source) {
	lower := strings.ToLower(strings.TrimSpace(question))

	for _, frag := range a.fragments {
		if strings.Contains(lower, strings.ToLower(frag)) {
			if ans := strings.TrimSpace(a.cfg.Answers[frag]); ans != "" {
				return ans, SourceConfigured
			}
		}
	}
	if ans, ok := a.dict.Lookup(question); ok && strings.TrimSpace(ans) != "" {
		return ans, SourceDictionary
	}
	if ans := a.rule(lower); ans != "" {
		return ans, SourceRule
	}
	if ans := a.ask(ctx, question); ans != "" {
		if a.cfg.Learn {
			if err := a.dict.Learn(question, ans); err != nil {
				a.logger.Warn("failed to save learned answer", "error", err)
			}
		}
		return ans, SourceLLM
	}
	if isYesNo(lower) {
		return "Yes", SourceYesNo
	}
	return a.cfg.DefaultAnswer, SourceDefault
}

func (a *Answerer) rule(lower string) string {
	f := a.cfg.Facts
	switch {
	case containsAny(lower, "experience", "years"):
		return f.ExperienceYears
	case strings.Contains(lower, "current") && strings.Contains(lower, "ctc"):
		return f.CurrentCTC
	case strings.Contains(lower, "expected") && strings.Contains(lower, "ctc"):
		return f.ExpectedCTC
	case strings.Contains(lower, "notice"):
		return f.NoticePeriod
	case containsAny(lower, "location", "relocate"):
		return f.Location
	}
	return ""
}

// ask queries the LLM. Any failure yields "" so the chain continues.
func (a *Answerer) ask(ctx context.Context, question string) string {
	if a.client == nil {
		return ""
	}
	if a.breaker != nil {
		if err := a.breaker.Allow(breakerKey); err != nil {
			return ""
		}
	}

	prompt, err := a.prompt(question)
	if err != nil {
		a.logger.Warn("failed to build screening prompt", "error", err)
		return ""
	}

	callCtx, cancel := context.WithTimeout(ctx, a.cfg.LLMTimeout)
	defer cancel()
	raw, err := a.client.GenerateJSON(callCtx, prompt, llm.TierLite)
	if err != nil {
		a.recordFailure()
		a.logger.Debug("LLM answer failed", "error", err)
		return ""
	}

	answer, err := parseAnswer(raw)
	if err != nil {
		a.recordFailure()
		a.logger.Debug("unusable LLM answer", "error", err)
		return ""
	}
	if a.breaker != nil {
		a.breaker.RecordSuccess(breakerKey)
	}
	return truncate(answer, a.cfg.MaxAnswerLen)
}

func (a *Answerer) recordFailure() {
	if a.breaker != nil {
		a.breaker.RecordFailure(breakerKey)
	}
}

func (a *Answerer) prompt(question string) (string, error) {
	description, err := prompts.Render("chatbot.json", "screening-answer", map[string]string{
		"Profile":  a.profileText(),
		"MaxWords": strconv.Itoa(maxAnswerWords),
	})
	if err != nil {
		return "", err
	}
	return llm.BuildExtractionPrompt(llm.ScreeningAnswerSchema(description), question), nil
}

func (a *Answerer) profileText() string {
	var sb strings.Builder
	f := a.cfg.Facts
	line := func(label, value, unit string) {
		if value == "" {
			return
		}
		fmt.Fprintf(&sb, "- %s: %s%s\n", label, value, unit)
	}
	line("Experience", f.ExperienceYears, " years")
	line("Current CTC", f.CurrentCTC, " LPA")
	line("Expected CTC", f.ExpectedCTC, " LPA")
	line("Notice period", f.NoticePeriod, " days")
	line("Location", f.Location, "")
	if p := strings.TrimSpace(a.cfg.Profile); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n")
	}
	if sb.Len() == 0 {
		return "(no profile details provided)"
	}
	return strings.TrimRight(sb.String(), "\n")
}

func parseAnswer(raw string) (string, error) {
	var out struct {
		Answer any `json:"answer"`
	}
	if err := json.Unmarshal([]byte(llm.CleanJSONBlock(raw)), &out); err != nil {
		return "", fmt.Errorf("failed to parse answer: %w", err)
	}
	var answer string
	switch v := out.Answer.(type) {
	case string:
		answer = v
	case float64:
		answer = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		answer = "No"
		if v {
			answer = "Yes"
		}
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", fmt.Errorf("empty answer")
	}
	return answer, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return strings.TrimSpace(s[:cut])
}

func isYesNo(lower string) bool {
	return containsAny(lower, yesNoIndicators...)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
