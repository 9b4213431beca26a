// Package config loads, validates and defaults the engine configuration file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/jonathan/job-applier/internal/chatbot"
	"github.com/jonathan/job-applier/internal/discovery"
	"github.com/jonathan/job-applier/internal/scoring"
)

// Environment variables that override file values.
const (
	EnvEmail       = "JOBAPPLIER_EMAIL"
	EnvPassword    = "JOBAPPLIER_PASSWORD"
	EnvAPIKey      = "GEMINI_API_KEY"
	EnvDatabaseURL = "DATABASE_URL"
)

const (
	DefaultMaxApplications    = 10
	DefaultMinJobScore        = 60
	DefaultSQLitePath         = "data/sessions.db"
	DefaultReportDir          = "reports"
	DefaultDictionaryPath     = "data/qa_dictionary.json"
	DefaultSelectorCachePath  = "data/selector_cache.json"
	DefaultChatbotMaxDuration = 30
)

// Seconds is a duration written as a number of seconds in the config file.
type Seconds float64

// Duration converts s to a time.Duration.
func (s Seconds) Duration() time.Duration {
	return time.Duration(float64(s) * float64(time.Second))
}

// Range is a base wait interval in seconds
type Range struct {
	Min Seconds `json:"min" validate:"gte=0"`
	Max Seconds `json:"max" validate:"gte=0"`
}

// Config is the engine configuration file.
type Config struct {
	Credentials Credentials `json:"credentials"`
	Search      Search      `json:"search"`
	Filter      Filter      `json:"filter"`

	// MaxApplicationsPerSession caps applied outcomes per run. An explicit 0 applies to nothing.
	MaxApplicationsPerSession *int `json:"max_applications_per_session,omitempty" validate:"omitempty,gte=0"`

	Delays  Delays  `json:"delays"`
	Chatbot Chatbot `json:"chatbot"`
	Oracle  Oracle  `json:"oracle"`
	Site    Site    `json:"site"`
	Storage Storage `json:"storage"`
	Report  Report  `json:"report"`
	Browser Browser `json:"browser"`
	Logging Logging `json:"logging"`

	MetricsFile string `json:"metrics_file,omitempty"`
	DebugDir    string `json:"debug_dir,omitempty"`
}

// Credentials are the account login values. Both may come from the environment instead.
type Credentials struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// Search describes what to look for.
type Search struct {
	Keywords            []string `json:"keywords" validate:"required,min=1,dive,required"`
	Location            string   `json:"location,omitempty"`
	PagesPerKeyword     int      `json:"pages_per_keyword" validate:"gte=0,lte=100"`
	MaxConsecutiveEmpty int      `json:"max_consecutive_empty" validate:"gte=0"`
}

// Filter controls relevance scoring.
type Filter struct {
	MinJobScore        *int     `json:"min_job_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	ExcludedCompanies  []string `json:"excluded_companies,omitempty"`
	PreferredCompanies []string `json:"preferred_companies,omitempty"`
	// ScoreKeywords gate oracle scoring. Empty means the search keywords.
	ScoreKeywords []string `json:"score_keywords,omitempty"`
	AlwaysScore   bool     `json:"always_score"`
	// FailOpen defaults to true when omitted.
	FailOpen *bool           `json:"fail_open,omitempty"`
	Profile  scoring.Profile `json:"profile"`
}

// Delays are the pacing ranges per action kind.
type Delays struct {
	RateLimitFloor Seconds `json:"rate_limit_floor" validate:"gte=0"`
	Navigation     *Range  `json:"navigation,omitempty"`
	Typing         *Range  `json:"typing,omitempty"`
	Submission     *Range  `json:"submission,omitempty"`
	Chatbot        *Range  `json:"chatbot,omitempty"`
	Page           *Range  `json:"page,omitempty"`
}

// Chatbot configures questionnaire answering.
type Chatbot struct {
	Answers        map[string]string `json:"answers,omitempty"`
	Facts          chatbot.Facts     `json:"facts"`
	DefaultAnswer  string            `json:"default_answer,omitempty"`
	DictionaryPath string            `json:"dictionary_path,omitempty"`
	// UseLLM asks the model for questions nothing else answers.
	UseLLM      bool    `json:"use_llm"`
	Learn       bool    `json:"learn"`
	Profile     string  `json:"profile,omitempty"`
	MaxDuration Seconds `json:"max_duration" validate:"gte=0"`
}

// Oracle configures the scoring model.
type Oracle struct {
	Enabled bool `json:"enabled"`
	// Model overrides the lite-tier model name.
	Model            string  `json:"model,omitempty"`
	APIKey           string  `json:"api_key,omitempty"`
	RateLimitDelay   Seconds `json:"rate_limit_delay" validate:"gte=0"`
	BreakerThreshold int     `json:"breaker_threshold" validate:"gte=0"`
	BreakerCooldown  Seconds `json:"breaker_cooldown" validate:"gte=0"`
}

// Site describes the job site's URLs and markup.
type Site struct {
	LoginURL  string `json:"login_url" validate:"required,url"`
	ProbeURL  string `json:"probe_url,omitempty" validate:"omitempty,url"`
	LogoutURL string `json:"logout_url,omitempty" validate:"omitempty,url"`
	// SearchURL is a template with {keyword}, {location} and {page} placeholders.
	SearchURL       string   `json:"search_url" validate:"required,contains={keyword}"`
	LoginPatterns   []string `json:"login_patterns,omitempty"`
	ExternalDomains []string `json:"external_domains,omitempty"`
	// SelectorCachePath persists the last working descriptor per target.
	SelectorCachePath string    `json:"selector_cache_path,omitempty"`
	Selectors         Selectors `json:"selectors"`
}

// Selectors are descriptor lists in "css:..." or "xpath:..." form. Empty lists use defaults.
type Selectors struct {
	Username       []string `json:"username,omitempty"`
	Password       []string `json:"password,omitempty"`
	LoginSubmit    []string `json:"login_submit,omitempty"`
	LoginError     []string `json:"login_error,omitempty"`
	LoginMarkers   []string `json:"login_markers,omitempty"`
	Popups         []string `json:"popups,omitempty"`
	Cards          []string `json:"cards,omitempty"`
	NextPage       []string `json:"next_page,omitempty"`
	AlreadyApplied []string `json:"already_applied,omitempty"`
	ApplyControl   []string `json:"apply_control,omitempty"`
	ExternalApply  []string `json:"external_apply,omitempty"`
	Submit         []string `json:"submit,omitempty"`
	Confirmation   []string `json:"confirmation,omitempty"`

	ChatbotContainer []string `json:"chatbot_container,omitempty"`
	ChatbotQuestion  []string `json:"chatbot_question,omitempty"`
	ChatbotText      []string `json:"chatbot_text,omitempty"`
	ChatbotSelect    []string `json:"chatbot_select,omitempty"`
	ChatbotOption    []string `json:"chatbot_option,omitempty"`
	ChatbotCheckbox  []string `json:"chatbot_checkbox,omitempty"`
	ChatbotSend      []string `json:"chatbot_send,omitempty"`

	CardFields *discovery.CardFields `json:"card_fields,omitempty"`
}

// Storage selects the session store.
type Storage struct {
	SQLitePath  string `json:"sqlite_path,omitempty"`
	DatabaseURL string `json:"database_url,omitempty"`
}

// Report configures where run reports go.
type Report struct {
	Dir string `json:"dir,omitempty"`
	S3  *S3    `json:"s3,omitempty"`
}

// S3 mirrors reports to a bucket.
type S3 struct {
	Bucket       string `json:"bucket" validate:"required"`
	Prefix       string `json:"prefix,omitempty"`
	Region       string `json:"region,omitempty"`
	Profile      string `json:"profile,omitempty"`
	UsePathStyle bool   `json:"use_path_style,omitempty"`
}

// Browser configures headless Chrome.
type Browser struct {
	Headless    *bool  `json:"headless,omitempty"`
	UserDataDir string `json:"user_data_dir,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// Logging selects the log format and level.
type Logging struct {
	Level  string `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Format string `json:"format,omitempty" validate:"omitempty,oneof=text json"`
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &cfg, nil
}

// Load reads path, applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides secrets and the database URL from the environment when set.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv(EnvEmail); v != "" {
		c.Credentials.Email = v
	}
	if v := getenv(EnvPassword); v != "" {
		c.Credentials.Password = v
	}
	if v := getenv(EnvAPIKey); v != "" {
		c.Oracle.APIKey = v
	}
	if v := getenv(EnvDatabaseURL); v != "" {
		c.Storage.DatabaseURL = v
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.MaxApplicationsPerSession == nil {
		c.MaxApplicationsPerSession = intPtr(DefaultMaxApplications)
	}
	if c.Filter.MinJobScore == nil {
		c.Filter.MinJobScore = intPtr(DefaultMinJobScore)
	}
	if c.Filter.FailOpen == nil {
		failOpen := true
		c.Filter.FailOpen = &failOpen
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = DefaultSQLitePath
	}
	if c.Report.Dir == "" {
		c.Report.Dir = DefaultReportDir
	}
	if c.Chatbot.DictionaryPath == "" {
		c.Chatbot.DictionaryPath = DefaultDictionaryPath
	}
	if c.Chatbot.MaxDuration == 0 {
		c.Chatbot.MaxDuration = DefaultChatbotMaxDuration
	}
	if c.Site.SelectorCachePath == "" {
		c.Site.SelectorCachePath = DefaultSelectorCachePath
	}
	if c.Browser.Headless == nil {
		headless := true
		c.Browser.Headless = &headless
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// MaxApplications returns the per-run cap, or the default when unset.
func (c *Config) MaxApplications() int {
	return intOr(c.MaxApplicationsPerSession, DefaultMaxApplications)
}

// MinScore returns the apply threshold, or the default when unset.
func (f Filter) MinScore() int {
	return intOr(f.MinJobScore, DefaultMinJobScore)
}

func intPtr(v int) *int { return &v }

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

// Validate checks struct tags and cross-field constraints.
func (c *Config) Validate() error {
	v := validator.New()
	v.RegisterTagNameFunc(jsonName)
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return &Error{Fields: fieldErrors(verrs)}
		}
		return fmt.Errorf("config error: %w", err)
	}

	var fields []FieldError
	for name, r := range c.Delays.ranges() {
		if r != nil && r.Min > r.Max {
			fields = append(fields, FieldError{Field: "delays." + name, Message: "min must not exceed max"})
		}
	}
	if c.Oracle.Enabled && c.Oracle.APIKey == "" {
		fields = append(fields, FieldError{Field: "oracle.api_key", Message: "required when the oracle is enabled (set " + EnvAPIKey + ")"})
	}
	if c.Chatbot.UseLLM && c.Oracle.APIKey == "" {
		fields = append(fields, FieldError{Field: "oracle.api_key", Message: "required when chatbot.use_llm is set"})
	}
	if len(fields) > 0 {
		return &Error{Fields: fields}
	}
	return nil
}

func (d Delays) ranges() map[string]*Range {
	return map[string]*Range{
		"navigation": d.Navigation,
		"typing":     d.Typing,
		"submission": d.Submission,
		"chatbot":    d.Chatbot,
		"page":       d.Page,
	}
}

// FieldError is one invalid config value
type FieldError struct {
	Field   string
	Message string
}

// Error lists every invalid config value.
type Error struct {
	Fields []FieldError
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("config error:")
	for _, f := range e.Fields {
		sb.WriteString(fmt.Sprintf(" '%s' %s;", f.Field, f.Message))
	}
	return strings.TrimSuffix(sb.String(), ";")
}

func fieldErrors(verrs validator.ValidationErrors) []FieldError {
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		// Namespace is "Config.search.keywords"; drop the root type name.
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		msg := "failed '" + fe.Tag() + "'"
		if fe.Param() != "" {
			msg += " (" + fe.Param() + ")"
		}
		out = append(out, FieldError{Field: field, Message: msg})
	}
	return out
}

func jsonName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return f.Name
	}
	return name
}

// Snapshot returns the config as a generic map with secrets redacted, for the run report.
func (c *Config) Snapshot() map[string]any {
	redacted := *c
	redacted.Credentials.Password = redact(c.Credentials.Password)
	redacted.Oracle.APIKey = redact(c.Oracle.APIKey)
	redacted.Storage.DatabaseURL = redact(c.Storage.DatabaseURL)

	data, err := json.Marshal(redacted)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}
