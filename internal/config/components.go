package config

import (
	"log/slog"
	"time"

	"github.com/jonathan/job-applier/internal/apply"
	"github.com/jonathan/job-applier/internal/auth"
	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/chatbot"
	"github.com/jonathan/job-applier/internal/discovery"
	"github.com/jonathan/job-applier/internal/llm"
	"github.com/jonathan/job-applier/internal/pacing"
	"github.com/jonathan/job-applier/internal/report"
	"github.com/jonathan/job-applier/internal/scoring"
	"github.com/jonathan/job-applier/internal/session"
)

// Descriptors used when the config leaves a login or search list empty.
var (
	defaultUsername = []string{
		"#usernameField", "input[type='email']", "input[name='email']", "input[placeholder*='Email']",
	}
	defaultPassword = []string{
		"#passwordField", "input[type='password']",
	}
	defaultLoginSubmit = []string{
		"button[type='submit']", "xpath://button[contains(normalize-space(.), 'Login')]",
	}
	defaultLoginError = []string{
		".server-err", ".error-message", ".err-container",
	}
	defaultLoginMarkers = []string{
		".nI-gNb-drawer__icon", "img[alt*='profile']", "a[href*='logout']",
	}
	defaultPopups = []string{
		"xpath://*[contains(@class,'crossIcon')]",
		"xpath://button[contains(normalize-space(.), 'Later')]",
		"xpath://button[contains(normalize-space(.), 'Not now')]",
	}
	defaultCards = []string{
		"article.jobTuple", "div.srp-jobtuple-wrapper", "div.cust-job-tuple",
	}
	defaultNextPage = []string{
		"a[class*='styles_btn-secondary']:last-child", "xpath://a[span[normalize-space(.)='Next']]",
	}
)

func descriptors(values, fallback []string) []browser.Descriptor {
	if len(values) == 0 {
		values = fallback
	}
	return browser.ParseDescriptors(values)
}

// override returns the parsed list, or def when the list is empty.
func override(values []string, def []browser.Descriptor) []browser.Descriptor {
	if len(values) == 0 {
		return def
	}
	return browser.ParseDescriptors(values)
}

// Auth returns the authenticator configuration.
func (c *Config) Auth() auth.Config {
	s := c.Site.Selectors
	return auth.Config{
		LoginURL:       c.Site.LoginURL,
		ProbeURL:       c.Site.ProbeURL,
		LogoutURL:      c.Site.LogoutURL,
		LoginPatterns:  c.Site.LoginPatterns,
		Username:       descriptors(s.Username, defaultUsername),
		Password:       descriptors(s.Password, defaultPassword),
		Submit:         descriptors(s.LoginSubmit, defaultLoginSubmit),
		ErrorIndicator: descriptors(s.LoginError, defaultLoginError),
		Markers:        descriptors(s.LoginMarkers, defaultLoginMarkers),
		Popups:         descriptors(s.Popups, defaultPopups),
	}
}

// AuthCredentials returns the login values.
func (c *Config) AuthCredentials() auth.Credentials {
	return auth.Credentials{Username: c.Credentials.Email, Password: c.Credentials.Password}
}

// Discovery returns the crawler configuration.
func (c *Config) Discovery() discovery.Config {
	s := c.Site.Selectors
	cfg := discovery.Config{
		Keywords:            c.Search.Keywords,
		Location:            c.Search.Location,
		SearchURL:           c.Site.SearchURL,
		PagesPerKeyword:     c.Search.PagesPerKeyword,
		MaxConsecutiveEmpty: c.Search.MaxConsecutiveEmpty,
		Cards:               descriptors(s.Cards, defaultCards),
		NextPage:            descriptors(s.NextPage, defaultNextPage),
	}
	if s.CardFields != nil {
		cfg.Fields = *s.CardFields
	}
	return cfg
}

// Scoring returns the relevance filter configuration.
func (c *Config) Scoring() scoring.Config {
	keywords := c.Filter.ScoreKeywords
	if len(keywords) == 0 {
		keywords = c.Search.Keywords
	}
	failOpen := true
	if c.Filter.FailOpen != nil {
		failOpen = *c.Filter.FailOpen
	}
	return scoring.Config{
		Keywords:           keywords,
		ExcludedCompanies:  c.Filter.ExcludedCompanies,
		PreferredCompanies: c.Filter.PreferredCompanies,
		MinScore:           c.Filter.MinScore(),
		AlwaysScore:        c.Filter.AlwaysScore,
		FailOpen:           failOpen,
		Profile:            c.Filter.Profile,
		BreakerThreshold:   c.Oracle.BreakerThreshold,
		BreakerCooldown:    c.Oracle.BreakerCooldown.Duration(),
	}
}

// Apply returns the submitter configuration.
func (c *Config) Apply() apply.Config {
	s := c.Site.Selectors
	def := apply.DefaultSelectors()
	return apply.Config{
		Selectors: apply.Selectors{
			AlreadyApplied:  override(s.AlreadyApplied, def.AlreadyApplied),
			ApplyControl:    override(s.ApplyControl, def.ApplyControl),
			ExternalControl: override(s.ExternalApply, def.ExternalControl),
			Submit:          override(s.Submit, def.Submit),
			Confirmation:    override(s.Confirmation, def.Confirmation),
		},
		ExternalDomains: c.Site.ExternalDomains,
		ChatbotLimit:    c.Chatbot.MaxDuration.Duration(),
		DebugDir:        c.DebugDir,
	}
}

// ChatbotHandler returns the questionnaire handler configuration.
func (c *Config) ChatbotHandler() chatbot.HandlerConfig {
	s := c.Site.Selectors
	def := chatbot.DefaultSelectors()
	return chatbot.HandlerConfig{
		Selectors: chatbot.Selectors{
			Container: override(s.ChatbotContainer, def.Container),
			Question:  override(s.ChatbotQuestion, def.Question),
			TextInput: override(s.ChatbotText, def.TextInput),
			Select:    override(s.ChatbotSelect, def.Select),
			Option:    override(s.ChatbotOption, def.Option),
			Checkbox:  override(s.ChatbotCheckbox, def.Checkbox),
			Send:      override(s.ChatbotSend, def.Send),
		},
		MaxDuration: c.Chatbot.MaxDuration.Duration(),
	}
}

// Answers returns the chatbot answer configuration.
func (c *Config) Answers() chatbot.AnswerConfig {
	return chatbot.AnswerConfig{
		Answers:       c.Chatbot.Answers,
		Facts:         c.Chatbot.Facts,
		DefaultAnswer: c.Chatbot.DefaultAnswer,
		Profile:       c.Chatbot.Profile,
		Learn:         c.Chatbot.Learn,
	}
}

// Pacing returns the delay policy floor and ranges. Unset purposes keep their defaults.
func (c *Config) Pacing() (time.Duration, map[pacing.Purpose]pacing.Range) {
	ranges := make(map[pacing.Purpose]pacing.Range)
	set := func(p pacing.Purpose, r *Range) {
		if r != nil {
			ranges[p] = pacing.Range{Min: r.Min.Duration(), Max: r.Max.Duration()}
		}
	}
	set(pacing.PurposeNavigation, c.Delays.Navigation)
	set(pacing.PurposeTyping, c.Delays.Typing)
	set(pacing.PurposeSubmission, c.Delays.Submission)
	set(pacing.PurposeChatbot, c.Delays.Chatbot)
	set(pacing.PurposePage, c.Delays.Page)
	return c.Delays.RateLimitFloor.Duration(), ranges
}

// BrowserOptions returns the headless Chrome options.
func (c *Config) BrowserOptions(logger *slog.Logger) browser.Options {
	headless := true
	if c.Browser.Headless != nil {
		headless = *c.Browser.Headless
	}
	return browser.Options{
		Headless:    headless,
		UserDataDir: c.Browser.UserDataDir,
		UserAgent:   c.Browser.UserAgent,
		Logger:      logger,
	}
}

// Session returns the session store configuration.
func (c *Config) Session(logger *slog.Logger) session.Config {
	return session.Config{
		DatabaseURL: c.Storage.DatabaseURL,
		Path:        c.Storage.SQLitePath,
		Logger:      logger,
	}
}

// LLM returns the model configuration, with the lite tier overridden when a model is set.
func (c *Config) LLM() *llm.Config {
	cfg := llm.DefaultConfig()
	if c.Oracle.Model != "" {
		cfg = cfg.WithModel(llm.TierLite, c.Oracle.Model)
	}
	return cfg
}

// S3 returns the report mirror configuration, or nil when mirroring is off.
func (c *Config) S3() *report.S3Config {
	if c.Report.S3 == nil {
		return nil
	}
	return &report.S3Config{
		Bucket:       c.Report.S3.Bucket,
		Prefix:       c.Report.S3.Prefix,
		Region:       c.Report.S3.Region,
		Profile:      c.Report.S3.Profile,
		UsePathStyle: c.Report.S3.UsePathStyle,
	}
}
