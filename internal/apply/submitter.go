// Package apply drives a single job application from the job page to the confirmation.
package apply

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/chatbot"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/pacing"
	"github.com/jonathan/job-applier/internal/retry"
	"github.com/jonathan/job-applier/internal/types"
)

const (
	DefaultControlTimeout     = 5 * time.Second
	DefaultSubmitTimeout      = time.Second
	DefaultStateChangeTimeout = 2 * time.Second
	DefaultVerifyTimeout      = 5 * time.Second
	DefaultProbeTimeout       = 250 * time.Millisecond
	DefaultChatbotLimit       = 30 * time.Second
	DefaultNavigationAttempts = 3
	DefaultNavigationBackoff  = time.Second
)

// Selectors are the descriptor lists for the job page controls
type Selectors struct {
	AlreadyApplied  []browser.Descriptor `json:"already_applied"`
	ApplyControl    []browser.Descriptor `json:"apply_control"`
	ExternalControl []browser.Descriptor `json:"external_control"`
	Submit          []browser.Descriptor `json:"submit"`
	Confirmation    []browser.Descriptor `json:"confirmation"`
}

// DefaultSelectors returns descriptors for common job page markup.
func DefaultSelectors() Selectors {
	return Selectors{
		AlreadyApplied: []browser.Descriptor{
			browser.CSS("#already-applied"),
			browser.TextContains("span", "Applied"),
		},
		ApplyControl: []browser.Descriptor{
			browser.CSS("#apply-button"),
			browser.CSS("button[class*='apply-button']"),
			browser.TextContains("button", "Easy Apply"),
			browser.XPath("//button[normalize-space(.)='Apply' or normalize-space(.)='Apply now']"),
		},
		ExternalControl: []browser.Descriptor{
			browser.CSS("#company-site-button"),
			browser.TextContains("button", "Apply on company site"),
			browser.TextContains("a", "Apply on company site"),
		},
		Submit: []browser.Descriptor{
			browser.CSS("button[type='submit']"),
			browser.TextContains("button", "Submit"),
			browser.CSS("input[type='submit']"),
		},
		Confirmation: []browser.Descriptor{
			browser.TextContains("*", "successfully applied"),
			browser.TextContains("*", "Application sent"),
			browser.TextContains("*", "Application submitted"),
			browser.CSS("span.success"),
		},
	}
}

// Config controls the submitter
type Config struct {
	Selectors Selectors
	// ExternalDomains are hosts that always mean a third-party application.
	ExternalDomains []string

	ControlTimeout     time.Duration
	// SubmitTimeout is how long each submit descriptor is polled.
	SubmitTimeout      time.Duration
	StateChangeTimeout time.Duration
	VerifyTimeout      time.Duration
	ProbeTimeout       time.Duration
	// ChatbotLimit caps the total chatbot time for one job.
	ChatbotLimit       time.Duration
	NavigationAttempts int
	NavigationBackoff  time.Duration

	// DebugDir receives a screenshot of the page for each failed attempt when set.
	DebugDir string
}

func (c *Config) applyDefaults() {
	if len(c.Selectors.ApplyControl) == 0 {
		c.Selectors = DefaultSelectors()
	}
	if c.ControlTimeout <= 0 {
		c.ControlTimeout = DefaultControlTimeout
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = DefaultSubmitTimeout
	}
	if c.StateChangeTimeout <= 0 {
		c.StateChangeTimeout = DefaultStateChangeTimeout
	}
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = DefaultVerifyTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ChatbotLimit <= 0 {
		c.ChatbotLimit = DefaultChatbotLimit
	}
	if c.NavigationAttempts <= 0 {
		c.NavigationAttempts = DefaultNavigationAttempts
	}
	if c.NavigationBackoff <= 0 {
		c.NavigationBackoff = DefaultNavigationBackoff
	}
}

// Chatbot runs the screening questionnaire shown after the apply control is clicked.
type Chatbot interface {
	Run(ctx context.Context, limit time.Duration) (chatbot.Result, error)
}

// Submitter applies to one job at a time. It is not safe for concurrent use because it
// drives the browser's current tab.
type Submitter struct {
	b       browser.Browser
	loc     *locator.Locator
	pace    *pacing.Policy
	chat    Chatbot
	cfg     Config
	targets targets
	logger  *slog.Logger
}

// targets are the named locator targets of the job page. Their names key the selector cache.
type targets struct {
	already      locator.Target
	apply        locator.Target
	external     locator.Target
	submit       locator.Target
	confirmation locator.Target
}

func newTargets(sel Selectors) targets {
	return targets{
		already:      locator.Target{Name: "apply_already_applied", Candidates: sel.AlreadyApplied, Visible: true},
		apply:        locator.Target{Name: "apply_control", Candidates: sel.ApplyControl, Visible: true, Exclude: sel.ExternalControl},
		external:     locator.Target{Name: "apply_external_control", Candidates: sel.ExternalControl, Visible: true},
		submit:       locator.Target{Name: "apply_submit", Candidates: sel.Submit, Visible: true, Exclude: sel.ExternalControl},
		confirmation: locator.Target{Name: "apply_confirmation", Candidates: sel.Confirmation, Visible: true},
	}
}

// New creates a submitter. chat may be nil when no chatbot is expected.
func New(b browser.Browser, loc *locator.Locator, pace *pacing.Policy, chat Chatbot, cfg Config, logger *slog.Logger) *Submitter {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Submitter{b: b, loc: loc, pace: pace, chat: chat, cfg: cfg, targets: newTargets(cfg.Selectors), logger: logger}
}

// stageError carries the state-machine stage that failed.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func failAt(stage string, err error) error {
	return &stageError{stage: stage, err: err}
}

// Submit runs the application state machine for job and returns the attempt. It never
// returns a half-built attempt: panics and context expiry become failure outcomes.
func (s *Submitter) Submit(ctx context.Context, job types.JobReference) (attempt types.ApplicationAttempt) {
	log := s.logger.With("job_id", job.ExternalID)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while applying", "panic", r)
			attempt = types.NewAttempt(job, types.OutcomeFailedSubmission, fmt.Sprintf("panic: %v", r))
		}
		if attempt.Outcome.IsFailure() {
			s.saveScreenshot(ctx, job, log)
		}
		log.Info("application finished", "outcome", attempt.Outcome, "detail", attempt.Detail, "elapsed", time.Since(start).Round(time.Millisecond))
	}()

	outcome, detail, err := s.run(ctx, job, log)
	if err != nil {
		outcome = types.OutcomeFailedSubmission
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = types.OutcomeFailedTimeout
		}
		detail = err.Error()
	}
	return types.NewAttempt(job, outcome, detail)
}

func (s *Submitter) run(ctx context.Context, job types.JobReference, log *slog.Logger) (types.Outcome, string, error) {
	// Open
	err := retry.Do(ctx, s.cfg.NavigationAttempts, retry.Linear(s.cfg.NavigationBackoff), func(ctx context.Context) error {
		return s.b.Navigate(ctx, job.URL)
	})
	if err != nil {
		return "", "", failAt("open", err)
	}
	if err := s.pace.WaitFor(ctx, pacing.PurposeNavigation); err != nil {
		return "", "", failAt("open", err)
	}
	if host, ext := s.redirectedAway(ctx, job.URL); ext {
		return types.OutcomeSkippedExternal, "redirected to " + host, nil
	}
	if s.present(ctx, s.targets.already) {
		return types.OutcomeSkippedDuplicate, "already applied on site", nil
	}

	// LocateApplyControl
	kind, err := s.waitForApplyControl(ctx)
	if err != nil {
		return "", "", failAt("locate apply control", err)
	}
	if kind == controlExternal {
		return types.OutcomeSkippedExternal, s.inspectExternal(ctx, job.URL, log), nil
	}

	// EasyApply
	if err := s.loc.Click(ctx, s.targets.apply, nil); err != nil {
		return "", "", failAt("apply", err)
	}
	if err := s.pace.WaitFor(ctx, pacing.PurposeSubmission); err != nil {
		return "", "", failAt("apply", err)
	}
	if host, ext := s.redirectedAway(ctx, job.URL); ext {
		return types.OutcomeSkippedExternal, "apply control redirected to " + host, nil
	}

	// Chatbot
	if s.chat != nil {
		res, err := s.chat.Run(ctx, s.cfg.ChatbotLimit)
		if err != nil {
			return "", "", failAt("chatbot", err)
		}
		if res.Detected {
			log.Info("chatbot answered", "questions", res.Answered(), "timed_out", res.TimedOut)
		}
	}

	// Submit
	if !s.confirmed(ctx, s.cfg.ProbeTimeout) {
		if err := s.submit(ctx, log); err != nil {
			return "", "", failAt("submit", err)
		}
	}

	// Verify
	if s.confirmed(ctx, s.cfg.VerifyTimeout) {
		return types.OutcomeApplied, "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", "", failAt("verify", err)
	}
	return types.OutcomeFailedSubmission, "no confirmation after submit", nil
}

type controlKind int

const (
	controlNone controlKind = iota
	controlNative
	controlExternal
)

// waitForApplyControl races both apply controls until ControlTimeout passes. The native
// control wins when both are shown; an element that also matches the external control
// is never taken for the native one.
func (s *Submitter) waitForApplyControl(ctx context.Context) (controlKind, error) {
	i, _, err := s.loc.Race(ctx, s.cfg.ControlTimeout, s.targets.apply, s.targets.external)
	switch {
	case err == nil && i == 0:
		return controlNative, nil
	case err == nil:
		return controlExternal, nil
	case browser.IsNotFound(err):
		return controlNone, errors.New("no apply control on the job page")
	default:
		return controlNone, err
	}
}

// submit tries each submit descriptor, cached one first, with a native click and waits
// for the page to react. When no click registers, the controls that were shown are
// activated from script. The descriptor that registers is remembered.
func (s *Submitter) submit(ctx context.Context, log *slog.Logger) error {
	t := s.targets.submit
	var shown []browser.Descriptor
	for _, d := range s.loc.Candidates(t) {
		el, err := s.loc.Try(ctx, t, d, nil, s.cfg.SubmitTimeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}
		shown = append(shown, d)
		if err := el.Click(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			log.Debug("submit click failed", "descriptor", d.String(), "error", err)
			continue
		}
		if s.stateChanged(ctx, d) {
			s.loc.Remember(t, d)
			return nil
		}
		log.Debug("submit click did not register", "descriptor", d.String())
	}
	if len(shown) == 0 {
		log.Debug("no submit control shown, verifying as is")
		return ctx.Err()
	}

	for _, d := range shown {
		el, err := s.loc.Try(ctx, t, d, nil, s.cfg.ProbeTimeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}
		log.Debug("activating submit control from script", "descriptor", d.String())
		if err := el.ActivateScript(ctx); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			continue
		}
		if s.stateChanged(ctx, d) {
			s.loc.Remember(t, d)
			return nil
		}
	}
	return ctx.Err()
}

func (s *Submitter) confirmed(ctx context.Context, timeout time.Duration) bool {
	return s.shown(ctx, s.targets.confirmation, timeout)
}

func (s *Submitter) present(ctx context.Context, t locator.Target) bool {
	return s.shown(ctx, t, s.cfg.ProbeTimeout)
}

// shown reports whether any candidate of t is visible within timeout.
func (s *Submitter) shown(ctx context.Context, t locator.Target, timeout time.Duration) bool {
	if len(t.Candidates) == 0 {
		return false
	}
	_, _, err := s.loc.Race(ctx, timeout, t)
	return err == nil
}
