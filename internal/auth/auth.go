// Package auth drives credential submission and verifies the session with several
// independent signals so that a partial UI rollout does not look like a failed login.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/pacing"
)

// Reason classifies an authentication failure
type Reason string

const (
	// ReasonCredentialsRejected means the login form re-rendered with an error indicator.
	ReasonCredentialsRejected Reason = "credentials_rejected"
	// ReasonVerificationInconclusive means no signal confirmed login before the timeout.
	// It usually indicates a changed UI rather than wrong credentials.
	ReasonVerificationInconclusive Reason = "verification_inconclusive"
	// ReasonFormUnavailable means a credential field or the submit control was not found.
	ReasonFormUnavailable Reason = "form_unavailable"
)

// AuthError is returned by Login on failure
type AuthError struct {
	Reason Reason
	Detail string
	Cause  error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("authentication failed (%s)", e.Reason)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error {
	return e.Cause
}

// ReasonOf returns the failure reason carried by err, or "" if err is not an AuthError.
func ReasonOf(err error) Reason {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae.Reason
	}
	return ""
}

// Credentials are the account login values
type Credentials struct {
	Username string
	Password string
}

// Signal names a verification signal class
type Signal string

const (
	SignalURL    Signal = "url"
	SignalMarker Signal = "marker"
	SignalProbe  Signal = "probe"
)

// Config describes the login surface
type Config struct {
	LoginURL string
	// ProbeURL is a page only an authenticated session can stay on.
	ProbeURL  string
	LogoutURL string
	// LoginPatterns are substrings of URLs that mean "still on login".
	LoginPatterns []string

	Username       []browser.Descriptor
	Password       []browser.Descriptor
	Submit         []browser.Descriptor
	ErrorIndicator []browser.Descriptor
	Markers        []browser.Descriptor
	Popups         []browser.Descriptor

	// VerifyTimeout bounds the whole verification phase.
	VerifyTimeout time.Duration
	// SignalInterval is the pause between verification rounds.
	SignalInterval time.Duration
	// SignalTimeout bounds each marker or error-indicator lookup.
	SignalTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.VerifyTimeout <= 0 {
		c.VerifyTimeout = 30 * time.Second
	}
	if c.SignalInterval <= 0 {
		c.SignalInterval = time.Second
	}
	if c.SignalTimeout <= 0 {
		c.SignalTimeout = time.Second
	}
	if len(c.LoginPatterns) == 0 {
		c.LoginPatterns = []string{"login"}
	}
}

// Authenticator logs in through the document
type Authenticator struct {
	doc    browser.Document
	loc    *locator.Locator
	pace   *pacing.Policy
	cfg    Config
	logger *slog.Logger
}

// New returns an Authenticator.
func New(doc browser.Document, loc *locator.Locator, pace *pacing.Policy, cfg Config, logger *slog.Logger) *Authenticator {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{doc: doc, loc: loc, pace: pace, cfg: cfg, logger: logger}
}

// Login submits credentials and verifies the session. It returns nil when authenticated
// and an *AuthError otherwise.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) error {
	a.logger.Info("logging in", "url", a.cfg.LoginURL)
	if err := a.doc.Navigate(ctx, a.cfg.LoginURL); err != nil {
		return &AuthError{Reason: ReasonFormUnavailable, Detail: "login page did not load", Cause: err}
	}
	if err := a.pace.WaitFor(ctx, pacing.PurposeNavigation); err != nil {
		return err
	}

	if signal, ok := a.quickCheck(ctx); ok {
		a.logger.Info("session already authenticated", "signal", signal)
		return nil
	}

	if err := a.fill(ctx, "login.username", a.cfg.Username, creds.Username); err != nil {
		return err
	}
	if err := a.fill(ctx, "login.password", a.cfg.Password, creds.Password); err != nil {
		return err
	}

	if err := a.pace.WaitFor(ctx, pacing.PurposeSubmission); err != nil {
		return err
	}
	submit := locator.Target{Name: "login.submit", Candidates: a.cfg.Submit, Visible: true}
	if err := a.loc.Click(ctx, submit, nil); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &AuthError{Reason: ReasonFormUnavailable, Detail: "submit control not found", Cause: err}
	}

	if err := a.pace.WaitFor(ctx, pacing.PurposeNavigation); err != nil {
		return err
	}
	a.DismissPopups(ctx)

	signal, err := a.verify(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("login verified", "signal", signal)
	return nil
}

func (a *Authenticator) fill(ctx context.Context, name string, candidates []browser.Descriptor, value string) error {
	target := locator.Target{Name: name, Candidates: candidates, Visible: true}
	err := a.loc.Use(ctx, target, nil, func(el browser.Element) error {
		if err := el.Clear(ctx); err != nil {
			return err
		}
		return a.pace.TypeHuman(ctx, el, value)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return &AuthError{Reason: ReasonFormUnavailable, Detail: name + " field not usable", Cause: err}
}

// DismissPopups clicks any visible popup close control. Absence is normal.
func (a *Authenticator) DismissPopups(ctx context.Context) {
	for _, d := range a.cfg.Popups {
		el, _, err := a.loc.LocateVisible(ctx, []browser.Descriptor{d}, nil, a.cfg.SignalTimeout/4)
		if err != nil {
			continue
		}
		if err := el.ActivateScript(ctx); err != nil {
			a.logger.Debug("popup dismissal failed", "descriptor", d.String(), "error", err)
		}
	}
}

// quickCheck evaluates the passive signals once, without probing.
func (a *Authenticator) quickCheck(ctx context.Context) (Signal, bool) {
	onLogin, err := a.onLoginPage(ctx)
	if err != nil || onLogin {
		return "", false
	}
	if a.markerPresent(ctx) {
		return SignalMarker, true
	}
	return "", false
}

// verify evaluates the signal classes in rounds until one confirms, the login form shows
// an error, or VerifyTimeout passes. URL and marker signals are checked every round; the
// navigation probe runs only when both are negative.
func (a *Authenticator) verify(ctx context.Context) (Signal, error) {
	deadline := time.Now().Add(a.cfg.VerifyTimeout)
	for round := 1; ; round++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		onLogin, err := a.onLoginPage(ctx)
		if err == nil && !onLogin {
			return SignalURL, nil
		}
		if a.markerPresent(ctx) {
			return SignalMarker, nil
		}
		if onLogin && a.errorShown(ctx) {
			return "", &AuthError{Reason: ReasonCredentialsRejected, Detail: "login form reported an error"}
		}
		if a.probe(ctx) {
			return SignalProbe, nil
		}

		a.logger.Debug("login not yet confirmed", "round", round)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", &AuthError{
				Reason: ReasonVerificationInconclusive,
				Detail: fmt.Sprintf("no signal confirmed login within %s", a.cfg.VerifyTimeout),
			}
		}
		timer := time.NewTimer(min(a.cfg.SignalInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

func (a *Authenticator) onLoginPage(ctx context.Context) (bool, error) {
	current, err := a.doc.CurrentURL(ctx)
	if err != nil {
		return false, err
	}
	return a.isLoginURL(current), nil
}

func (a *Authenticator) isLoginURL(u string) bool {
	lower := strings.ToLower(u)
	for _, p := range a.cfg.LoginPatterns {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func (a *Authenticator) markerPresent(ctx context.Context) bool {
	if len(a.cfg.Markers) == 0 {
		return false
	}
	_, _, err := a.loc.LocateVisible(ctx, a.cfg.Markers, nil, a.cfg.SignalTimeout)
	return err == nil
}

func (a *Authenticator) errorShown(ctx context.Context) bool {
	if len(a.cfg.ErrorIndicator) == 0 {
		return false
	}
	_, _, err := a.loc.LocateVisible(ctx, a.cfg.ErrorIndicator, nil, a.cfg.SignalTimeout)
	return err == nil
}

// probe navigates to the authenticated-only page and reports whether it stayed there.
// On failure the previous location is restored.
func (a *Authenticator) probe(ctx context.Context) bool {
	if a.cfg.ProbeURL == "" {
		return false
	}
	previous, _ := a.doc.CurrentURL(ctx)
	if err := a.doc.Navigate(ctx, a.cfg.ProbeURL); err != nil {
		a.logger.Debug("probe navigation failed", "error", err)
		return false
	}
	onLogin, err := a.onLoginPage(ctx)
	if err == nil && !onLogin {
		return true
	}
	if previous != "" && previous != a.cfg.ProbeURL {
		if err := a.doc.Navigate(ctx, previous); err != nil {
			a.logger.Debug("failed to restore location after probe", "error", err)
		}
	}
	return false
}

// Logout navigates to the configured logout URL, if any. Failures are logged only.
func (a *Authenticator) Logout(ctx context.Context) {
	if a.cfg.LogoutURL == "" {
		return
	}
	if err := a.doc.Navigate(ctx, a.cfg.LogoutURL); err != nil {
		a.logger.Warn("logout failed", "error", err)
	}
}
