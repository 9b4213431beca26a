package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/browser/browsertest"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/pacing"
)

const (
	loginURL = "https://jobs.test/nlogin/login"
	homeURL  = "https://jobs.test/mnjuser/homepage"
	probeURL = "https://jobs.test/mnjuser/profile"
)

type fixture struct {
	b      *browsertest.Browser
	auth   *Authenticator
	user   *browsertest.Element
	pass   *browsertest.Element
	submit *browsertest.Element
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := browsertest.New()
	f := &fixture{
		b:      b,
		user:   &browsertest.Element{Name: "username"},
		pass:   &browsertest.Element{Name: "password"},
		submit: &browsertest.Element{Name: "login"},
	}
	b.AddPage(browsertest.NewPage(loginURL)).
		Add("#usernameField", f.user).
		Add("#passwordField", f.pass).
		Add("button[type='submit']", f.submit)

	loc := locator.New(b, locator.Options{Timeout: 5 * time.Millisecond, PollInterval: time.Millisecond})
	f.auth = New(b, loc, pacing.Instant(), Config{
		LoginURL:       loginURL,
		ProbeURL:       probeURL,
		LoginPatterns:  []string{"nlogin"},
		Username:       []browser.Descriptor{browser.CSS("#emailTxt"), browser.CSS("#usernameField")},
		Password:       []browser.Descriptor{browser.CSS("#passwordField")},
		Submit:         []browser.Descriptor{browser.CSS("button[type='submit']")},
		ErrorIndicator: []browser.Descriptor{browser.CSS(".server-err")},
		Markers:        []browser.Descriptor{browser.CSS(".nI-gNb-drawer"), browser.CSS(".user-name")},
		VerifyTimeout:  50 * time.Millisecond,
		SignalInterval: time.Millisecond,
		SignalTimeout:  2 * time.Millisecond,
	}, nil)
	return f
}

var creds = Credentials{Username: "me@example.com", Password: "s3cret"}

func TestLogin_URLSignal(t *testing.T) {
	f := newFixture(t)
	f.submit.OnClick = func(b *browsertest.Browser) error {
		b.SetLocation(homeURL)
		return nil
	}

	require.NoError(t, f.auth.Login(context.Background(), creds))
	assert.Equal(t, "me@example.com", f.user.Value)
	assert.Equal(t, "s3cret", f.pass.Value)
	assert.NotContains(t, f.b.Navigations, probeURL)
}

func TestLogin_MarkerSignalOnly(t *testing.T) {
	f := newFixture(t)
	f.submit.OnClick = func(b *browsertest.Browser) error {
		b.Current().Add(".user-name", &browsertest.Element{TextValue: "Me"})
		return nil
	}

	require.NoError(t, f.auth.Login(context.Background(), creds))
	assert.NotContains(t, f.b.Navigations, probeURL)
}

func TestLogin_ProbeSignalOnly(t *testing.T) {
	f := newFixture(t)

	err := f.auth.Login(context.Background(), creds)
	require.NoError(t, err)
	assert.Contains(t, f.b.Navigations, probeURL)
}

func TestLogin_CredentialsRejected(t *testing.T) {
	f := newFixture(t)
	f.b.Redirects[probeURL] = loginURL
	f.submit.OnClick = func(b *browsertest.Browser) error {
		b.Current().Add(".server-err", &browsertest.Element{TextValue: "Invalid details"})
		return nil
	}

	err := f.auth.Login(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, ReasonCredentialsRejected, ReasonOf(err))
}

func TestLogin_VerificationInconclusive(t *testing.T) {
	f := newFixture(t)
	f.b.Redirects[probeURL] = loginURL

	err := f.auth.Login(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, ReasonVerificationInconclusive, ReasonOf(err))
	assert.Contains(t, err.Error(), "verification_inconclusive")
}

func TestLogin_FormUnavailable(t *testing.T) {
	f := newFixture(t)
	f.b.Page(loginURL).Set("#usernameField")

	err := f.auth.Login(context.Background(), creds)
	require.Error(t, err)
	assert.Equal(t, ReasonFormUnavailable, ReasonOf(err))
	assert.ErrorIs(t, err, browser.ErrNotFound)
}

func TestLogin_AlreadyAuthenticated(t *testing.T) {
	f := newFixture(t)
	f.b.Redirects[loginURL] = homeURL
	f.b.AddPage(browsertest.NewPage(homeURL)).Add(".nI-gNb-drawer", &browsertest.Element{})

	require.NoError(t, f.auth.Login(context.Background(), creds))
	assert.Empty(t, f.user.Value)
	assert.Equal(t, 0, f.submit.Clicks)
}

func TestLogin_DismissesPopups(t *testing.T) {
	f := newFixture(t)
	popup := &browsertest.Element{Name: "close-popup"}
	f.auth.cfg.Popups = []browser.Descriptor{browser.CSS(".crossIcon")}
	f.submit.OnClick = func(b *browsertest.Browser) error {
		b.SetLocation(homeURL)
		b.Page(homeURL).Add(".crossIcon", popup)
		return nil
	}

	require.NoError(t, f.auth.Login(context.Background(), creds))
	assert.Equal(t, 1, popup.Clicks)
}

func TestAuthError_Unwrap(t *testing.T) {
	cause := browser.ErrNotFound
	err := &AuthError{Reason: ReasonFormUnavailable, Detail: "x", Cause: cause}
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Reason(""), ReasonOf(cause))
}

func TestLogout(t *testing.T) {
	f := newFixture(t)
	f.auth.Logout(context.Background())
	assert.Empty(t, f.b.Navigations)

	f.auth.cfg.LogoutURL = "https://jobs.test/logout"
	f.auth.Logout(context.Background())
	assert.Equal(t, []string{"https://jobs.test/logout"}, f.b.Navigations)
}
