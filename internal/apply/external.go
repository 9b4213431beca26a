package apply

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jonathan/job-applier/internal/browser"
)

// redirectedAway reports whether the current page left the job's site, returning the host.
func (s *Submitter) redirectedAway(ctx context.Context, jobURL string) (string, bool) {
	current, err := s.b.CurrentURL(ctx)
	if err != nil {
		return "", false
	}
	host := hostOf(current)
	return host, s.isExternal(jobURL, current)
}

// isExternal reports whether target is off the site that serves jobURL. A configured
// external domain always counts.
func (s *Submitter) isExternal(jobURL, target string) bool {
	host := hostOf(target)
	if host == "" {
		return false
	}
	for _, d := range s.cfg.ExternalDomains {
		if matchesDomain(host, d) {
			return true
		}
	}
	site := hostOf(jobURL)
	return site != "" && !sameSite(host, site)
}

// inspectExternal follows the external control's link in an auxiliary tab to name the
// destination. The tab is always closed and the job tab restored.
func (s *Submitter) inspectExternal(ctx context.Context, jobURL string, log *slog.Logger) string {
	_, el, err := s.loc.Race(ctx, s.cfg.ProbeTimeout, s.targets.external)
	if err != nil {
		return "external apply control"
	}
	href, err := el.Attribute(ctx, "href")
	if err != nil || strings.TrimSpace(href) == "" || strings.HasPrefix(href, "javascript:") {
		return "external apply control"
	}
	if base, err := url.Parse(jobURL); err == nil {
		if ref, err := base.Parse(href); err == nil {
			href = ref.String()
		}
	}

	var landed string
	err = browser.WithTab(ctx, s.b, href, func(ctx context.Context) error {
		u, err := s.b.CurrentURL(ctx)
		landed = u
		return err
	})
	if err != nil {
		log.Debug("could not inspect external link", "href", href, "error", err)
		return "external apply control linking to " + hostOf(href)
	}
	return "external application on " + hostOf(landed)
}

func hostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func matchesDomain(host, domain string) bool {
	domain = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(domain), "."))
	if domain == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}

// sameSite treats a host and its subdomains as one site, ignoring a leading "www.".
func sameSite(a, b string) bool {
	a = strings.TrimPrefix(a, "www.")
	b = strings.TrimPrefix(b, "www.")
	return matchesDomain(a, b) || matchesDomain(b, a)
}
