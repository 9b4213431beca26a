// Package jobid derives stable job identifiers from listing URLs.
package jobid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	jobIDParam  = regexp.MustCompile(`(?i)jobid[=-](\d+)`)
	listingSlug = regexp.MustCompile(`/job-listings-([^/?#]+)`)
)

// trackingParams are dropped during canonicalization.
var trackingParams = map[string]bool{
	"src": true, "sid": true, "xp": true, "px": true, "ref": true, "referrer": true,
	"utm_source": true, "utm_medium": true, "utm_campaign": true, "utm_term": true, "utm_content": true,
}

// Canonical normalizes a listing URL: lowercase scheme and host, no fragment, no
// tracking parameters, remaining query parameters sorted.
func Canonical(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid job url %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("job url %q has no host", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	q := u.Query()
	for k := range q {
		if trackingParams[strings.ToLower(k)] {
			q.Del(k)
		}
	}
	// Encode sorts by key.
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// FromURL returns the job's external id: the numeric jobId when present, else the
// job-listings slug, else a short hash of the canonical URL.
func FromURL(raw string) (string, error) {
	canonical, err := Canonical(raw)
	if err != nil {
		return "", err
	}
	if m := jobIDParam.FindStringSubmatch(canonical); m != nil {
		return m[1], nil
	}
	if m := listingSlug.FindStringSubmatch(canonical); m != nil {
		return m[1], nil
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])[:16], nil
}
