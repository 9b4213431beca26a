package jobid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
	}{
		{"jobId query param", "https://www.example.com/view?jobId=12345&src=search", "12345"},
		{"jobid in path", "https://www.example.com/job-listings-go-dev-acme-jobid-998877", "998877"},
		{"listing slug", "https://www.example.com/job-listings-senior-go-engineer-acme?src=jobsearch", "senior-go-engineer-acme"},
		{"fragment ignored", "https://www.example.com/job-listings-sre-x#apply", "sre-x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FromURL(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromURL_HashFallbackIsStable(t *testing.T) {
	a, err := FromURL("https://Example.com/careers/42?utm_source=mail")
	require.NoError(t, err)
	b, err := FromURL("https://example.com/careers/42/")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 16)

	c, err := FromURL("https://example.com/careers/43")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestFromURL_Invalid(t *testing.T) {
	_, err := FromURL("not a url")
	assert.Error(t, err)
	_, err = FromURL("://bad")
	assert.Error(t, err)
}

func TestCanonical_SortsAndStripsTracking(t *testing.T) {
	got, err := Canonical("HTTPS://Example.COM/a/?b=2&utm_campaign=x&a=1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a?a=1&b=2", got)
}
