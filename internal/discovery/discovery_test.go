package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/browser/browsertest"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/pacing"
	"github.com/jonathan/job-applier/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	searchTemplate = "https://jobs.example/{keyword}-jobs-in-{location}-{page}"
	cardSelector   = "article.jobTuple"
)

func card(slug, title string) *browsertest.Element {
	return &browsertest.Element{
		Name: slug,
		HTMLValue: fmt.Sprintf(`<article class="jobTuple">
			<a class="title" href="/job-listings-%s">%s</a>
			<a class="comp-name">Acme Corp</a>
			<span class="locWdth">Pune</span>
			<div class="job-desc">Build Go services on Kubernetes.</div>
		</article>`, slug, title),
	}
}

func pageURL(page int) string {
	return SearchURL(searchTemplate, "golang developer", "Pune", page)
}

func newCrawler(t *testing.T, b *browsertest.Browser, mutate func(*Config)) *Crawler {
	t.Helper()
	loc := locator.New(b, locator.Options{Timeout: 5 * time.Millisecond, PollInterval: time.Millisecond})
	cfg := Config{
		Keywords:          []string{"golang developer"},
		Location:          "Pune",
		SearchURL:         searchTemplate,
		PagesPerKeyword:   5,
		Cards:             []browser.Descriptor{browser.CSS(cardSelector)},
		CardTimeout:       10 * time.Millisecond,
		PageTimeout:       5 * time.Millisecond,
		NavigationBackoff: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return New(loc, pacing.Instant(), cfg, nil, nil)
}

func collect(t *testing.T, c *Crawler, ctx context.Context) ([]types.JobReference, []error) {
	t.Helper()
	var refs []types.JobReference
	var errs []error
	for ref, err := range c.Jobs(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, errs
}

func ids(refs []types.JobReference) []string {
	out := make([]string, len(refs))
	for i, r := range refs {
		out[i] = r.ExternalID
	}
	return out
}

func TestJobs_StaleCardIsSkipped(t *testing.T) {
	b := browsertest.New()
	stale := card("c3", "Stale")
	stale.Stale = true
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector,
		card("c1", "One"), card("c2", "Two"), stale, card("c4", "Four"), card("c5", "Five")))

	c := newCrawler(t, b, func(cfg *Config) { cfg.PagesPerKeyword = 1 })
	refs, errs := collect(t, c, context.Background())

	assert.Empty(t, errs)
	assert.Equal(t, []string{"c1", "c2", "c4", "c5"}, ids(refs))
	assert.Equal(t, 1, c.Stats().SkippedCards)
	assert.Equal(t, 5, c.Stats().Cards)
}

func TestJobs_StopsAfterConsecutivePagesWithoutNewJobs(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("a", "A"), card("b", "B")))
	b.AddPage(browsertest.NewPage(pageURL(2)).Add(cardSelector, card("c", "C")))
	b.AddPage(browsertest.NewPage(pageURL(3)).Add(cardSelector, card("a", "A"), card("b", "B")))
	b.AddPage(browsertest.NewPage(pageURL(4)).Add(cardSelector, card("c", "C")))
	b.AddPage(browsertest.NewPage(pageURL(5)).Add(cardSelector, card("d", "D")))

	c := newCrawler(t, b, nil)
	refs, errs := collect(t, c, context.Background())

	assert.Empty(t, errs)
	assert.Equal(t, []string{"a", "b", "c"}, ids(refs))
	assert.Equal(t, []string{pageURL(1), pageURL(2), pageURL(3), pageURL(4)}, b.Navigations)
	assert.Equal(t, 3, c.Stats().Duplicates)
	assert.Equal(t, 4, c.Stats().Pages)
}

func TestJobs_EmptyPagesCountTowardTermination(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("a", "A")))

	c := newCrawler(t, b, nil)
	refs, _ := collect(t, c, context.Background())

	assert.Equal(t, []string{"a"}, ids(refs))
	assert.Len(t, b.Navigations, 3)
}

func TestJobs_PopulatesReferenceFields(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("go-dev-123", "Go Developer")))

	c := newCrawler(t, b, func(cfg *Config) { cfg.PagesPerKeyword = 1 })
	refs, _ := collect(t, c, context.Background())

	require.Len(t, refs, 1)
	ref := refs[0]
	assert.Equal(t, "go-dev-123", ref.ExternalID)
	assert.Equal(t, "https://jobs.example/job-listings-go-dev-123", ref.URL)
	assert.Equal(t, "Go Developer", ref.Title)
	assert.Equal(t, "Acme Corp", ref.Company)
	assert.Equal(t, "Pune", ref.Location)
	assert.Equal(t, "Build Go services on Kubernetes.", ref.Snippet)
	assert.Equal(t, "golang developer", ref.Keyword)
	assert.False(t, ref.DiscoveredAt.IsZero())
}

func TestJobs_DeduplicatesAcrossKeywords(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(SearchURL(searchTemplate, "go", "Pune", 1)).Add(cardSelector, card("a", "A"), card("b", "B")))
	b.AddPage(browsertest.NewPage(SearchURL(searchTemplate, "golang", "Pune", 1)).Add(cardSelector, card("b", "B"), card("c", "C")))

	c := newCrawler(t, b, func(cfg *Config) {
		cfg.Keywords = []string{"go", "golang"}
		cfg.PagesPerKeyword = 1
	})
	refs, _ := collect(t, c, context.Background())

	assert.Equal(t, []string{"a", "b", "c"}, ids(refs))
	assert.Equal(t, "golang", refs[2].Keyword)
	assert.Equal(t, 2, c.Stats().Keywords)
	assert.Equal(t, 3, c.Stats().Discovered)
}

func TestJobs_SecondIterationYieldsErrConsumed(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("a", "A")))
	c := newCrawler(t, b, func(cfg *Config) { cfg.PagesPerKeyword = 1 })

	refs, _ := collect(t, c, context.Background())
	require.Len(t, refs, 1)

	refs, errs := collect(t, c, context.Background())
	assert.Empty(t, refs)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrConsumed)
}

func TestJobs_CancelledContextEndsStream(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("a", "A")))
	c := newCrawler(t, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	refs, errs := collect(t, c, ctx)

	assert.Empty(t, refs)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], context.Canceled)
	assert.Empty(t, b.Navigations)
}

func TestJobs_ConsumerBreakStopsCrawl(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("a", "A"), card("b", "B")))
	b.AddPage(browsertest.NewPage(pageURL(2)).Add(cardSelector, card("c", "C")))
	c := newCrawler(t, b, nil)

	for ref, err := range c.Jobs(context.Background()) {
		require.NoError(t, err)
		assert.Equal(t, "a", ref.ExternalID)
		break
	}
	assert.Equal(t, []string{pageURL(1)}, b.Navigations)
}

func TestJobs_NextPageControl(t *testing.T) {
	const first = "https://jobs.example/search?q=go"
	const second = "https://jobs.example/search?q=go&p=2"

	b := browsertest.New()
	next := &browsertest.Element{Name: "next", OnClick: func(b *browsertest.Browser) error {
		b.SetLocation(second)
		return nil
	}}
	b.AddPage(browsertest.NewPage(first).Add(cardSelector, card("a", "A")).Add("a.next", next))
	b.AddPage(browsertest.NewPage(second).Add(cardSelector, card("b", "B")))

	c := newCrawler(t, b, func(cfg *Config) {
		cfg.SearchURL = "https://jobs.example/search?q={keyword}"
		cfg.Keywords = []string{"go"}
		cfg.NextPage = []browser.Descriptor{browser.CSS("a.next")}
	})
	refs, errs := collect(t, c, context.Background())

	assert.Empty(t, errs)
	assert.Equal(t, []string{"a", "b"}, ids(refs))
	assert.Equal(t, []string{first}, b.Navigations)
	assert.Equal(t, []string{"click:next"}, b.ClickLog)
}

func TestJobs_NavigationFailureSkipsPage(t *testing.T) {
	b := browsertest.New()
	b.NavigateErr[pageURL(1)] = errors.New("net::ERR_CONNECTION_RESET")
	b.AddPage(browsertest.NewPage(pageURL(2)).Add(cardSelector, card("b", "B")))

	c := newCrawler(t, b, func(cfg *Config) {
		cfg.PagesPerKeyword = 2
		cfg.NavigationAttempts = 2
	})
	refs, errs := collect(t, c, context.Background())

	assert.Empty(t, errs)
	assert.Equal(t, []string{"b"}, ids(refs))
}

func TestJobs_BeforeExtractRunsPerPage(t *testing.T) {
	b := browsertest.New()
	b.AddPage(browsertest.NewPage(pageURL(1)).Add(cardSelector, card("a", "A")))
	b.AddPage(browsertest.NewPage(pageURL(2)).Add(cardSelector, card("b", "B")))

	c := newCrawler(t, b, func(cfg *Config) { cfg.PagesPerKeyword = 2 })
	calls := 0
	c.BeforeExtract = func(context.Context) { calls++ }
	collect(t, c, context.Background())

	assert.Equal(t, 2, calls)
}

func TestSearchURL(t *testing.T) {
	tests := []struct {
		name     string
		template string
		keyword  string
		location string
		page     int
		want     string
	}{
		{"slugified", searchTemplate, "Data Engineer", "Bengaluru", 3, "https://jobs.example/data-engineer-jobs-in-bengaluru-3"},
		{"extra spaces", searchTemplate, "  go   developer ", "new delhi", 1, "https://jobs.example/go-developer-jobs-in-new-delhi-1"},
		{"no page placeholder", "https://jobs.example/{keyword}", "go", "", 2, "https://jobs.example/go"},
		{"escaped", "https://jobs.example/{keyword}", "c# dev", "", 1, "https://jobs.example/c%23-dev"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SearchURL(tt.template, tt.keyword, tt.location, tt.page))
		})
	}
}

func TestParseCard(t *testing.T) {
	base, _ := url.Parse("https://jobs.example/golang-jobs-1")

	t.Run("title from attribute", func(t *testing.T) {
		html := `<div><a title="Platform Engineer" href="https://jobs.example/job-listings-x1"></a></div>`
		got, err := parseCard(html, CardFields{Title: []string{"a[title]"}, Link: []string{"a"}}, base)
		require.NoError(t, err)
		assert.Equal(t, "Platform Engineer", got.Title)
	})

	t.Run("relative link resolved", func(t *testing.T) {
		html := `<div><h2><a href="../job-listings-x2?src=srp">Go Dev</a></h2></div>`
		got, err := parseCard(html, DefaultCardFields(), base)
		require.NoError(t, err)
		assert.Equal(t, "https://jobs.example/job-listings-x2?src=srp", got.Link)
	})

	t.Run("snippet falls back to card text", func(t *testing.T) {
		html := "<div><h2><a href=\"/j/1\">Go Dev</a></h2>\n  <p>Remote friendly</p><script>var x=1</script></div>"
		got, err := parseCard(html, DefaultCardFields(), base)
		require.NoError(t, err)
		assert.Contains(t, got.Snippet, "Remote friendly")
		assert.NotContains(t, got.Snippet, "var x")
	})

	t.Run("missing title", func(t *testing.T) {
		_, err := parseCard(`<div><span>ad</span></div>`, DefaultCardFields(), base)
		assert.ErrorIs(t, err, errNoTitle)
	})

	t.Run("missing link", func(t *testing.T) {
		_, err := parseCard(`<div><span class="jobTitle">Go Dev</span></div>`, DefaultCardFields(), base)
		assert.ErrorIs(t, err, errNoLink)
	})

	t.Run("javascript link ignored", func(t *testing.T) {
		_, err := parseCard(`<div><h2><a href="javascript:void(0)">Go Dev</a></h2></div>`, DefaultCardFields(), base)
		assert.ErrorIs(t, err, errNoLink)
	})
}
