// Package discovery crawls search result pages and yields job references lazily.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/jobid"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/metrics"
	"github.com/jonathan/job-applier/internal/pacing"
	"github.com/jonathan/job-applier/internal/retry"
	"github.com/jonathan/job-applier/internal/types"
)

// ErrConsumed is yielded when Jobs is iterated a second time.
var ErrConsumed = errors.New("job stream already consumed")

const (
	DefaultPagesPerKeyword     = 5
	DefaultMaxConsecutiveEmpty = 2
	DefaultCardTimeout         = 3 * time.Second
	DefaultPageTimeout         = 8 * time.Second
	DefaultNavigationAttempts  = 3
)

// Config describes what to search for and how result pages are laid out.
type Config struct {
	Keywords []string
	Location string
	// SearchURL is a template with {keyword}, {location} and {page} placeholders.
	SearchURL       string
	PagesPerKeyword int

	Cards    []browser.Descriptor
	NextPage []browser.Descriptor
	Fields   CardFields

	CardTimeout         time.Duration
	PageTimeout         time.Duration
	MaxConsecutiveEmpty int
	NavigationAttempts  int
	NavigationBackoff   time.Duration
}

func (c *Config) applyDefaults() {
	if c.PagesPerKeyword <= 0 {
		c.PagesPerKeyword = DefaultPagesPerKeyword
	}
	if c.MaxConsecutiveEmpty <= 0 {
		c.MaxConsecutiveEmpty = DefaultMaxConsecutiveEmpty
	}
	if c.CardTimeout <= 0 {
		c.CardTimeout = DefaultCardTimeout
	}
	if c.PageTimeout <= 0 {
		c.PageTimeout = DefaultPageTimeout
	}
	if c.NavigationAttempts <= 0 {
		c.NavigationAttempts = DefaultNavigationAttempts
	}
	if c.NavigationBackoff <= 0 {
		c.NavigationBackoff = time.Second
	}
	if len(c.Fields.Title) == 0 && len(c.Fields.Link) == 0 {
		c.Fields = DefaultCardFields()
	}
}

// Stats summarizes a crawl
type Stats struct {
	Keywords     int `json:"keywords"`
	Pages        int `json:"pages"`
	Cards        int `json:"cards"`
	Discovered   int `json:"discovered"`
	Duplicates   int `json:"duplicates"`
	SkippedCards int `json:"skipped_cards"`
}

// Crawler walks result pages for each keyword. It is single-use.
type Crawler struct {
	doc     browser.Document
	loc     *locator.Locator
	pace    *pacing.Policy
	cfg     Config
	logger  *slog.Logger
	metrics metrics.Sink

	// BeforeExtract runs after each page loads, before cards are read (popup dismissal).
	BeforeExtract func(ctx context.Context)

	consumed atomic.Bool
	seen     map[string]struct{}

	mu    sync.Mutex
	stats Stats
}

// New creates a crawler over the locator's document.
func New(loc *locator.Locator, pace *pacing.Policy, cfg Config, sink metrics.Sink, logger *slog.Logger) *Crawler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Crawler{
		doc:     loc.Document(),
		loc:     loc,
		pace:    pace,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics.OrNoop(sink),
		seen:    make(map[string]struct{}),
	}
}

// Stats returns a snapshot of the crawl counters.
func (c *Crawler) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Crawler) update(fn func(s *Stats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

// Jobs returns the lazy job stream. References are yielded in discovery order with
// duplicates (by ExternalID) dropped. The only errors yielded are context errors, which
// end the stream, and ErrConsumed on a second iteration.
func (c *Crawler) Jobs(ctx context.Context) iter.Seq2[types.JobReference, error] {
	return func(yield func(types.JobReference, error) bool) {
		if !c.consumed.CompareAndSwap(false, true) {
			yield(types.JobReference{}, ErrConsumed)
			return
		}
		for _, keyword := range c.cfg.Keywords {
			if err := ctx.Err(); err != nil {
				yield(types.JobReference{}, err)
				return
			}
			c.update(func(s *Stats) { s.Keywords++ })
			if !c.crawlKeyword(ctx, keyword, yield) {
				return
			}
		}
	}
}

// crawlKeyword walks one keyword's pages. It returns false when the stream must end.
func (c *Crawler) crawlKeyword(ctx context.Context, keyword string, yield func(types.JobReference, error) bool) bool {
	log := c.logger.With("keyword", keyword)
	log.Info("searching")

	empty := 0
	for page := 1; page <= c.cfg.PagesPerKeyword; page++ {
		if empty >= c.cfg.MaxConsecutiveEmpty {
			log.Info("no new jobs, moving on", "empty_pages", empty)
			return true
		}
		if err := ctx.Err(); err != nil {
			yield(types.JobReference{}, err)
			return false
		}

		ok, err := c.openPage(ctx, keyword, page)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				yield(types.JobReference{}, ctxErr)
				return false
			}
			log.Warn("failed to open results page", "page", page, "error", err)
			empty++
			continue
		}
		if !ok {
			log.Debug("no further results pages", "page", page)
			return true
		}

		refs, err := c.extractPage(ctx, keyword)
		if err != nil {
			yield(types.JobReference{}, err)
			return false
		}
		log.Info("page crawled", "page", page, "new_jobs", len(refs))

		if len(refs) == 0 {
			empty++
		} else {
			empty = 0
		}
		for _, ref := range refs {
			if !yield(ref, nil) {
				return false
			}
		}
		if page < c.cfg.PagesPerKeyword {
			if err := c.pace.WaitFor(ctx, pacing.PurposePage); err != nil {
				yield(types.JobReference{}, err)
				return false
			}
		}
	}
	return true
}

// openPage loads results page n. The first page is always navigated; later pages use the
// next-page control when present, else the URL template. ok is false when neither exists.
func (c *Crawler) openPage(ctx context.Context, keyword string, page int) (bool, error) {
	if page > 1 && len(c.cfg.NextPage) > 0 {
		target := locator.Target{Name: "next_page", Candidates: c.cfg.NextPage, Visible: true}
		if c.loc.Present(ctx, target, nil, c.cfg.CardTimeout) {
			err := c.loc.Click(ctx, target, nil)
			if err == nil {
				c.afterLoad(ctx)
				return true, nil
			}
			if ctx.Err() != nil {
				return false, err
			}
			c.logger.Debug("next-page control failed, using search URL", "error", err)
		}
	}
	if page > 1 && !strings.Contains(c.cfg.SearchURL, "{page}") {
		return false, nil
	}

	dest := SearchURL(c.cfg.SearchURL, keyword, c.cfg.Location, page)
	err := retry.Do(ctx, c.cfg.NavigationAttempts, retry.Linear(c.cfg.NavigationBackoff), func(ctx context.Context) error {
		return c.doc.Navigate(ctx, dest)
	})
	if err != nil {
		return false, fmt.Errorf("navigate to %s: %w", dest, err)
	}
	c.afterLoad(ctx)
	return true, nil
}

func (c *Crawler) afterLoad(ctx context.Context) {
	c.update(func(s *Stats) { s.Pages++ })
	if c.BeforeExtract != nil {
		c.BeforeExtract(ctx)
	}
}

// extractPage reads every card on the current page and returns the new references.
// Only a context error is returned; per-card failures skip the card.
func (c *Crawler) extractPage(ctx context.Context, keyword string) ([]types.JobReference, error) {
	cards, _, err := c.loc.LocateAll(ctx, c.cfg.Cards, nil, c.cfg.PageTimeout)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Debug("no job cards found", "keyword", keyword)
		c.metrics.PageCrawled(keyword, 0)
		return nil, nil
	}
	c.metrics.PageCrawled(keyword, len(cards))
	c.update(func(s *Stats) { s.Cards += len(cards) })

	base := c.currentURL(ctx)
	var refs []types.JobReference
	for i, card := range cards {
		ref, err := c.readCard(ctx, card, base)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return refs, ctxErr
			}
			reason := skipReason(err)
			c.logger.Debug("skipping card", "index", i, "reason", reason, "error", err)
			c.metrics.CardSkipped(reason)
			c.update(func(s *Stats) { s.SkippedCards++ })
			continue
		}
		if _, dup := c.seen[ref.ExternalID]; dup {
			c.update(func(s *Stats) { s.Duplicates++ })
			continue
		}
		c.seen[ref.ExternalID] = struct{}{}
		ref.Keyword = keyword
		refs = append(refs, ref)
		c.update(func(s *Stats) { s.Discovered++ })
	}
	return refs, nil
}

// readCard reads the card's HTML once under the per-card budget and parses it offline.
func (c *Crawler) readCard(ctx context.Context, card browser.Element, base *url.URL) (types.JobReference, error) {
	cardCtx, cancel := context.WithTimeout(ctx, c.cfg.CardTimeout)
	defer cancel()

	html, err := card.HTML(cardCtx)
	if err != nil {
		return types.JobReference{}, err
	}
	data, err := parseCard(html, c.cfg.Fields, base)
	if err != nil {
		return types.JobReference{}, err
	}
	id, err := jobid.FromURL(data.Link)
	if err != nil {
		return types.JobReference{}, fmt.Errorf("job id for %q: %w", data.Link, err)
	}
	return types.JobReference{
		ExternalID:   id,
		URL:          data.Link,
		Title:        data.Title,
		Company:      data.Company,
		Location:     data.Location,
		Snippet:      data.Snippet,
		DiscoveredAt: time.Now().UTC(),
	}, nil
}

func (c *Crawler) currentURL(ctx context.Context) *url.URL {
	raw, err := c.doc.CurrentURL(ctx)
	if err != nil {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil
	}
	return u
}

func skipReason(err error) string {
	switch {
	case browser.IsStale(err):
		return metrics.CardStale
	case errors.Is(err, context.DeadlineExceeded):
		return metrics.CardTimeout
	default:
		return metrics.CardInvalid
	}
}

// SearchURL fills the search template. Keyword and location are slugified.
func SearchURL(template, keyword, location string, page int) string {
	r := strings.NewReplacer(
		"{keyword}", slug(keyword),
		"{location}", slug(location),
		"{page}", strconv.Itoa(page),
	)
	return r.Replace(template)
}

func slug(s string) string {
	return url.PathEscape(strings.Join(strings.Fields(strings.ToLower(s)), "-"))
}
