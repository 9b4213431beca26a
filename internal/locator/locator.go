// Package locator resolves elements from ordered fallback lists of descriptors,
// tolerating elements that are not yet present or that detach mid-search.
package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
)

const (
	// DefaultTimeout is how long each descriptor is polled before moving to the next.
	DefaultTimeout = 5 * time.Second
	// DefaultPollInterval is the sub-interval between polls of one descriptor.
	DefaultPollInterval = 250 * time.Millisecond
	// DefaultMaxStaleRetries bounds re-locations in Use.
	DefaultMaxStaleRetries = 2
)

// Target is a named fallback list. The name keys the selector cache and log lines.
type Target struct {
	Name       string
	Candidates []browser.Descriptor
	// Visible restricts matches to rendered elements.
	Visible bool
	// Exclude drops matches that any of these descriptors also resolve to.
	Exclude []browser.Descriptor
}

// Options configures a Locator
type Options struct {
	Timeout         time.Duration
	PollInterval    time.Duration
	MaxStaleRetries int
	Cache           *Cache
	Logger          *slog.Logger
	// OnMiss is called with the target name whenever every candidate is exhausted.
	OnMiss func(target string)
}

// Locator polls a document for the first matching descriptor of a fallback list
type Locator struct {
	doc  browser.Document
	opts Options
}

// New returns a locator over doc.
func New(doc browser.Document, opts Options) *Locator {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxStaleRetries <= 0 {
		opts.MaxStaleRetries = DefaultMaxStaleRetries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Locator{doc: doc, opts: opts}
}

// Document returns the document the locator searches.
func (l *Locator) Document() browser.Document {
	return l.doc
}

// Timeout returns the default per-descriptor timeout.
func (l *Locator) Timeout() time.Duration {
	return l.opts.Timeout
}

// Locate tries each candidate in order, polling it every PollInterval for up to timeout.
// The first match wins. A candidate that exhausts its timeout is not retried. When all
// candidates are exhausted the error is browser.ErrNotFound, which is a normal outcome.
func (l *Locator) Locate(ctx context.Context, candidates []browser.Descriptor, scope browser.Element, timeout time.Duration) (browser.Element, browser.Descriptor, error) {
	return l.locate(ctx, candidates, scope, timeout, Target{})
}

// LocateVisible is Locate restricted to visible elements.
func (l *Locator) LocateVisible(ctx context.Context, candidates []browser.Descriptor, scope browser.Element, timeout time.Duration) (browser.Element, browser.Descriptor, error) {
	return l.locate(ctx, candidates, scope, timeout, Target{Visible: true})
}

// locate walks candidates with the matching rules (Visible, Exclude) of t.
func (l *Locator) locate(ctx context.Context, candidates []browser.Descriptor, scope browser.Element, timeout time.Duration, t Target) (browser.Element, browser.Descriptor, error) {
	if timeout <= 0 {
		timeout = l.opts.Timeout
	}
	for _, d := range candidates {
		el, err := l.poll(ctx, d, scope, timeout, t)
		if err == nil {
			return el, d, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, browser.Descriptor{}, ctxErr
		}
	}
	return nil, browser.Descriptor{}, browser.ErrNotFound
}

// poll queries one descriptor until it resolves or its timeout passes. At least one query is made.
func (l *Locator) poll(ctx context.Context, d browser.Descriptor, scope browser.Element, timeout time.Duration, t Target) (browser.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		el, err := l.findOnce(ctx, d, scope, t)
		if err == nil {
			return el, nil
		}
		if !browser.IsNotFound(err) && !browser.IsStale(err) {
			l.opts.Logger.Debug("query failed", "descriptor", d.String(), "error", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, browser.ErrNotFound
		}
		wait := min(l.opts.PollInterval, remaining)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Locator) findOnce(ctx context.Context, d browser.Descriptor, scope browser.Element, t Target) (browser.Element, error) {
	if !t.Visible && len(t.Exclude) == 0 {
		return l.doc.Find(ctx, d, scope)
	}
	all, err := l.doc.FindAll(ctx, d, scope)
	if err != nil {
		return nil, err
	}
	var excluded []browser.Element
	if len(all) > 0 {
		for _, x := range t.Exclude {
			if found, err := l.doc.FindAll(ctx, x, scope); err == nil {
				excluded = append(excluded, found...)
			}
		}
	}
	for _, el := range all {
		if slices.ContainsFunc(excluded, func(x browser.Element) bool { return browser.SameElement(el, x) }) {
			continue
		}
		if !t.Visible {
			return el, nil
		}
		ok, err := el.Visible(ctx)
		if err == nil && ok {
			return el, nil
		}
	}
	return nil, browser.ErrNotFound
}

// LocateAll returns the batch matched by the first candidate that yields a non-empty
// result within timeout. Each candidate issues one batch query per poll.
func (l *Locator) LocateAll(ctx context.Context, candidates []browser.Descriptor, scope browser.Element, timeout time.Duration) ([]browser.Element, browser.Descriptor, error) {
	if timeout <= 0 {
		timeout = l.opts.Timeout
	}
	for _, d := range candidates {
		deadline := time.Now().Add(timeout)
		for {
			all, err := l.doc.FindAll(ctx, d, scope)
			if err == nil && len(all) > 0 {
				return all, d, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, browser.Descriptor{}, ctxErr
			}
			remaining := time.Until(deadline)
			if remaining <= 0 {
				break
			}
			timer := time.NewTimer(min(l.opts.PollInterval, remaining))
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, browser.Descriptor{}, ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil, browser.Descriptor{}, browser.ErrNotFound
}

// Find locates a named target with the default timeout, trying the cached descriptor first.
func (l *Locator) Find(ctx context.Context, t Target, scope browser.Element) (browser.Element, error) {
	return l.FindWithin(ctx, t, scope, l.opts.Timeout)
}

// FindWithin is Find with an explicit per-descriptor timeout.
func (l *Locator) FindWithin(ctx context.Context, t Target, scope browser.Element, timeout time.Duration) (browser.Element, error) {
	candidates := t.Candidates
	cached, hasCached := l.opts.Cache.Get(t.Name)
	if hasCached {
		candidates = prepend(cached, candidates)
	}

	el, d, err := l.locate(ctx, candidates, scope, timeout, t)
	if err != nil {
		if hasCached && browser.IsNotFound(err) {
			l.opts.Cache.Forget(t.Name)
		}
		if browser.IsNotFound(err) && l.opts.OnMiss != nil {
			l.opts.OnMiss(t.Name)
		}
		return nil, err
	}
	if !hasCached || d != cached {
		l.opts.Cache.Remember(t.Name, d)
	}
	return el, nil
}

// Candidates returns the fallback list of t with its cached descriptor first.
func (l *Locator) Candidates(t Target) []browser.Descriptor {
	if cached, ok := l.opts.Cache.Get(t.Name); ok {
		return prepend(cached, t.Candidates)
	}
	return t.Candidates
}

// Remember records d as the working descriptor of t.
func (l *Locator) Remember(t Target, d browser.Descriptor) {
	l.opts.Cache.Remember(t.Name, d)
}

// Try polls the single descriptor d under the matching rules of t for up to timeout.
// Callers that act on each descriptor in turn use it with Candidates and Remember.
func (l *Locator) Try(ctx context.Context, t Target, d browser.Descriptor, scope browser.Element, timeout time.Duration) (browser.Element, error) {
	if timeout <= 0 {
		timeout = l.opts.Timeout
	}
	return l.poll(ctx, d, scope, timeout, t)
}

// Scan makes one pass over every candidate of every target, in order, and returns the
// index of the first target that resolves. The matching descriptor is remembered.
func (l *Locator) Scan(ctx context.Context, targets ...Target) (int, browser.Element, error) {
	for i, t := range targets {
		for _, d := range l.Candidates(t) {
			el, err := l.findOnce(ctx, d, nil, t)
			if err == nil {
				l.Remember(t, d)
				return i, el, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return -1, nil, ctxErr
			}
		}
	}
	return -1, nil, browser.ErrNotFound
}

// Race repeats Scan every PollInterval until a target resolves or timeout passes. Unlike
// Find, all candidates share the timeout and a miss is not reported to OnMiss: it is
// used for indicators whose absence is an answer.
func (l *Locator) Race(ctx context.Context, timeout time.Duration, targets ...Target) (int, browser.Element, error) {
	deadline := time.Now().Add(timeout)
	for {
		i, el, err := l.Scan(ctx, targets...)
		if err == nil || !browser.IsNotFound(err) {
			return i, el, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return -1, nil, browser.ErrNotFound
		}
		timer := time.NewTimer(min(l.opts.PollInterval, remaining))
		select {
		case <-ctx.Done():
			timer.Stop()
			return -1, nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Present reports whether the target resolves within timeout. Lookup errors other than
// context cancellation count as absence.
func (l *Locator) Present(ctx context.Context, t Target, scope browser.Element, timeout time.Duration) bool {
	_, err := l.FindWithin(ctx, t, scope, timeout)
	return err == nil
}

// Use locates t and runs fn with the element. When fn fails with a stale reference the
// element is re-located and fn retried, up to MaxStaleRetries times.
func (l *Locator) Use(ctx context.Context, t Target, scope browser.Element, fn func(el browser.Element) error) error {
	for attempt := 0; ; attempt++ {
		el, err := l.Find(ctx, t, scope)
		if err != nil {
			return err
		}
		err = fn(el)
		if err == nil || !browser.IsStale(err) {
			return err
		}
		if attempt >= l.opts.MaxStaleRetries {
			return fmt.Errorf("%s stayed stale after %d re-locations: %w", t.Name, attempt, err)
		}
		l.opts.Logger.Debug("stale element, re-locating", "target", t.Name, "attempt", attempt+1)
	}
}

// Click locates t and clicks it, falling back to script activation when the native click fails.
func (l *Locator) Click(ctx context.Context, t Target, scope browser.Element) error {
	return l.Use(ctx, t, scope, func(el browser.Element) error {
		err := el.Click(ctx)
		if err == nil || browser.IsStale(err) || errors.Is(err, context.Canceled) {
			return err
		}
		l.opts.Logger.Debug("native click failed, activating by script", "target", t.Name, "error", err)
		return el.ActivateScript(ctx)
	})
}

func prepend(d browser.Descriptor, list []browser.Descriptor) []browser.Descriptor {
	out := make([]browser.Descriptor, 0, len(list)+1)
	out = append(out, d)
	for _, c := range list {
		if c != d {
			out = append(out, c)
		}
	}
	return out
}
