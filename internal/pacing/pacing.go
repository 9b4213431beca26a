// Package pacing produces randomized waits between browser actions. Every wait is
// drawn uniformly from [min+floor, max+floor], where floor is a global rate-limit floor.
package pacing

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
)

// Purpose names the kind of action a wait precedes
type Purpose string

const (
	PurposeNavigation Purpose = "navigation"
	PurposeTyping     Purpose = "typing"
	PurposeSubmission Purpose = "submission"
	PurposeChatbot    Purpose = "chatbot"
	PurposePage       Purpose = "page"
)

// Range is a base wait interval
type Range struct {
	Min time.Duration `json:"min"`
	Max time.Duration `json:"max"`
}

// DefaultRanges returns the base ranges used when none are configured.
func DefaultRanges() map[Purpose]Range {
	return map[Purpose]Range{
		PurposeNavigation: {Min: 2 * time.Second, Max: 4 * time.Second},
		PurposeTyping:     {Min: 50 * time.Millisecond, Max: 150 * time.Millisecond},
		PurposeSubmission: {Min: 1 * time.Second, Max: 3 * time.Second},
		PurposeChatbot:    {Min: 1 * time.Second, Max: 2 * time.Second},
		PurposePage:       {Min: 3 * time.Second, Max: 6 * time.Second},
	}
}

// Sleeper blocks for d or until ctx ends.
type Sleeper func(ctx context.Context, d time.Duration) error

// Policy is the delay policy. The zero value never waits.
type Policy struct {
	Floor  time.Duration
	Ranges map[Purpose]Range

	mu    sync.Mutex
	rng   *rand.Rand
	sleep Sleeper
}

// Option customizes a Policy
type Option func(*Policy)

// WithSeed makes the random draws deterministic.
func WithSeed(seed uint64) Option {
	return func(p *Policy) { p.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)) }
}

// WithSleeper replaces the real sleep, typically in tests.
func WithSleeper(s Sleeper) Option {
	return func(p *Policy) { p.sleep = s }
}

// New returns a policy with the given floor and base ranges; missing purposes use DefaultRanges.
func New(floor time.Duration, ranges map[Purpose]Range, opts ...Option) *Policy {
	merged := DefaultRanges()
	for k, v := range ranges {
		merged[k] = v
	}
	p := &Policy{
		Floor:  floor,
		Ranges: merged,
		rng:    rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Instant returns a policy that never waits.
func Instant() *Policy {
	return New(0, nil, WithSleeper(func(ctx context.Context, _ time.Duration) error { return ctx.Err() }))
}

// Duration draws a wait uniformly from [min+floor, max+floor].
func (p *Policy) Duration(min, max time.Duration) time.Duration {
	if max < min {
		min, max = max, min
	}
	lo, hi := min+p.Floor, max+p.Floor
	if hi <= lo {
		return lo
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rng == nil {
		p.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	return lo + time.Duration(p.rng.Int64N(int64(hi-lo)+1))
}

// Wait blocks for a duration drawn from [min+floor, max+floor]. The purpose is
// informational; the floor applies to every purpose.
func (p *Policy) Wait(ctx context.Context, min, max time.Duration, _ Purpose) error {
	if p == nil {
		return ctx.Err()
	}
	d := p.Duration(min, max)
	if p.sleep == nil {
		return sleepCtx(ctx, d)
	}
	return p.sleep(ctx, d)
}

// WaitFor waits using the purpose's configured base range.
func (p *Policy) WaitFor(ctx context.Context, purpose Purpose) error {
	if p == nil {
		return ctx.Err()
	}
	r := p.Ranges[purpose]
	return p.Wait(ctx, r.Min, r.Max, purpose)
}

// TypeHuman types text into el one character at a time with typing-range pauses.
// The floor is not applied between keystrokes.
func (p *Policy) TypeHuman(ctx context.Context, el browser.Element, text string) error {
	r := Range{}
	if p != nil {
		r = p.Ranges[PurposeTyping]
	}
	for _, ch := range text {
		if err := el.Type(ctx, string(ch)); err != nil {
			return err
		}
		if p == nil || r.Max == 0 {
			continue
		}
		d := p.Duration(r.Min-p.Floor, r.Max-p.Floor)
		sleep := p.sleep
		if sleep == nil {
			sleep = sleepCtx
		}
		if err := sleep(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
