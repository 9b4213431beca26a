package chatbot

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/locator"
	"github.com/jonathan/job-applier/internal/pacing"
	"github.com/jonathan/job-applier/internal/session"
)

const (
	DefaultMaxDuration   = 30 * time.Second
	DefaultDetectTimeout = 3 * time.Second
	DefaultProbeTimeout  = 500 * time.Millisecond
	DefaultMaxQuestions  = 25

	// maxRepeats stops the loop when the same question keeps coming back unanswered.
	maxRepeats = 2
	// maxStale bounds consecutive re-locations of a detached question element.
	maxStale = 3
)

// Selectors are the descriptor lists for each chatbot control. All are page-level.
type Selectors struct {
	Container []browser.Descriptor `json:"container"`
	Question  []browser.Descriptor `json:"question"`
	TextInput []browser.Descriptor `json:"text_input"`
	Select    []browser.Descriptor `json:"select"`
	Option    []browser.Descriptor `json:"option"` // radio buttons and chips
	Checkbox  []browser.Descriptor `json:"checkbox"`
	Send      []browser.Descriptor `json:"send"`
}

// DefaultSelectors returns descriptors matching the common chatbot drawer markup.
func DefaultSelectors() Selectors {
	return Selectors{
		Container: []browser.Descriptor{
			browser.CSS("div[class*='chatbot']"),
		},
		Question: []browser.Descriptor{
			browser.CSS("div[class*='chatbot'] li[class*='botItem'] div[class*='botMsg']"),
			browser.CSS("div[class*='chatbot'] div[class*='question']"),
		},
		TextInput: []browser.Descriptor{
			browser.CSS("div[class*='chatbot'] div[contenteditable='true']"),
			browser.CSS("div[class*='chatbot'] textarea"),
			browser.CSS("div[class*='chatbot'] input[type='text'], div[class*='chatbot'] input[type='number']"),
		},
		Select: []browser.Descriptor{
			browser.CSS("div[class*='chatbot'] select"),
		},
		Option: []browser.Descriptor{
			browser.CSS("div[class*='chatbot'] div[class*='chatbot_Chip']"),
			browser.CSS("div[class*='chatbot'] label[for]"),
		},
		Checkbox: []browser.Descriptor{
			browser.CSS("div[class*='chatbot'] input[type='checkbox']"),
		},
		Send: []browser.Descriptor{
			browser.CSS("div[class*='chatbot'] div[class*='sendMsg']"),
			browser.TextContains("button", "Save"),
			browser.TextContains("button", "Next"),
			browser.CSS("div[class*='chatbot'] button[type='submit']"),
		},
	}
}

// HandlerConfig bounds a chatbot session
type HandlerConfig struct {
	Selectors     Selectors
	MaxDuration   time.Duration
	DetectTimeout time.Duration
	// ProbeTimeout is how long each input kind is looked for before trying the next.
	ProbeTimeout time.Duration
	MaxQuestions int
}

func (c *HandlerConfig) applyDefaults() {
	if len(c.Selectors.Container) == 0 {
		c.Selectors = DefaultSelectors()
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
	if c.DetectTimeout <= 0 {
		c.DetectTimeout = DefaultDetectTimeout
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = DefaultMaxQuestions
	}
}

// QuestionLog records every question answered. session.Store satisfies it.
type QuestionLog interface {
	RecordQuestion(ctx context.Context, q session.Question) error
}

// Exchange is one answered question
type Exchange struct {
	Question string
	Answer   string
	Source   Source
	Input    string
}

// Result summarizes a chatbot session.
type Result struct {
	Detected  bool
	Exchanges []Exchange
	// TimedOut is set when the wall-clock cap ended the session.
	TimedOut bool
}

// Answered returns the number of questions answered.
func (r Result) Answered() int {
	return len(r.Exchanges)
}

// Handler drives one chatbot session per call to Run
type Handler struct {
	loc      *locator.Locator
	pace     *pacing.Policy
	answerer *Answerer
	log      QuestionLog
	cfg      HandlerConfig
	logger   *slog.Logger
}

// NewHandler creates a handler. log may be nil.
func NewHandler(loc *locator.Locator, pace *pacing.Policy, answerer *Answerer, log QuestionLog, cfg HandlerConfig, logger *slog.Logger) *Handler {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		loc:      loc,
		pace:     pace,
		answerer: answerer,
		log:      log,
		cfg:      cfg,
		logger:   logger,
	}
}

func (h *Handler) target(name string, candidates []browser.Descriptor) locator.Target {
	return locator.Target{Name: "chatbot_" + name, Candidates: candidates, Visible: true}
}

// Run answers questions while one is showing, for at most limit (MaxDuration when zero).
// An absent chatbot is a normal result with Detected false. The only errors returned
// are those of ctx; the wall-clock cap is reported through Result.TimedOut.
func (h *Handler) Run(ctx context.Context, limit time.Duration) (Result, error) {
	var res Result
	if limit <= 0 {
		limit = h.cfg.MaxDuration
	}

	if !h.loc.Present(ctx, h.target("container", h.cfg.Selectors.Container), nil, h.cfg.DetectTimeout) {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		h.logger.Debug("no chatbot shown")
		return res, nil
	}
	res.Detected = true
	h.logger.Info("chatbot detected")

	runCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()

	var last string
	repeats, stale := 0, 0
	for len(res.Exchanges) < h.cfg.MaxQuestions {
		if err := runCtx.Err(); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			res.TimedOut = true
			break
		}

		question, err := h.latestQuestion(runCtx)
		if err != nil {
			if runCtx.Err() != nil {
				continue
			}
			if browser.IsStale(err) && stale < maxStale {
				stale++
				continue
			}
			break
		}
		stale = 0

		if question == last {
			repeats++
			if repeats >= maxRepeats {
				h.logger.Debug("question did not advance, leaving chatbot", "question", question)
				break
			}
		} else {
			repeats = 0
		}
		last = question

		answer, source := h.answerer.Answer(runCtx, question)
		input, err := h.fill(runCtx, answer)
		if err != nil {
			if runCtx.Err() != nil {
				continue
			}
			h.logger.Debug("no input accepted the answer", "question", question, "error", err)
			break
		}
		h.logger.Info("answered chatbot question", "question", question, "answer", answer, "source", source)
		res.Exchanges = append(res.Exchanges, Exchange{Question: question, Answer: answer, Source: source, Input: input})
		h.record(ctx, question, answer, source)

		if err := h.pace.WaitFor(runCtx, pacing.PurposeChatbot); err != nil {
			continue
		}
	}

	h.logger.Info("chatbot finished", "answered", len(res.Exchanges), "timed_out", res.TimedOut)
	return res, nil
}

// latestQuestion returns the text of the last visible question bubble.
func (h *Handler) latestQuestion(ctx context.Context) (string, error) {
	els, _, err := h.loc.LocateAll(ctx, h.cfg.Selectors.Question, nil, h.cfg.ProbeTimeout)
	if err != nil {
		return "", err
	}
	for i := len(els) - 1; i >= 0; i-- {
		visible, err := els[i].Visible(ctx)
		if err != nil {
			return "", err
		}
		if !visible {
			continue
		}
		text, err := els[i].Text(ctx)
		if err != nil {
			return "", err
		}
		if text = strings.Join(strings.Fields(text), " "); text != "" {
			return text, nil
		}
	}
	return "", browser.ErrNotFound
}

var errNoInput = errors.New("no answer input found")

// fill enters answer into the first input kind present and sends it. It returns the kind used.
func (h *Handler) fill(ctx context.Context, answer string) (string, error) {
	s := h.cfg.Selectors
	kinds := []struct {
		name  string
		cands []browser.Descriptor
		fn    func(ctx context.Context, t locator.Target, answer string) error
	}{
		{"text", s.TextInput, h.fillText},
		{"select", s.Select, h.fillSelect},
		{"option", s.Option, h.fillOption},
		{"checkbox", s.Checkbox, h.fillCheckbox},
	}
	for _, k := range kinds {
		if len(k.cands) == 0 {
			continue
		}
		t := h.target(k.name, k.cands)
		if !h.loc.Present(ctx, t, nil, h.cfg.ProbeTimeout) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			continue
		}
		if err := k.fn(ctx, t, answer); err != nil {
			return "", err
		}
		return k.name, h.send(ctx, k.name)
	}
	return "", errNoInput
}

func (h *Handler) fillText(ctx context.Context, t locator.Target, answer string) error {
	return h.loc.Use(ctx, t, nil, func(el browser.Element) error {
		if err := el.Clear(ctx); err != nil {
			return err
		}
		return h.pace.TypeHuman(ctx, el, answer)
	})
}

func (h *Handler) fillSelect(ctx context.Context, t locator.Target, answer string) error {
	return h.loc.Use(ctx, t, nil, func(el browser.Element) error {
		err := el.Select(ctx, answer)
		if err == nil || !browser.IsNotFound(err) {
			return err
		}
		// No option matches the answer; take the first real option.
		opts, err := h.loc.Document().FindAll(ctx, browser.CSS("option"), el)
		if err != nil {
			return err
		}
		for _, o := range opts {
			text, err := o.Text(ctx)
			if err != nil {
				return err
			}
			text = strings.TrimSpace(text)
			if text == "" || isPlaceholder(text) {
				continue
			}
			return el.Select(ctx, text)
		}
		return browser.ErrNotFound
	})
}

// fillOption clicks the option whose label matches answer, or the first option.
func (h *Handler) fillOption(ctx context.Context, t locator.Target, answer string) error {
	els, _, err := h.loc.LocateAll(ctx, t.Candidates, nil, h.cfg.ProbeTimeout)
	if err != nil {
		return err
	}
	want := strings.ToLower(strings.TrimSpace(answer))
	var first browser.Element
	for _, el := range els {
		visible, err := el.Visible(ctx)
		if err != nil || !visible {
			continue
		}
		if first == nil {
			first = el
		}
		label, err := el.Text(ctx)
		if err != nil {
			continue
		}
		label = strings.ToLower(strings.TrimSpace(label))
		if label != "" && (label == want || strings.Contains(label, want) || strings.Contains(want, label)) {
			return clickOrActivate(ctx, el)
		}
	}
	if first == nil {
		return browser.ErrNotFound
	}
	return clickOrActivate(ctx, first)
}

func (h *Handler) fillCheckbox(ctx context.Context, t locator.Target, answer string) error {
	if !isAffirmative(answer) {
		return nil
	}
	return h.loc.Click(ctx, t, nil)
}

// send clicks the send control. Chips often submit on click, so a missing send control
// after an option is not an error.
func (h *Handler) send(ctx context.Context, kind string) error {
	t := h.target("send", h.cfg.Selectors.Send)
	if !h.loc.Present(ctx, t, nil, h.cfg.ProbeTimeout) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if kind == "option" {
			return nil
		}
		return errors.New("send control not found")
	}
	return h.loc.Click(ctx, t, nil)
}

func (h *Handler) record(ctx context.Context, question, answer string, source Source) {
	if h.log == nil {
		return
	}
	q := session.Question{
		Text:     question,
		Answer:   answer,
		Source:   string(source),
		Seen:     1,
		LastSeen: time.Now().UTC(),
	}
	if err := h.log.RecordQuestion(context.WithoutCancel(ctx), q); err != nil {
		h.logger.Warn("failed to record chatbot question", "error", err)
	}
}

func clickOrActivate(ctx context.Context, el browser.Element) error {
	err := el.Click(ctx)
	if err == nil || browser.IsStale(err) || ctx.Err() != nil {
		return err
	}
	return el.ActivateScript(ctx)
}

func isPlaceholder(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "select") || strings.HasPrefix(l, "choose") || l == "--"
}

func isAffirmative(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "y", "true", "1":
		return true
	}
	return false
}
