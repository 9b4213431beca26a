// Package browsertest provides an in-memory, scriptable browser.Browser for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/jonathan/job-applier/internal/browser"
)

// Page is a document keyed by descriptor value. Handlers may mutate pages freely.
type Page struct {
	URL      string
	Elements map[string][]*Element
}

// NewPage returns an empty page for url.
func NewPage(url string) *Page {
	return &Page{URL: url, Elements: make(map[string][]*Element)}
}

// Add registers elements under the descriptor value and returns the page.
func (p *Page) Add(value string, elements ...*Element) *Page {
	p.Elements[value] = append(p.Elements[value], elements...)
	return p
}

// Set replaces the elements under the descriptor value.
func (p *Page) Set(value string, elements ...*Element) *Page {
	if len(elements) == 0 {
		delete(p.Elements, value)
		return p
	}
	p.Elements[value] = elements
	return p
}

// Element is a fake node. Children are addressed by descriptor value in scoped queries.
type Element struct {
	Name        string // label used in the click log
	TextValue   string
	HTMLValue   string
	Attrs       map[string]string
	Hidden      bool
	Stale       bool
	AppearAfter int // number of Find calls before the element becomes visible to queries
	Options     []string
	Children    map[string][]*Element

	// OnClick runs on native clicks; OnActivate on script activation (defaults to OnClick).
	OnClick    func(b *Browser) error
	OnActivate func(b *Browser) error
	// ClickIntercepted makes native clicks land on an overlay and do nothing.
	ClickIntercepted bool

	Value    string
	Selected string
	Clicks   int

	polls int
}

// Child registers a child element for scoped queries and returns the parent.
func (e *Element) Child(value string, children ...*Element) *Element {
	if e.Children == nil {
		e.Children = make(map[string][]*Element)
	}
	e.Children[value] = append(e.Children[value], children...)
	return e
}

// Browser is the fake. It is safe for use from a single test goroutine plus handlers.
type Browser struct {
	mu sync.Mutex

	Pages map[string]*Page
	// Redirects maps a requested URL to the URL actually loaded.
	Redirects map[string]string
	// OnNavigate, if set, rewrites the destination at navigation time.
	OnNavigate func(url string) string
	// ScriptResult answers ExecuteScript calls.
	ScriptResult func(script string) (any, error)
	// NavigateErr fails navigation to matching URLs.
	NavigateErr map[string]error

	Navigations []string
	ClickLog    []string
	Scripts     []string

	tabs    map[browser.TabID]string
	current browser.TabID
	nextTab int
	closed  bool
}

// New returns a fake browser whose primary tab shows about:blank.
func New() *Browser {
	return &Browser{
		Pages:       make(map[string]*Page),
		Redirects:   make(map[string]string),
		NavigateErr: make(map[string]error),
		tabs:        map[browser.TabID]string{"tab-0": "about:blank"},
		current:     "tab-0",
	}
}

// AddPage registers a page and returns it.
func (b *Browser) AddPage(p *Page) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Pages[p.URL] = p
	return p
}

// Page returns the page registered for url, creating an empty one if needed.
func (b *Browser) Page(url string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageLocked(url)
}

func (b *Browser) pageLocked(url string) *Page {
	p, ok := b.Pages[url]
	if !ok {
		p = NewPage(url)
		b.Pages[url] = p
	}
	return p
}

// Current returns the page shown in the current tab.
func (b *Browser) Current() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pageLocked(b.tabs[b.current])
}

// SetLocation changes the current tab's URL without recording a navigation.
func (b *Browser) SetLocation(url string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tabs[b.current] = url
}

// OpenTabs returns the number of open tabs.
func (b *Browser) OpenTabs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.tabs)
}

// Closed reports whether Close was called.
func (b *Browser) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Browser) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	if err, ok := b.NavigateErr[url]; ok && err != nil {
		b.mu.Unlock()
		return err
	}
	b.Navigations = append(b.Navigations, url)
	dest := url
	if r, ok := b.Redirects[url]; ok {
		dest = r
	}
	hook := b.OnNavigate
	b.mu.Unlock()

	if hook != nil {
		dest = hook(dest)
	}

	b.mu.Lock()
	b.tabs[b.current] = dest
	b.mu.Unlock()
	return nil
}

func (b *Browser) CurrentURL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tabs[b.current], nil
}

func (b *Browser) Find(ctx context.Context, d browser.Descriptor, scope browser.Element) (browser.Element, error) {
	all, err := b.FindAll(ctx, d, scope)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, browser.ErrNotFound
	}
	return all[0], nil
}

func (b *Browser) FindAll(ctx context.Context, d browser.Descriptor, scope browser.Element) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	var candidates []*Element
	if scope != nil {
		parent, ok := scope.(*handle)
		if !ok {
			return nil, fmt.Errorf("scope %T is not a fake element", scope)
		}
		if parent.el.Stale {
			return nil, browser.ErrStaleReference
		}
		candidates = parent.el.Children[d.Value]
	} else {
		candidates = b.pageLocked(b.tabs[b.current]).Elements[d.Value]
	}

	out := make([]browser.Element, 0, len(candidates))
	for _, el := range candidates {
		if el.polls < el.AppearAfter {
			el.polls++
			continue
		}
		out = append(out, &handle{b: b, el: el})
	}
	return out, nil
}

func (b *Browser) ExecuteScript(ctx context.Context, script string, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	b.Scripts = append(b.Scripts, script)
	fn := b.ScriptResult
	b.mu.Unlock()
	if fn == nil {
		return nil
	}
	v, err := fn(script)
	if err != nil || result == nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, result)
}

func (b *Browser) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []byte("\x89PNG fake"), nil
}

func (b *Browser) CurrentTab() browser.TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

func (b *Browser) OpenTab(ctx context.Context, url string) (browser.TabID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	b.mu.Lock()
	b.nextTab++
	id := browser.TabID(fmt.Sprintf("tab-%d", b.nextTab))
	if r, ok := b.Redirects[url]; ok {
		url = r
	}
	b.tabs[id] = url
	b.mu.Unlock()
	return id, nil
}

func (b *Browser) SwitchTab(_ context.Context, id browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.tabs[id]; !ok {
		return fmt.Errorf("unknown tab %s", id)
	}
	b.current = id
	return nil
}

func (b *Browser) CloseTab(_ context.Context, id browser.TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == "tab-0" {
		return fmt.Errorf("cannot close primary tab")
	}
	delete(b.tabs, id)
	if b.current == id {
		b.current = "tab-0"
	}
	return nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// handle is the browser.Element view of a fake Element.
type handle struct {
	b  *Browser
	el *Element
}

// Unwrap returns the fake element behind a browser.Element produced by this package.
func Unwrap(e browser.Element) *Element {
	if h, ok := e.(*handle); ok {
		return h.el
	}
	return nil
}

func (h *handle) SameNode(other browser.Element) bool {
	return h.el == Unwrap(other)
}

func (h *handle) check(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if h.el.Stale {
		return browser.ErrStaleReference
	}
	return nil
}

func (h *handle) Text(ctx context.Context) (string, error) {
	if err := h.check(ctx); err != nil {
		return "", err
	}
	return h.el.TextValue, nil
}

func (h *handle) HTML(ctx context.Context) (string, error) {
	if err := h.check(ctx); err != nil {
		return "", err
	}
	if h.el.HTMLValue != "" {
		return h.el.HTMLValue, nil
	}
	return "<div>" + h.el.TextValue + "</div>", nil
}

func (h *handle) Attribute(ctx context.Context, name string) (string, error) {
	if err := h.check(ctx); err != nil {
		return "", err
	}
	if name == "value" && h.el.Value != "" {
		return h.el.Value, nil
	}
	return h.el.Attrs[name], nil
}

func (h *handle) Visible(ctx context.Context) (bool, error) {
	if err := h.check(ctx); err != nil {
		return false, err
	}
	return !h.el.Hidden, nil
}

func (h *handle) Click(ctx context.Context) error {
	if err := h.check(ctx); err != nil {
		return err
	}
	h.record("click")
	if h.el.ClickIntercepted || h.el.OnClick == nil {
		return nil
	}
	return h.el.OnClick(h.b)
}

func (h *handle) ActivateScript(ctx context.Context) error {
	if err := h.check(ctx); err != nil {
		return err
	}
	h.record("activate")
	fn := h.el.OnActivate
	if fn == nil {
		fn = h.el.OnClick
	}
	if fn == nil {
		return nil
	}
	return fn(h.b)
}

func (h *handle) record(kind string) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	h.el.Clicks++
	name := h.el.Name
	if name == "" {
		name = h.el.TextValue
	}
	h.b.ClickLog = append(h.b.ClickLog, kind+":"+name)
}

func (h *handle) Clear(ctx context.Context) error {
	if err := h.check(ctx); err != nil {
		return err
	}
	h.el.Value = ""
	return nil
}

func (h *handle) Type(ctx context.Context, text string) error {
	if err := h.check(ctx); err != nil {
		return err
	}
	h.el.Value += text
	return nil
}

func (h *handle) Select(ctx context.Context, value string) error {
	if err := h.check(ctx); err != nil {
		return err
	}
	for _, o := range h.el.Options {
		if strings.EqualFold(strings.TrimSpace(o), strings.TrimSpace(value)) {
			h.el.Selected = o
			return nil
		}
	}
	return browser.ErrNotFound
}

var _ browser.Browser = (*Browser)(nil)
