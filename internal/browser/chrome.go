package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Options configures the headless Chrome browser
type Options struct {
	Headless     bool
	UserDataDir  string
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	Logger       *slog.Logger
}

// ChromeBrowser implements Browser on top of chromedp. Each tab is its own chromedp
// context; cancelling that context closes the tab.
type ChromeBrowser struct {
	mu          sync.Mutex
	allocCancel context.CancelFunc
	tabs        map[TabID]*chromeTab
	primary     TabID
	current     TabID
	logger      *slog.Logger
}

type chromeTab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// NewChrome launches Chrome/Chromium and opens the primary tab.
// Requires Chrome/Chromium to be installed on the system.
func NewChrome(ctx context.Context, opts Options) (*ChromeBrowser, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(opts.UserDataDir))
	}
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight))
	}

	// The browser outlives run cancellation so an in-flight job can finish; Close ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	id := TabID(chromedp.FromContext(tabCtx).Target.TargetID)
	logger.Debug("browser started", "tab", id, "headless", opts.Headless)

	return &ChromeBrowser{
		allocCancel: allocCancel,
		tabs:        map[TabID]*chromeTab{id: {ctx: tabCtx, cancel: tabCancel}},
		primary:     id,
		current:     id,
		logger:      logger,
	}, nil
}

// run executes actions on the tab, bounded by both the tab's lifetime and the caller's ctx.
func (t *chromeTab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return classify(chromedp.Run(runCtx, actions...))
}

func (b *ChromeBrowser) tab() (*chromeTab, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tabs[b.current]
	if !ok {
		return nil, fmt.Errorf("current tab %s is closed", b.current)
	}
	return t, nil
}

// Navigate loads url in the current tab and waits for the load event.
func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	t, err := b.tab()
	if err != nil {
		return err
	}
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// CurrentURL returns the current tab's location.
func (b *ChromeBrowser) CurrentURL(ctx context.Context) (string, error) {
	t, err := b.tab()
	if err != nil {
		return "", err
	}
	var location string
	if err := t.run(ctx, chromedp.Location(&location)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return location, nil
}

// Find returns the first element matching d.
func (b *ChromeBrowser) Find(ctx context.Context, d Descriptor, scope Element) (Element, error) {
	elements, err := b.FindAll(ctx, d, scope)
	if err != nil {
		return nil, err
	}
	if len(elements) == 0 {
		return nil, ErrNotFound
	}
	return elements[0], nil
}

// FindAll returns every element matching d in a single query.
func (b *ChromeBrowser) FindAll(ctx context.Context, d Descriptor, scope Element) ([]Element, error) {
	t, err := b.tab()
	if err != nil {
		return nil, err
	}
	selector, opts, err := queryFor(d, scope)
	if err != nil {
		return nil, err
	}

	var nodes []*cdp.Node
	if err := t.run(ctx, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s failed: %w", d, err)
	}

	elements := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeType != cdp.NodeTypeElement {
			continue
		}
		elements = append(elements, &chromeElement{tab: t, node: n})
	}
	return elements, nil
}

// queryFor maps a descriptor to a non-waiting chromedp query.
func queryFor(d Descriptor, scope Element) (string, []chromedp.QueryOption, error) {
	opts := []chromedp.QueryOption{chromedp.AtLeast(0)}

	var parent *cdp.Node
	if scope != nil {
		ce, ok := scope.(*chromeElement)
		if !ok {
			return "", nil, fmt.Errorf("scope %T is not a chrome element", scope)
		}
		parent = ce.node
	}

	switch d.Kind {
	case KindXPath:
		expr := d.Value
		if parent != nil {
			rel := strings.TrimPrefix(strings.TrimPrefix(expr, "."), "/")
			expr = parent.FullXPath() + "/" + rel
		}
		return expr, append(opts, chromedp.BySearch), nil
	case KindCSS, "":
		if parent != nil {
			opts = append(opts, chromedp.FromNode(parent))
		}
		return d.Value, append(opts, chromedp.ByQueryAll), nil
	default:
		return "", nil, fmt.Errorf("unknown descriptor kind %q", d.Kind)
	}
}

// ExecuteScript evaluates script in the current tab.
func (b *ChromeBrowser) ExecuteScript(ctx context.Context, script string, result any) error {
	t, err := b.tab()
	if err != nil {
		return err
	}
	if err := t.run(ctx, chromedp.Evaluate(script, result)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Screenshot captures the current viewport as PNG.
func (b *ChromeBrowser) Screenshot(ctx context.Context) ([]byte, error) {
	t, err := b.tab()
	if err != nil {
		return nil, err
	}
	var buf []byte
	if err := t.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// CurrentTab returns the tab that document operations act on.
func (b *ChromeBrowser) CurrentTab() TabID {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}

// OpenTab opens a new tab in the same browser, optionally loading url. The current tab is unchanged.
func (b *ChromeBrowser) OpenTab(ctx context.Context, url string) (TabID, error) {
	b.mu.Lock()
	primary, ok := b.tabs[b.primary]
	b.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("browser is closed")
	}

	tabCtx, cancel := chromedp.NewContext(primary.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return "", fmt.Errorf("failed to create tab: %w", err)
	}
	t := &chromeTab{ctx: tabCtx, cancel: cancel}
	if url != "" {
		if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
			cancel()
			return "", fmt.Errorf("navigation to %s failed: %w", url, err)
		}
	}

	id := TabID(chromedp.FromContext(tabCtx).Target.TargetID)
	b.mu.Lock()
	b.tabs[id] = t
	b.mu.Unlock()
	b.logger.Debug("tab opened", "tab", id, "url", url)
	return id, nil
}

// SwitchTab makes id the current tab and brings it to the foreground.
func (b *ChromeBrowser) SwitchTab(ctx context.Context, id TabID) error {
	b.mu.Lock()
	t, ok := b.tabs[id]
	if ok {
		b.current = id
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown tab %s", id)
	}
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.ActivateTarget(target.ID(id)).Do(ctx)
	}))
}

// CloseTab closes an auxiliary tab. The primary tab can only be closed by Close.
func (b *ChromeBrowser) CloseTab(_ context.Context, id TabID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == b.primary {
		return fmt.Errorf("cannot close primary tab")
	}
	t, ok := b.tabs[id]
	if !ok {
		return nil
	}
	t.cancel()
	delete(b.tabs, id)
	if b.current == id {
		b.current = b.primary
	}
	b.logger.Debug("tab closed", "tab", id)
	return nil
}

// Close closes every tab and terminates the browser process.
func (b *ChromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, t := range b.tabs {
		if id != b.primary {
			t.cancel()
		}
	}
	if t, ok := b.tabs[b.primary]; ok {
		t.cancel()
	}
	b.tabs = map[TabID]*chromeTab{}
	if b.allocCancel != nil {
		b.allocCancel()
		b.allocCancel = nil
	}
	return nil
}

// staleMessages are devtools protocol errors raised for detached nodes.
var staleMessages = []string{
	"Could not find node with given id",
	"No node with given id",
	"Node is detached",
	"Cannot find context with specified id",
	"Node does not have a layout object",
}

// classify maps devtools errors for detached nodes to ErrStaleReference.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, s := range staleMessages {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", ErrStaleReference, err)
		}
	}
	return err
}
