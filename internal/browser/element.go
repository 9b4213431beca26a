package browser

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

const (
	jsText = `function() { return (this.innerText || this.textContent || "").trim(); }`
	jsHTML = `function() { return this.outerHTML; }`
	jsAttr = `function(name) { const v = this.getAttribute(name); return v === null ? "" : v; }`

	jsVisible = `function() {
		const r = this.getBoundingClientRect();
		const s = window.getComputedStyle(this);
		return r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.display !== "none";
	}`

	jsActivate = `function() { this.scrollIntoView({block: "center"}); this.click(); }`

	jsClear = `function() {
		this.focus();
		if ("value" in this) { this.value = ""; } else { this.textContent = ""; }
		this.dispatchEvent(new Event("input", {bubbles: true}));
	}`

	jsSelect = `function(v) {
		for (const o of this.options || []) {
			if (o.value === v || o.text.trim() === v) {
				this.value = o.value;
				this.dispatchEvent(new Event("change", {bubbles: true}));
				return true;
			}
		}
		return false;
	}`
)

type chromeElement struct {
	tab  *chromeTab
	node *cdp.Node
}

func (e *chromeElement) call(ctx context.Context, fn string, res any, args ...any) error {
	return e.tab.run(ctx, callOnNode(e.node, fn, res, args...))
}

// callOnNode resolves node to a remote object and calls fn with it bound as this.
func callOnNode(node *cdp.Node, fn string, res any, args ...any) chromedp.ActionFunc {
	return func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(node.BackendNodeID).Do(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = runtime.ReleaseObject(obj.ObjectID).Do(ctx) }()

		return chromedp.CallFunctionOn(fn, res, func(p *runtime.CallFunctionOnParams) *runtime.CallFunctionOnParams {
			return p.WithObjectID(obj.ObjectID)
		}, args...).Do(ctx)
	}
}

func (e *chromeElement) SameNode(other Element) bool {
	o, ok := other.(*chromeElement)
	return ok && e.node.BackendNodeID != 0 && e.node.BackendNodeID == o.node.BackendNodeID
}

func (e *chromeElement) Text(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, jsText, &s)
	return s, err
}

func (e *chromeElement) HTML(ctx context.Context) (string, error) {
	var s string
	err := e.call(ctx, jsHTML, &s)
	return s, err
}

func (e *chromeElement) Attribute(ctx context.Context, name string) (string, error) {
	var s string
	err := e.call(ctx, jsAttr, &s, name)
	return s, err
}

func (e *chromeElement) Visible(ctx context.Context) (bool, error) {
	var ok bool
	err := e.call(ctx, jsVisible, &ok)
	return ok, err
}

func (e *chromeElement) Click(ctx context.Context) error {
	return e.tab.run(ctx, chromedp.MouseClickNode(e.node))
}

func (e *chromeElement) ActivateScript(ctx context.Context) error {
	return e.call(ctx, jsActivate, nil)
}

func (e *chromeElement) Clear(ctx context.Context) error {
	return e.call(ctx, jsClear, nil)
}

func (e *chromeElement) Type(ctx context.Context, text string) error {
	return e.tab.run(ctx, chromedp.KeyEventNode(e.node, text))
}

func (e *chromeElement) Select(ctx context.Context, value string) error {
	var ok bool
	if err := e.call(ctx, jsSelect, &ok, value); err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}
