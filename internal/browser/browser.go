// Package browser defines the narrow document capability the engine drives and a
// headless Chrome implementation of it.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a descriptor resolves to no element. It is a normal outcome.
var ErrNotFound = errors.New("element not found")

// ErrStaleReference is returned when a previously resolved element has been detached
// from the document. Callers must re-locate instead of reusing the element.
var ErrStaleReference = errors.New("stale element reference")

// Kind selects the query language of a Descriptor
type Kind string

const (
	KindCSS   Kind = "css"
	KindXPath Kind = "xpath"
)

// Descriptor identifies an element in a document
type Descriptor struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

// CSS returns a CSS selector descriptor.
func CSS(selector string) Descriptor {
	return Descriptor{Kind: KindCSS, Value: selector}
}

// XPath returns an XPath descriptor.
func XPath(expr string) Descriptor {
	return Descriptor{Kind: KindXPath, Value: expr}
}

// TextContains returns an XPath descriptor matching tag elements whose normalized text contains text.
func TextContains(tag, text string) Descriptor {
	if tag == "" {
		tag = "*"
	}
	return XPath(fmt.Sprintf("//%s[contains(normalize-space(.), %s)]", tag, xpathLiteral(text)))
}

func (d Descriptor) String() string {
	return string(d.Kind) + ":" + d.Value
}

// IsZero reports whether the descriptor is empty.
func (d Descriptor) IsZero() bool {
	return d.Value == ""
}

// ParseDescriptor parses the "kind:value" form used in configuration. A value without a
// known prefix is a CSS selector, and one starting with "/" or "(" is XPath.
func ParseDescriptor(s string) Descriptor {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "css:"):
		return CSS(strings.TrimPrefix(s, "css:"))
	case strings.HasPrefix(s, "xpath:"):
		return XPath(strings.TrimPrefix(s, "xpath:"))
	case strings.HasPrefix(s, "/"), strings.HasPrefix(s, "("):
		return XPath(s)
	default:
		return CSS(s)
	}
}

// ParseDescriptors parses each entry with ParseDescriptor, dropping blanks.
func ParseDescriptors(values []string) []Descriptor {
	out := make([]Descriptor, 0, len(values))
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, ParseDescriptor(v))
	}
	return out
}

// xpathLiteral quotes s for use inside an XPath expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, "'") {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, "'")
	return "concat('" + strings.Join(parts, `', "'", '`) + "')"
}

// Element is a resolved node in the live document. Any method may fail with
// ErrStaleReference once the node is detached.
type Element interface {
	Text(ctx context.Context) (string, error)
	HTML(ctx context.Context) (string, error)
	// Attribute returns the attribute value, or "" when absent.
	Attribute(ctx context.Context, name string) (string, error)
	Visible(ctx context.Context) (bool, error)
	// Click dispatches a native pointer click at the element's center.
	Click(ctx context.Context) error
	// ActivateScript invokes the element's click() from script, bypassing pointer interception.
	ActivateScript(ctx context.Context) error
	Clear(ctx context.Context) error
	Type(ctx context.Context, text string) error
	// Select chooses the option whose value or label equals value.
	Select(ctx context.Context, value string) error
}

// SameElement reports whether a and b resolve to the same node. Implementations that
// hand out a fresh Element per query expose SameNode so the comparison sees through it.
func SameElement(a, b Element) bool {
	if a == nil || b == nil {
		return false
	}
	if n, ok := a.(interface{ SameNode(Element) bool }); ok {
		return n.SameNode(b)
	}
	return a == b
}

// Document is the page-level capability. A nil scope searches the whole document.
// Find and FindAll never wait; polling is the caller's concern.
type Document interface {
	Navigate(ctx context.Context, url string) error
	CurrentURL(ctx context.Context) (string, error)
	Find(ctx context.Context, d Descriptor, scope Element) (Element, error)
	FindAll(ctx context.Context, d Descriptor, scope Element) ([]Element, error)
	// ExecuteScript evaluates script in the page and decodes its result into result when non-nil.
	ExecuteScript(ctx context.Context, script string, result any) error
	Screenshot(ctx context.Context) ([]byte, error)
}

// TabID identifies a browsing context
type TabID string

// Browser is a Document with tab lifecycle primitives. The engine drives it from a
// single goroutine; implementations are not required to support concurrent callers.
type Browser interface {
	Document
	CurrentTab() TabID
	OpenTab(ctx context.Context, url string) (TabID, error)
	SwitchTab(ctx context.Context, id TabID) error
	CloseTab(ctx context.Context, id TabID) error
	Close() error
}

// WithTab opens url in an auxiliary tab, makes it current and runs fn. On every exit path,
// panics included, the auxiliary tab is closed and the previously current tab restored.
func WithTab(ctx context.Context, b Browser, url string, fn func(ctx context.Context) error) (err error) {
	primary := b.CurrentTab()
	id, err := b.OpenTab(ctx, url)
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		closeErr := b.CloseTab(cleanupCtx, id)
		switchErr := b.SwitchTab(cleanupCtx, primary)
		if err == nil {
			err = errors.Join(closeErr, switchErr)
		}
	}()

	if err := b.SwitchTab(ctx, id); err != nil {
		return fmt.Errorf("failed to switch to tab: %w", err)
	}
	return fn(ctx)
}

// IsNotFound reports whether err means the element was absent.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStale reports whether err means the element was detached.
func IsStale(err error) bool {
	return errors.Is(err, ErrStaleReference)
}
