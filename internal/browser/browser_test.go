package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/job-applier/internal/browser"
	"github.com/jonathan/job-applier/internal/browser/browsertest"
)

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		input string
		want  browser.Descriptor
	}{
		{"button.apply", browser.CSS("button.apply")},
		{"css:#login", browser.CSS("#login")},
		{"xpath://button[1]", browser.XPath("//button[1]")},
		{"//div[@id='x']", browser.XPath("//div[@id='x']")},
		{"(//a)[2]", browser.XPath("(//a)[2]")},
		{"  input[name=q] ", browser.CSS("input[name=q]")},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, browser.ParseDescriptor(tt.input))
		})
	}
}

func TestParseDescriptors_DropsBlanks(t *testing.T) {
	got := browser.ParseDescriptors([]string{"a", "", "  ", "//b"})
	assert.Equal(t, []browser.Descriptor{browser.CSS("a"), browser.XPath("//b")}, got)
}

func TestTextContains(t *testing.T) {
	assert.Equal(t, "//button[contains(normalize-space(.), 'Apply')]", browser.TextContains("button", "Apply").Value)
	assert.Equal(t, `//*[contains(normalize-space(.), "Don't")]`, browser.TextContains("", "Don't").Value)
	assert.Equal(t,
		`//span[contains(normalize-space(.), concat('a', "'", 'b"c'))]`,
		browser.TextContains("span", `a'b"c`).Value)
}

func TestWithTab_RestoresPrimaryOnSuccess(t *testing.T) {
	b := browsertest.New()
	ctx := context.Background()
	primary := b.CurrentTab()

	var seen string
	err := browser.WithTab(ctx, b, "https://example.com/external", func(ctx context.Context) error {
		var err error
		seen, err = b.CurrentURL(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/external", seen)
	assert.Equal(t, primary, b.CurrentTab())
	assert.Equal(t, 1, b.OpenTabs())
}

func TestWithTab_RestoresPrimaryOnError(t *testing.T) {
	b := browsertest.New()
	primary := b.CurrentTab()
	boom := errors.New("boom")

	err := browser.WithTab(context.Background(), b, "https://example.com", func(context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, primary, b.CurrentTab())
	assert.Equal(t, 1, b.OpenTabs())
}

func TestWithTab_RestoresPrimaryOnPanic(t *testing.T) {
	b := browsertest.New()
	primary := b.CurrentTab()

	assert.Panics(t, func() {
		_ = browser.WithTab(context.Background(), b, "https://example.com", func(context.Context) error {
			panic("driver exploded")
		})
	})
	assert.Equal(t, primary, b.CurrentTab())
	assert.Equal(t, 1, b.OpenTabs())
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, browser.IsNotFound(browser.ErrNotFound))
	assert.True(t, browser.IsStale(errors.Join(errors.New("x"), browser.ErrStaleReference)))
	assert.False(t, browser.IsStale(browser.ErrNotFound))
}

func TestSameElement(t *testing.T) {
	b := browsertest.New()
	button := &browsertest.Element{Name: "company-site"}
	b.Current().
		Add("#company-site-button", button).
		Add("//button", button, &browsertest.Element{Name: "save"})
	ctx := context.Background()

	byID, err := b.Find(ctx, browser.CSS("#company-site-button"), nil)
	require.NoError(t, err)
	byText, err := b.FindAll(ctx, browser.XPath("//button"), nil)
	require.NoError(t, err)
	require.Len(t, byText, 2)

	assert.True(t, browser.SameElement(byID, byText[0]))
	assert.False(t, browser.SameElement(byID, byText[1]))
	assert.False(t, browser.SameElement(byID, nil))
}
