package discovery

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CardFields are CSS selectors evaluated, in order, inside a card's HTML
type CardFields struct {
	Title    []string `json:"title"`
	Company  []string `json:"company"`
	Location []string `json:"location"`
	Link     []string `json:"link"`
	Snippet  []string `json:"snippet"`
}

// DefaultCardFields returns selectors that cover common job-card markup.
func DefaultCardFields() CardFields {
	return CardFields{
		Title:    []string{"a.title", ".title a", "a[title]", "h2 a", ".jobTitle"},
		Company:  []string{".comp-name", ".companyInfo a", ".subTitle", ".company"},
		Location: []string{".locWdth", ".loc", ".location", ".ni-job-tuple-icon-srp-location"},
		Link:     []string{"a.title", ".title a", "h2 a", "a[href]"},
		Snippet:  []string{".job-desc", ".job-description", ".desc"},
	}
}

var (
	errNoTitle = errors.New("card has no title")
	errNoLink  = errors.New("card has no job link")
)

type cardData struct {
	Title    string
	Company  string
	Location string
	Link     string
	Snippet  string
}

// parseCard extracts listing fields from a card's outer HTML. Relative links are
// resolved against base.
func parseCard(html string, fields CardFields, base *url.URL) (cardData, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return cardData{}, fmt.Errorf("failed to parse card HTML: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	var c cardData
	c.Title = firstText(doc.Selection, fields.Title)
	if c.Title == "" {
		if s := firstMatch(doc.Selection, fields.Title); s != nil {
			c.Title, _ = s.Attr("title")
		}
	}
	if c.Title == "" {
		return cardData{}, errNoTitle
	}
	c.Company = firstText(doc.Selection, fields.Company)
	c.Location = firstText(doc.Selection, fields.Location)
	c.Snippet = firstText(doc.Selection, fields.Snippet)
	if c.Snippet == "" {
		c.Snippet = cleanWhitespace(doc.Find("body").Text())
	}

	if s := firstMatch(doc.Selection, fields.Link); s != nil {
		if href, ok := s.Attr("href"); ok {
			c.Link = resolve(base, strings.TrimSpace(href))
		}
	}
	if c.Link == "" {
		return cardData{}, errNoLink
	}
	return c, nil
}

func firstMatch(sel *goquery.Selection, selectors []string) *goquery.Selection {
	for _, s := range selectors {
		if found := sel.Find(s); found.Length() > 0 {
			return found.First()
		}
	}
	return nil
}

func firstText(sel *goquery.Selection, selectors []string) string {
	for _, s := range selectors {
		found := sel.Find(s)
		if found.Length() == 0 {
			continue
		}
		if text := collapse(found.First().Text()); text != "" {
			return text
		}
	}
	return ""
}

func resolve(base *url.URL, href string) string {
	if href == "" || strings.HasPrefix(href, "javascript:") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}

// collapse joins all whitespace runs into single spaces.
func collapse(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// cleanWhitespace trims each line and drops empty ones.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
