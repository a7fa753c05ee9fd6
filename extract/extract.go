// Package extract pulls chapter lists, titles and chapter text out of HTML
// using the CSS selectors of a site configuration.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/pevans/novelfetch/title"
)

// ErrNoContent is returned when a chapter page has no content element.
var ErrNoContent = errors.New("no content element found")

// Selectors are the CSS selectors used to read a site's pages.
type Selectors struct {
	NovelTitle     string
	ChapterList    string
	ChapterTitle   string
	ChapterContent string
}

// Entry is one chapter link of a table of contents.
type Entry struct {
	Title string
	URL   string
}

// Extractor reads pages with a fixed set of selectors. Relative chapter URLs
// are resolved against BaseURL, or against the page URL when BaseURL is
// empty.
type Extractor struct {
	selectors Selectors
	baseURL   string
}

// New creates an extractor.
func New(selectors Selectors, baseURL string) *Extractor {
	return &Extractor{selectors: selectors, baseURL: baseURL}
}

// Parse parses an HTML document or fragment.
func Parse(page string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return doc, nil
}

// NovelTitle returns the novel title of a table of contents page, or "" when
// the selector is unset or matches nothing.
func (e *Extractor) NovelTitle(doc *goquery.Document) string {
	if e.selectors.NovelTitle == "" {
		return ""
	}
	return title.CollapseSpace(doc.Find(e.selectors.NovelTitle).First().Text())
}

// ChapterEntries returns the chapter links of a document in page order.
// Links without text or href are skipped.
func (e *Extractor) ChapterEntries(doc *goquery.Document, pageURL string) []Entry {
	if e.selectors.ChapterList == "" {
		return nil
	}

	base := e.baseURL
	if base == "" {
		base = pageURL
	}

	var entries []Entry
	doc.Find(e.selectors.ChapterList).Each(func(i int, s *goquery.Selection) {
		text := title.CollapseSpace(s.Text())
		href, ok := s.Attr("href")
		if text == "" || !ok || strings.TrimSpace(href) == "" {
			return
		}
		entries = append(entries, Entry{Title: text, URL: Resolve(base, href)})
	})
	return entries
}

// Count returns how many elements a selector matches inside the first
// element matched by parent. It returns -1 when parent matches nothing.
func Count(doc *goquery.Document, parent, child string) int {
	sel := doc.Find(parent).First()
	if sel.Length() == 0 {
		return -1
	}
	return sel.Find(child).Length()
}

// Chapter returns the page title and the text of the content element of a
// chapter page. Text is gathered paragraph by paragraph: every non-empty
// text node, whitespace collapsed, joined by blank lines.
func (e *Extractor) Chapter(doc *goquery.Document) (string, string, error) {
	var pageTitle string
	if e.selectors.ChapterTitle != "" {
		pageTitle = title.CollapseSpace(doc.Find(e.selectors.ChapterTitle).First().Text())
	}

	if e.selectors.ChapterContent == "" {
		return pageTitle, "", fmt.Errorf("%w: no chapter_content_selector configured", ErrNoContent)
	}

	content := doc.Find(e.selectors.ChapterContent).First()
	if content.Length() == 0 {
		return pageTitle, "", fmt.Errorf("%w: selector %q", ErrNoContent, e.selectors.ChapterContent)
	}

	var paragraphs []string
	for _, n := range content.Nodes {
		paragraphs = appendText(paragraphs, n)
	}
	return pageTitle, strings.Join(paragraphs, "\n\n"), nil
}

// appendText walks n depth-first and appends its non-empty text nodes.
// Script and style contents are skipped.
func appendText(out []string, n *html.Node) []string {
	switch n.Type {
	case html.TextNode:
		if text := title.CollapseSpace(n.Data); text != "" {
			out = append(out, text)
		}
		return out
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" {
			return out
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out = appendText(out, c)
	}
	return out
}

// Resolve resolves href against base. Unparsable input is returned as is.
func Resolve(base, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil || base == "" {
		return ref.String()
	}
	return baseURL.ResolveReference(ref).String()
}
