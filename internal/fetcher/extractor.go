package fetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ExtractedContent is the textual reduction of a fetched HTML page.
type ExtractedContent struct {
	Title       string
	Description string
	Body        string
}

// boilerplateSelectors are stripped before text extraction. Best-effort:
// pages that inline navigation into the body keep it.
var boilerplateSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside",
	"[role=navigation]", "[role=banner]", "[role=contentinfo]",
	".cookie-banner", "#cookie-banner",
}

// Extract parses HTML and returns the page's main textual content with
// boilerplate removed.
func Extract(pageURL string, html []byte) (*ExtractedContent, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html %s: %w", pageURL, err)
	}

	out := &ExtractedContent{
		Title:       extractTitle(doc),
		Description: extractDescription(doc),
	}

	for _, sel := range boilerplateSelectors {
		doc.Find(sel).Remove()
	}

	root := doc.Find("main")
	if root.Length() == 0 {
		root = doc.Find("article")
	}
	if root.Length() == 0 {
		root = doc.Find("body")
	}

	out.Body = normalizeWhitespace(root.Text())
	if out.Body == "" && out.Description == "" {
		return nil, fmt.Errorf("no textual content in %s", pageURL)
	}
	if out.Body == "" {
		out.Body = out.Description
	}
	return out, nil
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if og, exists := doc.Find("meta[property='og:title']").Attr("content"); exists {
		return strings.TrimSpace(og)
	}
	return ""
}

func extractDescription(doc *goquery.Document) string {
	if desc, exists := doc.Find("meta[name='description']").Attr("content"); exists {
		return strings.TrimSpace(desc)
	}
	if og, exists := doc.Find("meta[property='og:description']").Attr("content"); exists {
		return strings.TrimSpace(og)
	}
	return ""
}

// normalizeWhitespace collapses runs of whitespace and blank lines so the
// scorer sees dense prose rather than layout artifacts.
func normalizeWhitespace(s string) string {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	return b.String()
}
