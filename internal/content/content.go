// Package content turns fetched HTML into model-ready text and bounds the text sent per request.
package content

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/clinic-scraper/internal/crawler"
)

// TruncationMarker is appended to pages cut at the per-page limit.
const TruncationMarker = "\n...[content truncated]"

// noiseSelector lists elements that never carry readable business information.
const noiseSelector = "script, style, noscript, svg, iframe, template, canvas, link, meta"

var (
	blankLines    = regexp.MustCompile(`\n{3,}`)
	trailingSpace = regexp.MustCompile(`[ \t]+\n`)
)

// Limits bounds the assembled prompt text, in characters.
type Limits struct {
	MaxPageChars  int
	MaxTotalChars int
}

// DefaultLimits matches the budget the extraction model is sized for.
func DefaultLimits() Limits {
	return Limits{MaxPageChars: 50000, MaxTotalChars: 500000}
}

// ToText strips non-content elements from html and renders the rest as markdown.
// Links are resolved against pageURL.
func ToText(pageURL, html string) (string, string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelector).Remove()

	root := doc.Find("body").First()
	if root.Length() == 0 {
		root = doc.Selection
	}
	body, err := root.Html()
	if err != nil {
		return "", "", fmt.Errorf("render html: %w", err)
	}

	converter := md.NewConverter(baseDomain(pageURL), true, nil)
	markdown, err := converter.ConvertString(body)
	if err != nil {
		return "", "", fmt.Errorf("convert markdown: %w", err)
	}
	return title, collapse(markdown), nil
}

// Assemble frames each non-blank page and concatenates them until the total budget is reached.
// Pages are never split across the total budget: a page that does not fit ends the assembly.
// A page whose ContentHash repeats an earlier page's is skipped.
func Assemble(pages []crawler.Page, limits Limits) string {
	if limits.MaxPageChars <= 0 || limits.MaxTotalChars <= 0 {
		limits = DefaultLimits()
	}
	var (
		sb    strings.Builder
		total int
		seen  = make(map[string]struct{}, len(pages))
	)
	for _, page := range pages {
		text := page.Text
		if strings.TrimSpace(text) == "" {
			continue
		}
		if page.ContentHash != "" {
			if _, dup := seen[page.ContentHash]; dup {
				continue
			}
			seen[page.ContentHash] = struct{}{}
		}
		if utf8.RuneCountInString(text) > limits.MaxPageChars {
			text = TruncateRunes(text, limits.MaxPageChars) + TruncationMarker
		}
		framed := fmt.Sprintf("--- PAGE: %s ---\n%s\n\n", pageLabel(page), text)
		size := utf8.RuneCountInString(framed)
		if total+size > limits.MaxTotalChars {
			break
		}
		sb.WriteString(framed)
		total += size
	}
	return sb.String()
}

func pageLabel(page crawler.Page) string {
	if page.FinalURL != "" {
		return page.FinalURL
	}
	if page.URL != "" {
		return page.URL
	}
	return "Unknown URL"
}

// TruncateRunes returns the first n runes of s. A non-positive n leaves s unchanged.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// baseDomain returns the host html-to-markdown prefixes onto relative links.
func baseDomain(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Host
}

func collapse(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = blankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
