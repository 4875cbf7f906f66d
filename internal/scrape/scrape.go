// Package scrape extracts readable text from article and social pages.
package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

const (
	// DefaultTimeout bounds a single page fetch.
	DefaultTimeout = 20 * time.Second

	// MaxTextChars caps extracted article text.
	MaxTextChars = 15000

	userAgent      = "Mozilla/5.0 (compatible; FilmmakerBot/1.0)"
	maxPageBytes   = 5 << 20
	socialName     = "Instagram"
	socialFallback = "Instagram Post"
)

// noise elements removed before paragraph extraction.
const noise = "script, style, nav, header, footer, aside"

// Fetcher implements triage.Scraper over HTTP.
type Fetcher struct {
	client *http.Client
}

// New returns a Fetcher. A nil client gets DefaultTimeout.
func New(client *http.Client) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: DefaultTimeout}
	}
	return &Fetcher{client: client}
}

// Classify derives the source kind and display name from a submitted link.
func Classify(locator string) (triage.SourceKind, string) {
	u, err := url.Parse(locator)
	if err != nil || u.Host == "" {
		return triage.SourceSubmitted, locator
	}
	host := strings.ToLower(u.Hostname())
	if host == "instagram.com" || strings.HasSuffix(host, ".instagram.com") {
		return triage.SourceSocial, socialName
	}
	return triage.SourceSubmitted, strings.TrimPrefix(host, "www.")
}

// Fetch downloads locator and extracts its title and text. Social pages
// yield their caption preview; articles yield their paragraphs, falling back
// to a readability pass when no paragraphs are found.
func (f *Fetcher) Fetch(ctx context.Context, locator string, kind triage.SourceKind) (triage.Page, error) {
	raw, err := f.get(ctx, locator)
	if err != nil {
		if kind == triage.SourceSocial {
			return triage.Page{Title: socialFallback}, err
		}
		return triage.Page{}, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return triage.Page{}, fmt.Errorf("scrape: parse %s: %w", locator, err)
	}

	if kind == triage.SourceSocial {
		return socialPage(doc), nil
	}

	page := triage.Page{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  paragraphs(doc),
	}
	if page.Text == "" {
		title, text := readable(raw, locator)
		page.Text = truncate(text, MaxTextChars)
		if page.Title == "" {
			page.Title = title
		}
	}
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, locator string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("scrape: new request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("scrape: fetch %s: %w", locator, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("scrape: fetch %s: status %d", locator, resp.StatusCode)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("scrape: read %s: %w", locator, err)
	}
	return raw, nil
}

func paragraphs(doc *goquery.Document) string {
	doc.Find(noise).Remove()

	var parts []string
	doc.Find("p").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return truncate(strings.Join(parts, "\n\n"), MaxTextChars)
}

func socialPage(doc *goquery.Document) triage.Page {
	caption, ok := doc.Find(`meta[name="description"]`).First().Attr("content")
	if !ok {
		caption, _ = doc.Find(`meta[property="og:description"]`).First().Attr("content")
	}
	title, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content")
	if !ok || strings.TrimSpace(title) == "" {
		title = socialFallback
	}
	return triage.Page{Title: strings.TrimSpace(title), Text: strings.TrimSpace(caption)}
}

// readable runs the readability extractor; failures yield empty strings.
func readable(raw []byte, locator string) (title, text string) {
	u, err := url.Parse(locator)
	if err != nil {
		return "", ""
	}
	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err != nil {
		return "", ""
	}
	return strings.TrimSpace(article.Title), strings.TrimSpace(article.TextContent)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
