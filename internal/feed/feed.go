// Package feed reads RSS and Atom feeds into candidate entries.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// httpPrefix marks a GUID usable as a link.
const httpPrefix = "http"

const (
	// DefaultLimit is the per-feed entry budget.
	DefaultLimit = 5

	userAgent   = "Mozilla/5.0 (compatible; FilmmakerBot/1.0)"
	maxFeedBody = 10 << 20
)

// Source is a configured feed. Command, when set, exposes the feed as a bot
// shortcut (e.g. "deadline" for /deadline).
type Source struct {
	Name    string `yaml:"name" json:"name"`
	URL     string `yaml:"url" json:"url"`
	Command string `yaml:"command,omitempty" json:"command,omitempty"`
}

// DefaultSources returns the built-in trade feeds.
func DefaultSources() []Source {
	return []Source{
		{Name: "Deadline", URL: "https://deadline.com/feed/", Command: "deadline"},
		{Name: "Variety", URL: "https://variety.com/feed/", Command: "variety"},
		{Name: "THR", URL: "https://www.hollywoodreporter.com/feed/", Command: "thr"},
		{Name: "ScreenDaily", URL: "https://www.screendaily.com/feed"},
		{Name: "IndieWire", URL: "https://www.indiewire.com/feed/"},
	}
}

// Entry is a single feed item with a usable link.
type Entry struct {
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	Link      string    `json:"link"`
	Published time.Time `json:"published,omitzero"`
}

// Reader fetches and parses feeds over HTTP.
type Reader struct {
	client *http.Client
}

// NewReader returns a Reader using client. A nil client gets a 20s timeout.
func NewReader(client *http.Client) *Reader {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Reader{client: client}
}

// Fetch returns up to limit entries of src in document order (feeds list
// newest first).
func (r *Reader) Fetch(ctx context.Context, src Source, limit int) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("feed %s: new request: %w", src.Name, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed %s: fetch: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed %s: unexpected status %d", src.Name, resp.StatusCode)
	}

	entries, err := Parse(io.LimitReader(resp.Body, maxFeedBody), src.Name)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", src.Name, err)
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Collect fetches every source and concatenates their entries. Failing
// feeds are skipped and reported in the joined error.
func (r *Reader) Collect(ctx context.Context, sources []Source, perFeed int) ([]Entry, error) {
	var (
		out  []Entry
		errs []error
	)
	for _, src := range sources {
		entries, err := r.Fetch(ctx, src, perFeed)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, entries...)
	}
	return out, errors.Join(errs...)
}

// Parse decodes an RSS or Atom document. Entries without a usable link are
// skipped.
func Parse(body io.Reader, source string) ([]Entry, error) {
	parsed, err := gofeed.NewParser().Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	entries := make([]Entry, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		link := extractLink(it)
		if link == "" {
			continue
		}
		e := Entry{
			Source: source,
			Title:  strings.TrimSpace(it.Title),
			Link:   link,
		}
		if it.PublishedParsed != nil {
			e.Published = it.PublishedParsed.UTC()
		} else if it.UpdatedParsed != nil {
			e.Published = it.UpdatedParsed.UTC()
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// extractLink prefers the explicit link, falling back to an HTTP GUID.
func extractLink(it *gofeed.Item) string {
	if link := strings.TrimSpace(it.Link); link != "" {
		return link
	}
	if strings.HasPrefix(it.GUID, httpPrefix) {
		return it.GUID
	}
	return ""
}

// Lookup finds the source registered under a bot command.
func Lookup(sources []Source, command string) (Source, bool) {
	for _, s := range sources {
		if s.Command != "" && strings.EqualFold(s.Command, command) {
			return s, true
		}
	}
	return Source{}, false
}
