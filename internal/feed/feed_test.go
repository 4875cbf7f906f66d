package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const rssBody = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Deadline</title>
<item><title>First story</title><link>https://deadline.com/1</link><pubDate>Tue, 10 Mar 2026 09:00:00 GMT</pubDate></item>
<item><title>GUID only</title><guid>https://deadline.com/2</guid></item>
<item><title>No link</title><guid>tag:deadline,2026:3</guid></item>
<item><title>  Third story  </title><link>https://deadline.com/3</link></item>
</channel></rss>`

const atomBody = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom"><title>Alerts</title>
<entry><title>Alert hit</title><link href="https://example.com/a"/><updated>2026-03-10T08:00:00Z</updated></entry>
</feed>`

func TestParse(t *testing.T) {
	t.Parallel()

	entries, err := Parse(strings.NewReader(rssBody), "Deadline")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3 (linkless entry skipped)", len(entries))
	}
	if entries[0].Link != "https://deadline.com/1" || entries[0].Source != "Deadline" {
		t.Errorf("entry 0 = %+v", entries[0])
	}
	if entries[0].Published.IsZero() {
		t.Error("pubDate not parsed")
	}
	if entries[1].Link != "https://deadline.com/2" {
		t.Errorf("GUID fallback link = %q", entries[1].Link)
	}
	if entries[2].Title != "Third story" {
		t.Errorf("title not trimmed: %q", entries[2].Title)
	}
}

func TestParse_Atom(t *testing.T) {
	t.Parallel()

	entries, err := Parse(strings.NewReader(atomBody), "Alerts")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(entries) != 1 || entries[0].Link != "https://example.com/a" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Published.IsZero() {
		t.Error("updated time not used as published")
	}
}

func TestParse_Invalid(t *testing.T) {
	t.Parallel()

	if _, err := Parse(strings.NewReader("not a feed"), "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestReader_Fetch(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("User-Agent"), "FilmmakerBot") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		switch r.URL.Path {
		case "/rss":
			_, _ = w.Write([]byte(rssBody))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	r := NewReader(srv.Client())

	entries, err := r.Fetch(context.Background(), Source{Name: "Deadline", URL: srv.URL + "/rss"}, 2)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("entries = %d, want limit 2", len(entries))
	}

	if _, err := r.Fetch(context.Background(), Source{Name: "Broken", URL: srv.URL + "/down"}, 5); err == nil {
		t.Error("expected error for non-200")
	}

	all, err := r.Collect(context.Background(), []Source{
		{Name: "Deadline", URL: srv.URL + "/rss"},
		{Name: "Broken", URL: srv.URL + "/down"},
	}, DefaultLimit)
	if err == nil || !strings.Contains(err.Error(), "Broken") {
		t.Errorf("Collect err = %v, want the failing feed reported", err)
	}
	if len(all) != 3 {
		t.Errorf("Collect entries = %d, want 3 from the healthy feed", len(all))
	}
}

func TestLookup(t *testing.T) {
	t.Parallel()

	src, ok := Lookup(DefaultSources(), "THR")
	if !ok || src.Name != "THR" {
		t.Errorf("Lookup(THR) = %+v, %v", src, ok)
	}
	if _, ok := Lookup(DefaultSources(), "indiewire"); ok {
		t.Error("feeds without a command should not resolve")
	}
}
