package triage

import (
	"context"
	"errors"
)

// ErrFormatRejected is returned by transports when the destination refused
// the rich formatting of a card. It is distinct from delivery failures and
// callers retry once with a plain rendering.
var ErrFormatRejected = errors.New("rich formatting rejected")

// Prompter delivers interactive prompts to the operator.
type Prompter interface {
	// Prompt sends a new card and returns its handle.
	Prompt(ctx context.Context, card Card) (handle string, err error)

	// Replace reissues the prompt behind handle with card and returns the
	// handle the reissued prompt answers to.
	Replace(ctx context.Context, handle string, card Card) (string, error)

	// Remove withdraws the prompt.
	Remove(ctx context.Context, handle string) error
}

// Publisher delivers a filed item's card to a bucket destination.
// Destinations that are not configured are skipped without error.
type Publisher interface {
	Publish(ctx context.Context, bucket Bucket, card Card) error
}

// Ledger appends filed items to an external record. An unconfigured ledger
// returns nil.
type Ledger interface {
	Append(ctx context.Context, row []string) error
}

// Page is scraped content. Both fields may be empty.
type Page struct {
	Title string
	Text  string
}

// Scraper fetches the text behind a locator. An empty page is a valid result.
// A page returned alongside an error is kept, so implementations return the
// zero Page unless they have a usable placeholder.
type Scraper interface {
	Fetch(ctx context.Context, locator string, kind SourceKind) (Page, error)
}

// Summarizer produces a structured summary. Errors and incomplete summaries
// are replaced by Fallback at the call site.
type Summarizer interface {
	Summarize(ctx context.Context, title, text, sourceName, locator string) (Summary, error)
}

// Deliver sends the rich rendering and, when the destination rejected the
// formatting, retries once with the plain rendering.
func Deliver(render func(Format) Card, send func(Card) error) error {
	err := send(render(FormatMarkdown))
	if errors.Is(err, ErrFormatRejected) {
		return send(render(FormatPlain))
	}
	return err
}
