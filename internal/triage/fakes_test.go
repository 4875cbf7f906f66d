package triage_test

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

type sentCard struct {
	handle string
	card   triage.Card
}

// fakePrompter records prompts. Handles are "p1", "p2", ... and Replace
// returns the same handle unless reissue is set.
type fakePrompter struct {
	mu         sync.Mutex
	n          int
	prompts    []sentCard
	replaced   []sentCard
	removed    []string
	reissue    bool
	promptErr  error
	removeErr  error
	rejectRich bool
}

func (p *fakePrompter) Prompt(_ context.Context, c triage.Card) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.promptErr != nil {
		return "", p.promptErr
	}
	if p.rejectRich && c.Format == triage.FormatMarkdown {
		return "", triage.ErrFormatRejected
	}
	p.n++
	h := fmt.Sprintf("p%d", p.n)
	p.prompts = append(p.prompts, sentCard{h, c})
	return h, nil
}

func (p *fakePrompter) Replace(_ context.Context, handle string, c triage.Card) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaced = append(p.replaced, sentCard{handle, c})
	if p.reissue {
		p.n++
		return fmt.Sprintf("p%d", p.n), nil
	}
	return handle, nil
}

func (p *fakePrompter) Remove(_ context.Context, handle string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.removeErr != nil {
		return p.removeErr
	}
	p.removed = append(p.removed, handle)
	return nil
}

func (p *fakePrompter) lastReplaced() (sentCard, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.replaced) == 0 {
		return sentCard{}, false
	}
	return p.replaced[len(p.replaced)-1], true
}

// fakePublisher records published bucket keys in order.
type fakePublisher struct {
	mu         sync.Mutex
	keys       []string
	cards      []triage.Card
	fail       map[string]error
	rejectRich bool
}

func (p *fakePublisher) Publish(_ context.Context, b triage.Bucket, c triage.Card) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[b.Key]; err != nil {
		return err
	}
	if p.rejectRich && c.Format == triage.FormatMarkdown {
		return triage.ErrFormatRejected
	}
	p.keys = append(p.keys, b.Key)
	p.cards = append(p.cards, c)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

type fakeLedger struct {
	mu   sync.Mutex
	rows [][]string
	err  error
}

func (l *fakeLedger) Append(_ context.Context, row []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.rows = append(l.rows, row)
	return nil
}

func (l *fakeLedger) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

type fakeScraper struct {
	page triage.Page
	err  error
}

func (s fakeScraper) Fetch(context.Context, string, triage.SourceKind) (triage.Page, error) {
	return s.page, s.err
}

type fakeSummarizer struct {
	sum   triage.Summary
	err   error
	calls int
}

func (s *fakeSummarizer) Summarize(context.Context, string, string, string, string) (triage.Summary, error) {
	s.calls++
	return s.sum, s.err
}

var errBoom = errors.New("boom")
