package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// DefaultSummarizeTimeout bounds a single summarizer call.
const DefaultSummarizeTimeout = 60 * time.Second

// ErrEmptyLocator is returned when a candidate has no locator.
var ErrEmptyLocator = errors.New("empty locator")

const (
	staleMessage     = "Already processed."
	dismissedMessage = "❌ Dismissed."
)

// OutcomeKind classifies the result of a trigger.
type OutcomeKind string

const (
	OutcomeApplied OutcomeKind = "applied"
	OutcomeStale   OutcomeKind = "stale"
	OutcomeInvalid OutcomeKind = "invalid"
)

// Outcome is the result of handling a trigger. Message is suitable for
// showing to the operator.
type Outcome struct {
	Kind     OutcomeKind
	Message  string
	Item     *Item
	Delivery *Delivery
}

// IngestResult is the outcome of offering a candidate for ingestion.
type IngestResult struct {
	ID        string
	Duplicate bool
	Fallback  bool
	Prompted  bool
}

// Option configures a Service.
type Option func(*Service)

// WithScraper sets the content fetcher. Without one, items carry no raw text.
func WithScraper(sc Scraper) Option {
	return func(s *Service) { s.scraper = sc }
}

// WithSummarizer sets the summarizer. Without one, every item gets the fallback summary.
func WithSummarizer(sm Summarizer) Option {
	return func(s *Service) { s.summarizer = sm }
}

// WithHooks sets instrumentation callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithSummarizeTimeout overrides DefaultSummarizeTimeout.
func WithSummarizeTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.summarizeTimeout = d
		}
	}
}

// Service is the business boundary for triage operations.
type Service struct {
	store            Store
	catalog          *Catalog
	router           *Router
	prompter         Prompter
	scraper          Scraper
	summarizer       Summarizer
	logger           log.Logger
	hooks            Hooks
	now              func() time.Time
	summarizeTimeout time.Duration
}

// NewService creates a triage service. A nil prompter disables operator
// prompts; items are still persisted and can be re-listed later.
func NewService(store Store, catalog *Catalog, router *Router, prompter Prompter, logger log.Logger, opts ...Option) *Service {
	if store == nil {
		panic(xerrors.New("triage store is required"))
	}
	if catalog == nil {
		panic(xerrors.New("bucket catalog is required"))
	}
	if router == nil {
		panic(xerrors.New("fan-out router is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		store:            store,
		catalog:          catalog,
		router:           router,
		prompter:         prompter,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
		summarizeTimeout: DefaultSummarizeTimeout,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Catalog returns the bucket catalog the service files into.
func (s *Service) Catalog() *Catalog {
	return s.catalog
}

// Get retrieves an item by ID.
func (s *Service) Get(ctx context.Context, id string) (*Item, bool, error) {
	return s.store.Get(ctx, id)
}

// List returns up to limit items with the given status, newest first.
func (s *Service) List(ctx context.Context, status Status, limit int) ([]*Item, error) {
	return s.store.ListByStatus(ctx, status, limit, true)
}

// Seen reports whether locator has already been ingested.
func (s *Service) Seen(ctx context.Context, locator string) (bool, error) {
	return s.store.Exists(ctx, strings.TrimSpace(locator))
}

// Ingest admits a candidate: dedupe, fetch, summarize, persist, prompt.
// Once past the dedupe check the item is always persisted, with the fallback
// summary if summarization fails.
func (s *Service) Ingest(ctx context.Context, c Candidate) (*IngestResult, error) {
	c.Locator = strings.TrimSpace(c.Locator)
	if c.Locator == "" {
		return nil, ErrEmptyLocator
	}
	id := ItemID(c.Locator)
	L := s.logger.With("item_id", id, "source", c.SourceName)

	exists, err := s.store.Exists(ctx, c.Locator)
	if err != nil {
		s.hooks.ingest("error")
		return nil, fmt.Errorf("dedupe check: %w", err)
	}
	if exists {
		s.hooks.ingest("duplicate")
		return &IngestResult{ID: id, Duplicate: true}, nil
	}

	// admitted candidates are never abandoned mid-ingestion
	ctx = context.WithoutCancel(ctx)

	page := s.fetch(ctx, c, L)
	title := strings.TrimSpace(c.Title)
	if title == "" {
		title = strings.TrimSpace(page.Title)
	}
	summary, fallback := s.summarize(ctx, title, page.Text, c, L)

	item := &Item{
		ID:         id,
		Locator:    c.Locator,
		SourceKind: c.SourceKind,
		SourceName: c.SourceName,
		Title:      title,
		RawText:    page.Text,
		Summary:    summary,
		Status:     StatusPending,
		CreatedAt:  s.now().UTC(),
	}

	created, err := s.store.Create(ctx, item)
	if err != nil {
		s.hooks.ingest("error")
		return nil, fmt.Errorf("persist item: %w", err)
	}
	if !created {
		s.hooks.ingest("duplicate")
		return &IngestResult{ID: id, Duplicate: true}, nil
	}
	s.hooks.ingest("created")

	res := &IngestResult{ID: id, Fallback: fallback}
	res.Prompted = s.prompt(ctx, item, L)

	L.Info(ctx, "item ingested",
		"kind", item.SourceKind,
		"fallback_summary", fallback,
		"prompted", res.Prompted,
	)
	return res, nil
}

// Relist re-prompts up to limit pending items, newest first, recording a
// fresh correlation for each. It returns the number of prompts sent.
func (s *Service) Relist(ctx context.Context, limit int) (int, error) {
	items, err := s.store.ListByStatus(ctx, StatusPending, limit, true)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}
	sent := 0
	for _, it := range items {
		if s.prompt(ctx, it, s.logger.With("item_id", it.ID)) {
			sent++
		}
	}
	return sent, nil
}

// HandleTrigger applies an operator decision made on the prompt behind handle.
// Stale or invalid triggers produce an Outcome, not an error; errors are
// reserved for store failures.
func (s *Service) HandleTrigger(ctx context.Context, handle string, tr Trigger) (*Outcome, error) {
	L := s.logger.With("prompt", handle, "trigger", tr.Kind)

	itemID, ok, err := s.store.ResolvePrompt(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("resolve prompt: %w", err)
	}
	if !ok {
		return s.stale(ctx, tr, L, "prompt not correlated"), nil
	}
	if tr.ItemID != "" && tr.ItemID != itemID {
		return s.stale(ctx, tr, L, "prompt reissued for another item"), nil
	}

	item, ok, err := s.store.Get(ctx, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	if !ok {
		return s.stale(ctx, tr, L, "item not found"), nil
	}

	t, err := Next(item, tr, s.catalog)
	switch {
	case errors.Is(err, ErrStale):
		return s.stale(ctx, tr, L, err.Error()), nil
	case err != nil:
		s.hooks.trigger(tr.Kind, OutcomeInvalid)
		L.Warn(ctx, "invalid trigger", "error", err)
		return &Outcome{Kind: OutcomeInvalid, Message: invalidMessage(err), Item: item}, nil
	}

	u := t.Update()
	u.At = s.now()
	u = u.Normalize()

	applied, err := s.store.UpdateStatus(ctx, item.ID, u)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !applied {
		// another trigger won the check-and-set
		return s.stale(ctx, tr, L, "concurrent update"), nil
	}

	item.Status = u.To
	if u.Action != ActionNone {
		item.Action = u.Action
	}
	if u.Bucket != "" {
		item.Bucket = u.Bucket
		item.FiledAt = u.At
	}

	out := &Outcome{Kind: OutcomeApplied, Item: item}

	switch tr.Kind {
	case TriggerAccept, TriggerArchive:
		s.replace(ctx, handle, L, func(f Format) Card { return PickerCard(item, s.catalog, item.Action, f) })
		out.Message = "Select a bucket."

	case TriggerReject:
		out.Message = dismissedMessage
		if s.prompter != nil {
			if err := s.prompter.Remove(ctx, handle); err != nil {
				L.Warn(ctx, "remove prompt failed, replacing instead", "error", err)
				s.replace(ctx, handle, L, func(f Format) Card { return Notice(dismissedMessage, f) })
			}
		}

	case TriggerCancel:
		if h := s.replace(ctx, handle, L, func(f Format) Card { return IntelCard(item, s.catalog, f) }); h != "" {
			if err := s.store.RecordPrompt(ctx, h, item.ID); err != nil {
				L.Error(ctx, err, "failed to record reissued prompt")
			}
		}
		out.Message = "Back to triage."

	case TriggerChooseBucket:
		d := s.router.Dispatch(ctx, item)
		out.Delivery = &d
		label := s.catalog.Label(item.Bucket)
		s.replace(ctx, handle, L, func(f Format) Card { return AckCard(label, d.Degraded(), f) })
		out.Message = AckCard(label, d.Degraded(), FormatPlain).Text
	}

	s.hooks.trigger(tr.Kind, OutcomeApplied)
	L.Info(ctx, "trigger applied", "item_id", item.ID, "from", t.From, "to", item.Status, "bucket", item.Bucket)
	return out, nil
}

// stale leaves the prompt untouched: it already shows whatever the winning
// trigger rendered. The caller surfaces Message as a transient notice.
func (s *Service) stale(ctx context.Context, tr Trigger, L log.Logger, reason string) *Outcome {
	s.hooks.trigger(tr.Kind, OutcomeStale)
	L.Info(ctx, "stale trigger", "reason", reason)
	return &Outcome{Kind: OutcomeStale, Message: staleMessage}
}

func invalidMessage(err error) string {
	if errors.Is(err, ErrUnknownBucket) {
		return "Unknown bucket."
	}
	return "Unrecognized action."
}

func (s *Service) fetch(ctx context.Context, c Candidate, L log.Logger) Page {
	if s.scraper == nil {
		return Page{}
	}
	page, err := s.scraper.Fetch(ctx, c.Locator, c.SourceKind)
	if err != nil {
		// a failed fetch may still carry a placeholder title
		L.Warn(ctx, "fetch failed, continuing without text", "error", err, "title", page.Title)
	}
	return page
}

func (s *Service) summarize(ctx context.Context, title, text string, c Candidate, L log.Logger) (Summary, bool) {
	if s.summarizer == nil {
		s.hooks.summary("fallback")
		return Fallback(title, text), true
	}

	ctx, cancel := context.WithTimeout(ctx, s.summarizeTimeout)
	defer cancel()

	sum, err := s.summarizer.Summarize(ctx, title, text, c.SourceName, c.Locator)
	if err == nil {
		sum = sum.Normalize()
	}
	if err != nil || !sum.Complete() {
		if err == nil {
			err = errors.New("incomplete summary")
		}
		L.Warn(ctx, "summarization degraded to fallback", "error", err)
		s.hooks.summary("fallback")
		return Fallback(title, text), true
	}
	s.hooks.summary("ok")
	return sum, false
}

func (s *Service) prompt(ctx context.Context, item *Item, L log.Logger) bool {
	if s.prompter == nil {
		return false
	}
	var handle string
	err := Deliver(
		func(f Format) Card { return IntelCard(item, s.catalog, f) },
		func(c Card) error {
			h, err := s.prompter.Prompt(ctx, c)
			handle = h
			return err
		},
	)
	if err != nil {
		L.Error(ctx, err, "failed to send prompt")
		return false
	}
	if err := s.store.RecordPrompt(ctx, handle, item.ID); err != nil {
		L.Error(ctx, err, "failed to record prompt correlation")
		return false
	}
	return true
}

// replace reissues the prompt behind handle and returns the resulting
// handle, or "" if it could not be delivered.
func (s *Service) replace(ctx context.Context, handle string, L log.Logger, render func(Format) Card) string {
	if s.prompter == nil {
		return ""
	}
	var out string
	err := Deliver(render, func(c Card) error {
		h, err := s.prompter.Replace(ctx, handle, c)
		out = h
		return err
	})
	if err != nil {
		L.Error(ctx, err, "failed to update prompt")
		return ""
	}
	return out
}
