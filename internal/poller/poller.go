// Package poller runs feed poll cycles: fetch each configured feed, take its
// newest entries, and offer them to triage for ingestion.
package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linnemanlabs/go-core/log"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/feed"
	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// DefaultWorkers bounds concurrent ingestions within a cycle.
const DefaultWorkers = 4

// ErrBusy is returned when a cycle is already running.
var ErrBusy = errors.New("poll already in progress")

// Fetcher reads the newest entries of one feed.
type Fetcher interface {
	Fetch(ctx context.Context, src feed.Source, limit int) ([]feed.Entry, error)
}

// Ingester admits candidates into triage.
type Ingester interface {
	Ingest(ctx context.Context, c triage.Candidate) (*triage.IngestResult, error)
}

// Result summarizes one poll cycle.
type Result struct {
	RunID      string        `json:"run_id"`
	Candidates int           `json:"candidates"`
	Created    int           `json:"created"`
	Duplicates int           `json:"duplicates"`
	Failed     int           `json:"failed"`
	FeedErrors int           `json:"feed_errors"`
	Duration   time.Duration `json:"duration_ns"`
}

// Poller polls feeds and ingests their entries.
type Poller struct {
	fetcher Fetcher
	ingest  Ingester
	sources []feed.Source
	perFeed int
	workers int
	logger  log.Logger
	metrics *triage.Metrics
	running atomic.Bool
}

// Option configures a Poller.
type Option func(*Poller)

// WithWorkers overrides DefaultWorkers.
func WithWorkers(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithPerFeed overrides feed.DefaultLimit.
func WithPerFeed(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.perFeed = n
		}
	}
}

// WithMetrics records poll duration and per-feed candidate counts.
func WithMetrics(m *triage.Metrics) Option {
	return func(p *Poller) { p.metrics = m }
}

// New creates a Poller over sources.
func New(fetcher Fetcher, ingest Ingester, sources []feed.Source, logger log.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = log.Nop()
	}
	p := &Poller{
		fetcher: fetcher,
		ingest:  ingest,
		sources: sources,
		perFeed: feed.DefaultLimit,
		workers: DefaultWorkers,
		logger:  logger,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Sources returns the configured feeds.
func (p *Poller) Sources() []feed.Source {
	return p.sources
}

// Running reports whether a cycle is in progress.
func (p *Poller) Running() bool {
	return p.running.Load()
}

// Poll runs one cycle over every configured feed. Cycles do not overlap;
// a call made while one is running returns ErrBusy. Failing feeds and
// failing entries are logged and counted but do not abort the cycle.
func (p *Poller) Poll(ctx context.Context) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer p.running.Store(false)

	start := time.Now()
	res := &Result{RunID: ulid.Make().String()}
	L := p.logger.With("run_id", res.RunID)
	L.Info(ctx, "poll started", "feeds", len(p.sources))

	var mu sync.Mutex
	seen := make(map[string]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)

	for _, src := range p.sources {
		if ctx.Err() != nil {
			break
		}
		entries, err := p.fetcher.Fetch(ctx, src, p.perFeed)
		if err != nil {
			L.Warn(ctx, "feed fetch failed", "feed", src.Name, "err", err)
			res.FeedErrors++
			continue
		}
		if p.metrics != nil {
			p.metrics.PollCandidates.WithLabelValues(src.Name).Add(float64(len(entries)))
		}

		for _, e := range entries {
			if e.Link == "" || seen[e.Link] {
				continue
			}
			seen[e.Link] = true
			res.Candidates++

			c := triage.Candidate{
				Locator:    e.Link,
				Title:      e.Title,
				SourceKind: triage.SourceFeed,
				SourceName: e.Source,
			}
			g.Go(func() error {
				out, err := p.ingest.Ingest(gctx, c)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					res.Failed++
					L.Warn(gctx, "ingest failed", "url", c.Locator, "err", err)
				case out.Duplicate:
					res.Duplicates++
				default:
					res.Created++
				}
				return nil
			})
		}
	}

	// workers never return errors; the group only bounds concurrency
	_ = g.Wait()

	res.Duration = time.Since(start)
	if p.metrics != nil {
		p.metrics.PollDuration.Observe(res.Duration.Seconds())
	}
	L.Info(ctx, "poll finished",
		"candidates", res.Candidates,
		"created", res.Created,
		"duplicates", res.Duplicates,
		"failed", res.Failed,
		"feed_errors", res.FeedErrors,
		"duration", res.Duration,
	)

	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("poll interrupted: %w", err)
	}
	return res, nil
}
