package triage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultDeliveryTimeout bounds each fan-out destination.
const DefaultDeliveryTimeout = 20 * time.Second

// DestinationKind identifies a fan-out target.
type DestinationKind string

const (
	DestBucket       DestinationKind = "bucket"
	DestBroadMirror  DestinationKind = "broad_mirror"
	DestSocialMirror DestinationKind = "social_mirror"
	DestLedger       DestinationKind = "ledger"
)

// Destination is one step of a fan-out plan. Bucket is unset for the ledger.
type Destination struct {
	Kind   DestinationKind
	Bucket Bucket
}

// Delivery reports the outcome of a fan-out.
type Delivery struct {
	Attempted    []Destination
	Failed       []Destination
	LedgerFailed bool
}

// Degraded reports whether the acknowledgment should flag the filing.
// Only ledger failures are surfaced; bucket and mirror failures are logged.
func (d Delivery) Degraded() bool {
	return d.LedgerFailed
}

// Router delivers filed items to their destinations.
type Router struct {
	catalog   *Catalog
	publisher Publisher
	ledger    Ledger
	timeout   time.Duration
	logger    log.Logger
	hooks     Hooks
}

// NewRouter creates a fan-out router. A nil publisher or ledger makes the
// corresponding destinations trivially successful.
func NewRouter(catalog *Catalog, publisher Publisher, ledger Ledger, logger log.Logger, hooks Hooks) *Router {
	if logger == nil {
		logger = log.Nop()
	}
	return &Router{
		catalog:   catalog,
		publisher: publisher,
		ledger:    ledger,
		timeout:   DefaultDeliveryTimeout,
		logger:    logger,
		hooks:     hooks,
	}
}

// WithTimeout sets the per-destination timeout.
func (r *Router) WithTimeout(d time.Duration) *Router {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Plan returns the ordered destinations for a filed item.
func (r *Router) Plan(item *Item) []Destination {
	primary, ok := r.catalog.Lookup(item.Bucket)
	if !ok {
		primary = Bucket{Key: item.Bucket, Label: item.Bucket}
	}
	broad, _ := r.catalog.Lookup(BucketAllIntel)

	plan := []Destination{
		{Kind: DestBucket, Bucket: primary},
		{Kind: DestBroadMirror, Bucket: broad},
	}
	if item.SourceKind == SourceSocial {
		social, _ := r.catalog.Lookup(BucketSocialIntel)
		plan = append(plan, Destination{Kind: DestSocialMirror, Bucket: social})
	}
	if !LedgerExcluded(item.Bucket) {
		plan = append(plan, Destination{Kind: DestLedger})
	}
	return plan
}

// Dispatch delivers item to every planned destination in order. Each
// destination runs under its own timeout and a failure never stops the rest.
func (r *Router) Dispatch(ctx context.Context, item *Item) Delivery {
	// filing already happened; deliveries outlive the caller
	ctx = context.WithoutCancel(ctx)
	L := r.logger.With("item_id", item.ID, "bucket", item.Bucket)

	var d Delivery
	for _, dest := range r.Plan(item) {
		d.Attempted = append(d.Attempted, dest)

		start := time.Now()
		err := r.deliverOne(ctx, item, dest)
		elapsed := time.Since(start).Seconds()

		if err != nil {
			d.Failed = append(d.Failed, dest)
			if dest.Kind == DestLedger {
				d.LedgerFailed = true
			}
			r.hooks.delivery(dest.Kind, "error", elapsed)
			L.Error(ctx, err, "fan-out delivery failed", "destination", dest.Kind, "target", dest.Bucket.Key)
			continue
		}
		r.hooks.delivery(dest.Kind, "ok", elapsed)
	}

	L.Info(ctx, "fan-out complete",
		"attempted", len(d.Attempted),
		"failed", len(d.Failed),
		"ledger_failed", d.LedgerFailed,
	)
	return d
}

func (r *Router) deliverOne(ctx context.Context, item *Item, dest Destination) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if dest.Kind == DestLedger {
		if r.ledger == nil {
			return nil
		}
		return r.ledger.Append(ctx, LedgerRow(item))
	}

	if r.publisher == nil {
		return nil
	}
	if dest.Bucket.Key == "" {
		return errors.New("destination bucket not defined")
	}
	return Deliver(
		func(f Format) Card { return TopicCard(item, r.catalog, f) },
		func(c Card) error { return r.publisher.Publish(ctx, dest.Bucket, c) },
	)
}

// LedgerRow flattens a filed item into the ledger's column order.
func LedgerRow(item *Item) []string {
	filedAt := ""
	if !item.FiledAt.IsZero() {
		filedAt = item.FiledAt.UTC().Format(time.RFC3339)
	}
	return []string{
		item.ID,
		item.CreatedAt.UTC().Format(time.RFC3339),
		string(item.SourceKind),
		item.SourceName,
		string(item.Action),
		item.Bucket,
		item.Summary.Headline,
		item.Summary.OneLine,
		strings.Join(item.Summary.Bullets, " | "),
		strings.Join(item.Summary.Tags, ", "),
		item.Locator,
		filedAt,
	}
}
