package triage

import (
	"context"
	"time"
)

// StatusUpdate is a guarded partial update of an item's lifecycle fields.
//
// Expect makes the update a check-and-set: it only applies when the stored
// status equals Expect. An empty Expect applies unconditionally.
// A non-empty Bucket implies StatusFiled and stamps FiledAt with At.
// A non-empty Action replaces the stored action, otherwise it is untouched.
type StatusUpdate struct {
	Expect Status
	To     Status
	Action Action
	Bucket string
	At     time.Time
}

// Normalize applies the implied fields of a partial update.
func (u StatusUpdate) Normalize() StatusUpdate {
	if u.Bucket != "" {
		u.To = StatusFiled
	}
	if u.At.IsZero() {
		u.At = time.Now().UTC()
	}
	u.At = u.At.UTC()
	return u
}

// Filter selects items for counting. Zero values leave a field unconstrained;
// windows are half-open [From, To).
type Filter struct {
	Status      Status
	CreatedFrom time.Time
	CreatedTo   time.Time
	FiledFrom   time.Time
	FiledTo     time.Time
}

// Match reports whether the item satisfies the filter. Stores without a query
// language use it directly.
func (f Filter) Match(it *Item) bool {
	if f.Status != "" && it.Status != f.Status {
		return false
	}
	if !inWindow(it.CreatedAt, f.CreatedFrom, f.CreatedTo) {
		return false
	}
	if !f.FiledFrom.IsZero() || !f.FiledTo.IsZero() {
		if it.FiledAt.IsZero() || !inWindow(it.FiledAt, f.FiledFrom, f.FiledTo) {
			return false
		}
	}
	return true
}

func inWindow(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

// Store is the persistence interface for items and prompt correlations.
// Implementations must make UpdateStatus atomic per item so that at most one
// of several concurrent updates with the same Expect can apply.
type Store interface {
	// Exists reports whether an item with the locator was ever ingested.
	Exists(ctx context.Context, locator string) (bool, error)

	// Create stores a new item. It returns created=false without error when
	// an item with the same locator already exists.
	Create(ctx context.Context, item *Item) (created bool, err error)

	Get(ctx context.Context, id string) (*Item, bool, error)

	// UpdateStatus applies u and reports whether it was applied. A missing
	// item or a failed Expect check yields applied=false without error.
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) (applied bool, err error)

	// ListByStatus returns up to limit items ordered by CreatedAt.
	ListByStatus(ctx context.Context, status Status, limit int, newestFirst bool) ([]*Item, error)

	// ListFiled returns up to limit filed items with FiledAt >= since,
	// newest filing first.
	ListFiled(ctx context.Context, since time.Time, limit int) ([]*Item, error)

	Count(ctx context.Context, f Filter) (int, error)

	// CountByBucket counts items that have a bucket and match f, keyed by bucket.
	CountByBucket(ctx context.Context, f Filter) (map[string]int, error)

	// RecordPrompt correlates a prompt handle with an item, replacing any
	// previous correlation for the handle.
	RecordPrompt(ctx context.Context, handle, itemID string) error

	// ResolvePrompt returns the item correlated with handle.
	ResolvePrompt(ctx context.Context, handle string) (itemID string, ok bool, err error)
}
