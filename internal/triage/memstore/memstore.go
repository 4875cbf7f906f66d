// Package memstore provides an in-memory implementation of triage.Store.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// Store holds items and prompt correlations in memory. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	items   map[string]*triage.Item // item ID -> item
	locator map[string]string       // source locator -> item ID (dedup)
	prompts map[string]string       // prompt handle -> item ID
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		items:   make(map[string]*triage.Item),
		locator: make(map[string]string),
		prompts: make(map[string]string),
	}
}

// Exists reports whether an item with the locator has been stored.
func (s *Store) Exists(_ context.Context, locator string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.locator[locator]
	return ok, nil
}

// Create stores a copy of the item unless its locator is already known.
func (s *Store) Create(_ context.Context, it *triage.Item) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.locator[it.Locator]; ok {
		return false, nil
	}
	if _, ok := s.items[it.ID]; ok {
		return false, nil
	}
	s.items[it.ID] = it.Clone()
	s.locator[it.Locator] = it.ID
	return true, nil
}

// Get retrieves an item by its ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*triage.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	it, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return it.Clone(), true, nil
}

// UpdateStatus applies u under the write lock, so the Expect check and the
// update are one step.
func (s *Store) UpdateStatus(_ context.Context, id string, u triage.StatusUpdate) (bool, error) {
	u = u.Normalize()

	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if !ok {
		return false, nil
	}
	if u.Expect != "" && it.Status != u.Expect {
		return false, nil
	}
	it.Status = u.To
	if u.Action != triage.ActionNone {
		it.Action = u.Action
	}
	if u.Bucket != "" {
		it.Bucket = u.Bucket
		it.FiledAt = u.At
	}
	return true, nil
}

// ListByStatus returns copies of up to limit items with the status.
func (s *Store) ListByStatus(_ context.Context, status triage.Status, limit int, newestFirst bool) ([]*triage.Item, error) {
	s.mu.RLock()
	var out []*triage.Item
	for _, it := range s.items {
		if it.Status == status {
			out = append(out, it.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return capItems(out, limit), nil
}

// ListFiled returns copies of up to limit items filed at or after since, newest filing first.
func (s *Store) ListFiled(_ context.Context, since time.Time, limit int) ([]*triage.Item, error) {
	s.mu.RLock()
	var out []*triage.Item
	for _, it := range s.items {
		if it.Status == triage.StatusFiled && !it.FiledAt.Before(since) {
			out = append(out, it.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].FiledAt.After(out[j].FiledAt) })
	return capItems(out, limit), nil
}

// Count returns the number of items matching f.
func (s *Store) Count(_ context.Context, f triage.Filter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, it := range s.items {
		if f.Match(it) {
			n++
		}
	}
	return n, nil
}

// CountByBucket counts items with a bucket that match f.
func (s *Store) CountByBucket(_ context.Context, f triage.Filter) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]int)
	for _, it := range s.items {
		if it.Bucket != "" && f.Match(it) {
			out[it.Bucket]++
		}
	}
	return out, nil
}

// RecordPrompt correlates handle with itemID, replacing any previous entry.
func (s *Store) RecordPrompt(_ context.Context, handle, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts[handle] = itemID
	return nil
}

// ResolvePrompt returns the item correlated with handle.
func (s *Store) ResolvePrompt(_ context.Context, handle string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.prompts[handle]
	return id, ok, nil
}

func capItems(items []*triage.Item, limit int) []*triage.Item {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
