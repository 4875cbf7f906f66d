package triage

import (
	"context"
	"fmt"
	"time"
)

const (
	// WeeklyCap bounds the items fed to the weekly narrative.
	WeeklyCap    = 50
	weeklyWindow = 7 * 24 * time.Hour
)

// DailyStats summarizes the current UTC day.
type DailyStats struct {
	Day        time.Time      `json:"day"`
	TotalToday int            `json:"total_today"`
	Pending    int            `json:"pending"`
	FiledToday map[string]int `json:"filed_today_by_bucket"`
}

// Totals summarizes the whole repository.
type Totals struct {
	Total     int            `json:"total"`
	Pending   int            `json:"pending"`
	Filed     int            `json:"filed"`
	Dismissed int            `json:"dismissed"`
	ByBucket  map[string]int `json:"by_bucket"`
}

// DailyStats counts today's ingestions, the pending backlog, and today's
// filings per bucket. Days are UTC.
func (s *Service) DailyStats(ctx context.Context) (*DailyStats, error) {
	day := startOfDay(s.now())
	next := day.AddDate(0, 0, 1)

	total, err := s.store.Count(ctx, Filter{CreatedFrom: day, CreatedTo: next})
	if err != nil {
		return nil, fmt.Errorf("count today: %w", err)
	}
	pending, err := s.store.Count(ctx, Filter{Status: StatusPending})
	if err != nil {
		return nil, fmt.Errorf("count pending: %w", err)
	}
	byBucket, err := s.store.CountByBucket(ctx, Filter{FiledFrom: day, FiledTo: next})
	if err != nil {
		return nil, fmt.Errorf("count filed today: %w", err)
	}

	return &DailyStats{Day: day, TotalToday: total, Pending: pending, FiledToday: byBucket}, nil
}

// WeeklyFiledItems returns items filed in the trailing seven days, newest
// first, capped at WeeklyCap.
func (s *Service) WeeklyFiledItems(ctx context.Context) ([]*Item, error) {
	items, err := s.store.ListFiled(ctx, s.now().Add(-weeklyWindow), WeeklyCap)
	if err != nil {
		return nil, fmt.Errorf("list weekly filed: %w", err)
	}
	return items, nil
}

// Totals returns all-time counts.
func (s *Service) Totals(ctx context.Context) (*Totals, error) {
	var t Totals
	var err error
	if t.Total, err = s.store.Count(ctx, Filter{}); err != nil {
		return nil, fmt.Errorf("count all: %w", err)
	}
	counts := []struct {
		dst    *int
		status Status
	}{
		{&t.Pending, StatusPending},
		{&t.Filed, StatusFiled},
		{&t.Dismissed, StatusDismissed},
	}
	for _, c := range counts {
		if *c.dst, err = s.store.Count(ctx, Filter{Status: c.status}); err != nil {
			return nil, fmt.Errorf("count %s: %w", c.status, err)
		}
	}
	if t.ByBucket, err = s.store.CountByBucket(ctx, Filter{}); err != nil {
		return nil, fmt.Errorf("count by bucket: %w", err)
	}
	return &t, nil
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
