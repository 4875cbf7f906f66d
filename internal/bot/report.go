package bot

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

// DailyDigest renders the daily brief.
func DailyDigest(s *triage.DailyStats, catalog *triage.Catalog, f triage.Format) string {
	return fmt.Sprintf("☀️ %s\n%s\n%s\n\n"+
		"📬 %s %d\n"+
		"⏳ %s %d\n\n"+
		"📂 %s\n%s\n\n"+
		"%s\n%s",
		bold(f, "DAILY INTELLIGENCE BRIEF"), rule, s.Day.Format("Monday, January 02, 2006"),
		bold(f, "New items:"), s.TotalToday,
		bold(f, "Pending triage:"), s.Pending,
		bold(f, "Filed today:"), bucketLines(s.FiledToday, catalog, "No items filed yet today."),
		rule, italic(f, "Open the bot to triage pending items."),
	)
}

// WeeklyHeader renders the weekly report header placed above the narrative.
func WeeklyHeader(week string, count int, f triage.Format) string {
	return fmt.Sprintf("📈 %s\n%s\nWeek of %s\nItems analyzed: %d\n\n",
		bold(f, "WEEKLY INTELLIGENCE REPORT"), rule, week, count)
}

// bucketLines lists per-bucket counts, largest first, ties in label order.
func bucketLines(counts map[string]int, catalog *triage.Catalog, empty string) string {
	if len(counts) == 0 {
		return "  " + empty
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(counts[b], counts[a]); c != 0 {
			return c
		}
		return cmp.Compare(catalog.Label(a), catalog.Label(b))
	})

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("  %s %s: %d", catalog.Emoji(k), catalog.Label(k), counts[k]))
	}
	return strings.Join(lines, "\n")
}

// SendDailyDigest sends the daily brief to the operator and the daily brief
// topic.
func (b *Bot) SendDailyDigest(ctx context.Context) error {
	stats, err := b.triage.DailyStats(ctx)
	if err != nil {
		return fmt.Errorf("daily stats: %w", err)
	}
	catalog := b.triage.Catalog()
	render := func(f triage.Format) string { return DailyDigest(stats, catalog, f) }

	err = b.broadcast(ctx, triage.BucketDailyBrief, render)
	b.logger.Info(ctx, "daily digest sent", "total_today", stats.TotalToday, "pending", stats.Pending, "ok", err == nil)
	return err
}

// SendWeeklyReport writes the weekly narrative over the last seven days of
// filings and sends it to the operator and the weekly report topic. Weeks
// without filings are skipped.
func (b *Bot) SendWeeklyReport(ctx context.Context) error {
	if b.analyst == nil {
		b.logger.Info(ctx, "weekly report skipped, no analyst configured")
		return nil
	}
	items, err := b.triage.WeeklyFiledItems(ctx)
	if err != nil {
		return fmt.Errorf("weekly items: %w", err)
	}
	if len(items) == 0 {
		b.logger.Info(ctx, "weekly report skipped, nothing filed")
		return nil
	}

	narrative, err := b.analyst.WeeklyReport(ctx, items)
	if err != nil {
		return fmt.Errorf("weekly narrative: %w", err)
	}
	week := b.now().Format("January 02, 2006")
	render := func(f triage.Format) string { return WeeklyHeader(week, len(items), f) + narrative }

	err = b.broadcast(ctx, triage.BucketWeeklyReport, render)
	b.logger.Info(ctx, "weekly report sent", "items", len(items), "ok", err == nil)
	return err
}

// broadcast sends a report to the operator and publishes it to a topic.
func (b *Bot) broadcast(ctx context.Context, bucketKey string, render func(triage.Format) string) error {
	errs := []error{b.reply(ctx, b.guard.Operator(), render, nil)}

	if b.publisher != nil {
		if bucket, ok := b.triage.Catalog().Lookup(bucketKey); ok {
			errs = append(errs, triage.Deliver(
				func(f triage.Format) triage.Card { return triage.Notice(render(f), f) },
				func(c triage.Card) error { return b.publisher.Publish(ctx, bucket, c) },
			))
		}
	}
	return errors.Join(errs...)
}
