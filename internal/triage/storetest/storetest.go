// Package storetest is a conformance suite for triage.Store implementations.
// Every case uses fresh locators and measures counts as deltas, so it can run
// against a shared database.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/filmmaker-og/filmmaker-ogbot/internal/triage"
)

var seq atomic.Int64

// Opener returns a ready store for one test case.
type Opener func(t *testing.T) triage.Store

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Opener) {
	t.Helper()

	cases := []struct {
		name string
		fn   func(t *testing.T, s triage.Store)
	}{
		{"CreateAndGet", testCreateAndGet},
		{"CreateIsIdempotent", testCreateIsIdempotent},
		{"GetMissing", testGetMissing},
		{"UpdateStatusPartial", testUpdateStatusPartial},
		{"UpdateStatusExpect", testUpdateStatusExpect},
		{"ConcurrentFilingAppliesOnce", testConcurrentFiling},
		{"ListByStatusOrder", testListByStatusOrder},
		{"ListFiledWindow", testListFiledWindow},
		{"CountWindows", testCountWindows},
		{"PromptCorrelation", testPromptCorrelation},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			c.fn(t, open(t))
		})
	}
}

// NewItem returns a pending item with a locator unique to this process.
func NewItem(t *testing.T, created time.Time) *triage.Item {
	t.Helper()
	loc := fmt.Sprintf("https://example.test/%s/%d/%d", t.Name(), time.Now().UnixNano(), seq.Add(1))
	return &triage.Item{
		ID:         triage.ItemID(loc),
		Locator:    loc,
		SourceKind: triage.SourceFeed,
		SourceName: "Deadline",
		Title:      "Studio X closes $50M deal",
		RawText:    "Studio X announced a financing deal.",
		Summary: triage.Summary{
			Headline:        "Studio X closes $50M deal",
			OneLine:         "A slate financing deal.",
			Bullets:         []string{"$50M", "three films"},
			Tags:            []string{"financing", "streaming"},
			SuggestedBucket: "financing",
			WhyItMatters:    "Sets a price point.",
		},
		Status:    triage.StatusPending,
		CreatedAt: created.UTC().Truncate(time.Microsecond),
	}
}

func mustCreate(t *testing.T, s triage.Store, it *triage.Item) {
	t.Helper()
	created, err := s.Create(context.Background(), it)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !created {
		t.Fatalf("Create(%s) = false, want true", it.ID)
	}
}

func mustGet(t *testing.T, s triage.Store, id string) *triage.Item {
	t.Helper()
	got, ok, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatalf("Get(%s) ok=false, want true", id)
	}
	return got
}

func testCreateAndGet(t *testing.T, s triage.Store) {
	ctx := context.Background()
	it := NewItem(t, time.Now())

	exists, err := s.Exists(ctx, it.Locator)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("Exists = true before Create")
	}

	mustCreate(t, s, it)

	exists, err = s.Exists(ctx, it.Locator)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("Exists = false after Create")
	}

	got := mustGet(t, s, it.ID)
	if got.Locator != it.Locator {
		t.Errorf("Locator = %q, want %q", got.Locator, it.Locator)
	}
	if got.SourceKind != it.SourceKind {
		t.Errorf("SourceKind = %q, want %q", got.SourceKind, it.SourceKind)
	}
	if got.Status != triage.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.Action != triage.ActionNone || got.Bucket != "" || !got.FiledAt.IsZero() {
		t.Errorf("lifecycle fields set on new item: action=%q bucket=%q filed_at=%v", got.Action, got.Bucket, got.FiledAt)
	}
	if !got.CreatedAt.Equal(it.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, it.CreatedAt)
	}
	if got.Summary.Headline != it.Summary.Headline || got.Summary.OneLine != it.Summary.OneLine {
		t.Errorf("Summary = %+v, want %+v", got.Summary, it.Summary)
	}
	if len(got.Summary.Tags) != 2 || got.Summary.Tags[0] != "financing" || got.Summary.Tags[1] != "streaming" {
		t.Errorf("Tags = %v, want [financing streaming]", got.Summary.Tags)
	}
	if got.RawText != it.RawText {
		t.Errorf("RawText = %q, want %q", got.RawText, it.RawText)
	}
}

func testCreateIsIdempotent(t *testing.T, s triage.Store) {
	ctx := context.Background()
	it := NewItem(t, time.Now())
	mustCreate(t, s, it)

	dup := *it
	dup.Title = "second delivery"
	created, err := s.Create(ctx, &dup)
	if err != nil {
		t.Fatalf("second Create returned error: %v", err)
	}
	if created {
		t.Fatal("second Create = true, want false")
	}

	got := mustGet(t, s, it.ID)
	if got.Title != it.Title {
		t.Errorf("Title = %q, want first writer %q", got.Title, it.Title)
	}
}

func testGetMissing(t *testing.T, s triage.Store) {
	_, ok, err := s.Get(context.Background(), "0000000000000000")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("Get ok=true for missing id")
	}
	applied, err := s.UpdateStatus(context.Background(), "0000000000000000", triage.StatusUpdate{To: triage.StatusDismissed})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if applied {
		t.Fatal("UpdateStatus applied to missing item")
	}
}

func testUpdateStatusPartial(t *testing.T, s triage.Store) {
	ctx := context.Background()
	it := NewItem(t, time.Now())
	mustCreate(t, s, it)

	// action only
	ok, err := s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{To: triage.StatusSelectingBucket, Action: triage.ActionArchive})
	if err != nil || !ok {
		t.Fatalf("UpdateStatus(action) = %v, %v", ok, err)
	}
	got := mustGet(t, s, it.ID)
	if got.Status != triage.StatusSelectingBucket || got.Action != triage.ActionArchive {
		t.Errorf("after action update: status=%q action=%q", got.Status, got.Action)
	}
	if got.Bucket != "" || !got.FiledAt.IsZero() {
		t.Errorf("action update touched bucket/filed_at: %q %v", got.Bucket, got.FiledAt)
	}

	// neither: status only, action kept
	ok, err = s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{To: triage.StatusPending})
	if err != nil || !ok {
		t.Fatalf("UpdateStatus(status) = %v, %v", ok, err)
	}
	got = mustGet(t, s, it.ID)
	if got.Status != triage.StatusPending || got.Action != triage.ActionArchive {
		t.Errorf("after status update: status=%q action=%q", got.Status, got.Action)
	}

	// bucket implies filed and stamps filed_at
	at := time.Now().UTC().Truncate(time.Microsecond)
	ok, err = s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{To: triage.StatusSelectingBucket, Bucket: "financing", At: at})
	if err != nil || !ok {
		t.Fatalf("UpdateStatus(bucket) = %v, %v", ok, err)
	}
	got = mustGet(t, s, it.ID)
	if got.Status != triage.StatusFiled {
		t.Errorf("Status = %q, want filed", got.Status)
	}
	if got.Bucket != "financing" {
		t.Errorf("Bucket = %q, want financing", got.Bucket)
	}
	if !got.FiledAt.Equal(at) {
		t.Errorf("FiledAt = %v, want %v", got.FiledAt, at)
	}
}

func testUpdateStatusExpect(t *testing.T, s triage.Store) {
	ctx := context.Background()
	it := NewItem(t, time.Now())
	mustCreate(t, s, it)

	ok, err := s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{Expect: triage.StatusSelectingBucket, Bucket: "financing"})
	if err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}
	if ok {
		t.Fatal("update applied despite failed expect")
	}
	if got := mustGet(t, s, it.ID); got.Status != triage.StatusPending {
		t.Errorf("Status = %q, want unchanged pending", got.Status)
	}

	ok, err = s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{Expect: triage.StatusPending, To: triage.StatusDismissed, Action: triage.ActionReject})
	if err != nil || !ok {
		t.Fatalf("UpdateStatus = %v, %v, want applied", ok, err)
	}
}

func testConcurrentFiling(t *testing.T, s triage.Store) {
	ctx := context.Background()
	it := NewItem(t, time.Now())
	it.Status = triage.StatusSelectingBucket
	it.Action = triage.ActionAccept
	mustCreate(t, s, it)

	const racers = 8
	var applied atomic.Int32
	var wg sync.WaitGroup
	buckets := []string{"financing", "talent"}
	for i := range racers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{
				Expect: triage.StatusSelectingBucket,
				Bucket: buckets[i%len(buckets)],
			})
			if err != nil {
				t.Errorf("UpdateStatus: %v", err)
				return
			}
			if ok {
				applied.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := applied.Load(); n != 1 {
		t.Fatalf("applied %d times, want exactly 1", n)
	}
	if got := mustGet(t, s, it.ID); got.Status != triage.StatusFiled || got.Bucket == "" {
		t.Errorf("item not filed: status=%q bucket=%q", got.Status, got.Bucket)
	}
}

func testListByStatusOrder(t *testing.T, s triage.Store) {
	ctx := context.Background()
	// far-future timestamps keep these ahead of anything else in a shared store
	base := time.Now().Add(100 * 365 * 24 * time.Hour)
	older := NewItem(t, base)
	newer := NewItem(t, base.Add(time.Minute))
	mustCreate(t, s, older)
	mustCreate(t, s, newer)

	got, err := s.ListByStatus(ctx, triage.StatusPending, 2, true)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Errorf("order = [%s %s], want newest first [%s %s]", got[0].ID, got[1].ID, newer.ID, older.ID)
	}

	one, err := s.ListByStatus(ctx, triage.StatusPending, 1, true)
	if err != nil {
		t.Fatalf("ListByStatus: %v", err)
	}
	if len(one) != 1 {
		t.Errorf("limit not applied: len = %d", len(one))
	}
}

func testListFiledWindow(t *testing.T, s triage.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	base := now.Add(50 * 365 * 24 * time.Hour)

	old := NewItem(t, base)
	recent := NewItem(t, base)
	newest := NewItem(t, base)
	for _, it := range []*triage.Item{old, recent, newest} {
		mustCreate(t, s, it)
	}
	file := func(it *triage.Item, at time.Time) {
		t.Helper()
		ok, err := s.UpdateStatus(ctx, it.ID, triage.StatusUpdate{Bucket: "market", At: at})
		if err != nil || !ok {
			t.Fatalf("file %s: %v %v", it.ID, ok, err)
		}
	}
	file(old, base.Add(-10*24*time.Hour))
	file(recent, base.Add(-2*24*time.Hour))
	file(newest, base.Add(-time.Hour))

	got, err := s.ListFiled(ctx, base.Add(-7*24*time.Hour), 50)
	if err != nil {
		t.Fatalf("ListFiled: %v", err)
	}
	if len(got) < 2 {
		t.Fatalf("len = %d, want at least 2", len(got))
	}
	if got[0].ID != newest.ID || got[1].ID != recent.ID {
		t.Errorf("order = [%s %s], want [%s %s]", got[0].ID, got[1].ID, newest.ID, recent.ID)
	}
	for _, it := range got {
		if it.ID == old.ID {
			t.Error("item filed outside the window was returned")
		}
	}
}

func testCountWindows(t *testing.T, s triage.Store) {
	ctx := context.Background()
	day := time.Date(2200, 1, 2, 0, 0, 0, 0, time.UTC).Add(time.Duration(seq.Add(1)) * 48 * time.Hour)
	next := day.AddDate(0, 0, 1)
	bucket := fmt.Sprintf("bucket-%d-%d", time.Now().UnixNano(), seq.Add(1))

	todayFilter := triage.Filter{CreatedFrom: day, CreatedTo: next}
	before, err := s.Count(ctx, todayFilter)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}

	a := NewItem(t, day.Add(time.Hour))
	b := NewItem(t, day.Add(2*time.Hour))
	yesterday := NewItem(t, day.Add(-time.Hour))
	for _, it := range []*triage.Item{a, b, yesterday} {
		mustCreate(t, s, it)
	}
	if ok, err := s.UpdateStatus(ctx, a.ID, triage.StatusUpdate{Bucket: bucket, At: day.Add(3 * time.Hour)}); err != nil || !ok {
		t.Fatalf("file a: %v %v", ok, err)
	}
	if ok, err := s.UpdateStatus(ctx, yesterday.ID, triage.StatusUpdate{Bucket: bucket, At: day.Add(-30 * time.Minute)}); err != nil || !ok {
		t.Fatalf("file yesterday: %v %v", ok, err)
	}

	after, err := s.Count(ctx, todayFilter)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if after-before != 2 {
		t.Errorf("created today delta = %d, want 2", after-before)
	}

	byBucket, err := s.CountByBucket(ctx, triage.Filter{FiledFrom: day, FiledTo: next})
	if err != nil {
		t.Fatalf("CountByBucket: %v", err)
	}
	if byBucket[bucket] != 1 {
		t.Errorf("filed today in %s = %d, want 1", bucket, byBucket[bucket])
	}

	all, err := s.CountByBucket(ctx, triage.Filter{})
	if err != nil {
		t.Fatalf("CountByBucket: %v", err)
	}
	if all[bucket] != 2 {
		t.Errorf("filed all-time in %s = %d, want 2", bucket, all[bucket])
	}

	filed, err := s.Count(ctx, triage.Filter{Status: triage.StatusFiled, CreatedFrom: day, CreatedTo: next})
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if filed < 1 {
		t.Errorf("filed count = %d, want >= 1", filed)
	}
}

func testPromptCorrelation(t *testing.T, s triage.Store) {
	ctx := context.Background()
	handle := fmt.Sprintf("42:%d", seq.Add(1))

	if _, ok, err := s.ResolvePrompt(ctx, handle); err != nil || ok {
		t.Fatalf("ResolvePrompt(unknown) = ok %v, err %v", ok, err)
	}

	if err := s.RecordPrompt(ctx, handle, "item-a"); err != nil {
		t.Fatalf("RecordPrompt: %v", err)
	}
	if err := s.RecordPrompt(ctx, handle, "item-b"); err != nil {
		t.Fatalf("RecordPrompt overwrite: %v", err)
	}

	id, ok, err := s.ResolvePrompt(ctx, handle)
	if err != nil {
		t.Fatalf("ResolvePrompt: %v", err)
	}
	if !ok || id != "item-b" {
		t.Errorf("ResolvePrompt = %q, %v, want item-b, true", id, ok)
	}
}
