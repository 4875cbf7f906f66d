package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linnemanlabs/go-core/log"
)

func TestDefaultSpecs_Next(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	noop := func(context.Context) error { return nil }
	for name, spec := range map[string]string{"poll": PollSpec, "daily": DailySpec, "weekly": WeeklySpec} {
		if err := s.Add(name, spec, noop); err != nil {
			t.Fatalf("Add(%s): %v", name, err)
		}
	}

	// Wednesday 2026-03-04 12:10 UTC
	from := time.Date(2026, 3, 4, 12, 10, 0, 0, time.UTC)

	tests := []struct {
		job  string
		want time.Time
	}{
		{"poll", time.Date(2026, 3, 4, 12, 30, 0, 0, time.UTC)},
		{"daily", time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC)},
		{"weekly", time.Date(2026, 3, 8, 14, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			t.Parallel()
			got, err := s.Next(tt.job, from)
			if err != nil {
				t.Fatalf("Next: %v", err)
			}
			if !got.Equal(tt.want) {
				t.Errorf("Next(%s) = %v, want %v", tt.job, got, tt.want)
			}
		})
	}
}

func TestNext_EvaluatesInUTC(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	if err := s.Add("daily", DailySpec, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Add: %v", err)
	}
	loc := time.FixedZone("CT", -6*3600)
	from := time.Date(2026, 3, 4, 6, 0, 0, 0, loc) // 12:00 UTC
	got, err := s.Next("daily", from)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if want := time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Errorf("Next = %v, want %v", got, want)
	}
}

func TestAdd_Errors(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	noop := func(context.Context) error { return nil }

	if err := s.Add("bad", "not a spec", noop); err == nil {
		t.Error("expected parse error")
	}
	if err := s.Add("seconds", "0 */30 * * * *", noop); err == nil {
		t.Error("expected error for 6-field spec")
	}
	if err := s.Add("poll", PollSpec, noop); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("poll", PollSpec, noop); err == nil {
		t.Error("expected duplicate error")
	}
	if _, err := s.Next("missing", time.Now()); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Next(missing) err = %v", err)
	}
	if err := s.Trigger("missing"); !errors.Is(err, ErrUnknownJob) {
		t.Errorf("Trigger(missing) err = %v", err)
	}
}

func TestTrigger_RunsAndRecovers(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	var runs atomic.Int32
	if err := s.Add("poll", PollSpec, func(context.Context) error {
		runs.Add(1)
		return errors.New("feed down")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add("panics", DailySpec, func(context.Context) error {
		panic("boom")
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	s.Start()
	defer func() { _ = s.Stop(context.Background()) }()

	if err := s.Trigger("poll"); err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if err := s.Trigger("panics"); err != nil {
		t.Fatalf("Trigger(panics): %v", err)
	}
}

func TestTrigger_SkipsWhileRunning(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	var runs atomic.Int32
	if err := s.Add("slow", PollSpec, func(context.Context) error {
		if runs.Add(1) == 1 {
			close(started)
		}
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	go func() { _ = s.Trigger("slow") }()
	<-started

	done := make(chan struct{})
	go func() {
		_ = s.Trigger("slow")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping trigger blocked instead of skipping")
	}
	close(release)

	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

func TestStop_CancelsJobContext(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	var sawCancel atomic.Bool
	started := make(chan struct{})
	if err := s.Add("wait", PollSpec, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		sawCancel.Store(true)
		return ctx.Err()
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()

	go func() { _ = s.Trigger("wait") }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	deadline := time.After(2 * time.Second)
	for !sawCancel.Load() {
		select {
		case <-deadline:
			t.Fatal("job context never cancelled")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStop_WaitsForTriggeredRun(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	var finished atomic.Bool
	started := make(chan struct{})
	if err := s.Add("poll", PollSpec, func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()

	go func() { _ = s.Trigger("poll") }()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !finished.Load() {
		t.Error("Stop returned before the triggered run finished")
	}
}

func TestStop_DeadlineWithStuckTriggeredRun(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	release := make(chan struct{})
	started := make(chan struct{})
	if err := s.Add("poll", PollSpec, func(context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()

	go func() { _ = s.Trigger("poll") }()
	<-started
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Stop err = %v, want deadline exceeded", err)
	}
}

func TestTrigger_AfterStop(t *testing.T) {
	t.Parallel()

	s := New(log.Nop())
	var runs atomic.Int32
	if err := s.Add("poll", PollSpec, func(context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	s.Start()
	if err := s.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := s.Trigger("poll"); !errors.Is(err, ErrStopped) {
		t.Errorf("Trigger after Stop err = %v, want ErrStopped", err)
	}
	if runs.Load() != 0 {
		t.Errorf("runs = %d, want 0", runs.Load())
	}
}
