package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"places_bot/internal/model"
	"places_bot/internal/storage"
)

type checkCall struct {
	ChatID int64
	Due    []string
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []checkCall
}

func (f *fakeRunner) RunScheduled(_ context.Context, sub model.Subscriber, due []model.Watch) {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(due))
	for _, w := range due {
		names = append(names, w.Name)
	}
	f.calls = append(f.calls, checkCall{ChatID: sub.ChatID, Due: names})
}

func (f *fakeRunner) snapshot() []checkCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := make([]checkCall, len(f.calls))
	copy(cp, f.calls)
	return cp
}

func newTestStore(t *testing.T) *storage.SQLite {
	t.Helper()
	s, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func timePtr(t time.Time) *time.Time { return &t }

func intPtr(v int) *int { return &v }

func TestIsDue(t *testing.T) {
	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	sub := model.Subscriber{ChatID: 1, IntervalMinutes: 60, Class: model.NotifyAll, IsActive: true}
	subPolled30 := sub
	subPolled30.LastPolledAt = timePtr(now.Add(-30 * time.Minute))
	subPolled90 := sub
	subPolled90.LastPolledAt = timePtr(now.Add(-90 * time.Minute))

	tests := []struct {
		name  string
		sub   model.Subscriber
		watch model.Watch
		want  bool
	}{
		{
			name:  "never covered is due",
			sub:   sub,
			watch: model.Watch{Name: "a"},
			want:  true,
		},
		{
			name:  "default cadence elapsed",
			sub:   subPolled90,
			watch: model.Watch{Name: "a"},
			want:  true,
		},
		{
			name:  "default cadence not yet elapsed",
			sub:   subPolled30,
			watch: model.Watch{Name: "a"},
			want:  false,
		},
		{
			name: "short override beats the default",
			sub:  subPolled30,
			watch: model.Watch{
				Name:            "a",
				IntervalMinutes: intPtr(10),
				LastCheckedAt:   timePtr(now.Add(-15 * time.Minute)),
			},
			want: true,
		},
		{
			name: "short override still inside its interval",
			sub:  subPolled30,
			watch: model.Watch{
				Name:            "a",
				IntervalMinutes: intPtr(10),
				LastCheckedAt:   timePtr(now.Add(-5 * time.Minute)),
			},
			want: false,
		},
		{
			name: "long override beats the default too",
			sub:  subPolled90,
			watch: model.Watch{
				Name:            "a",
				IntervalMinutes: intPtr(120),
				LastCheckedAt:   timePtr(now.Add(-90 * time.Minute)),
			},
			want: false,
		},
		{
			name: "override watch with no cursor is due regardless of subscriber",
			sub:  subPolled30,
			watch: model.Watch{
				Name:            "a",
				IntervalMinutes: intPtr(10),
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.sub, tt.watch, now); got != tt.want {
				t.Errorf("IsDue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDueWatches(t *testing.T) {
	now := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	sub := model.Subscriber{
		ChatID:          1,
		IntervalMinutes: 60,
		Class:           model.NotifyAll,
		LastPolledAt:    timePtr(now.Add(-30 * time.Minute)),
	}
	watches := []model.Watch{
		{ID: 1, Name: "default-not-due"},
		{ID: 2, Name: "override-due", IntervalMinutes: intPtr(10), LastCheckedAt: timePtr(now.Add(-15 * time.Minute))},
		{ID: 3, Name: "override-not-due", IntervalMinutes: intPtr(10), LastCheckedAt: timePtr(now.Add(-5 * time.Minute))},
		{ID: 4, Name: "never-checked", IntervalMinutes: intPtr(30)},
	}

	got := DueWatches(sub, watches, now)
	want := []string{"override-due", "never-checked"}
	names := make([]string, 0, len(got))
	for _, w := range got {
		names = append(names, w.Name)
	}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Errorf("DueWatches() mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerRunChecksDueWatches(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sub := &model.Subscriber{ChatID: 7, IntervalMinutes: 60, Class: model.NotifyAll}
	if err := store.UpsertSubscriber(ctx, sub); err != nil {
		t.Fatalf("upsert subscriber: %v", err)
	}
	w := &model.Watch{ChatID: 7, Kind: model.KindPlace, Name: "cherry", PlaceID: "p-1"}
	if err := store.CreateWatch(ctx, w); err != nil {
		t.Fatalf("create watch: %v", err)
	}

	runner := &fakeRunner{}
	s := New(store, runner, 50*time.Millisecond, 2, newTestLogger())

	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(runCtx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for len(runner.snapshot()) == 0 {
		select {
		case <-deadline:
			cancel()
			t.Fatal("no check ran before the deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}

	call := runner.snapshot()[0]
	if call.ChatID != 7 {
		t.Errorf("checked chat %d, want 7", call.ChatID)
	}
	if diff := cmp.Diff([]string{"cherry"}, call.Due); diff != "" {
		t.Errorf("due watches mismatch (-want +got):\n%s", diff)
	}
}

func TestSchedulerSkipsFreshlyPolledSubscribers(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	sub := &model.Subscriber{ChatID: 7, IntervalMinutes: 60, Class: model.NotifyAll}
	if err := store.UpsertSubscriber(ctx, sub); err != nil {
		t.Fatalf("upsert subscriber: %v", err)
	}
	w := &model.Watch{ChatID: 7, Kind: model.KindPlace, Name: "cherry", PlaceID: "p-1"}
	if err := store.CreateWatch(ctx, w); err != nil {
		t.Fatalf("create watch: %v", err)
	}
	if err := store.SetLastPolled(ctx, 7, time.Now().UTC()); err != nil {
		t.Fatalf("set last polled: %v", err)
	}

	runner := &fakeRunner{}
	s := New(store, runner, 50*time.Millisecond, 2, newTestLogger())

	runCtx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	s.Run(runCtx)

	if calls := runner.snapshot(); len(calls) != 0 {
		t.Errorf("ran %d checks for a freshly polled subscriber, want 0", len(calls))
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	runner := &fakeRunner{}
	s := New(store, runner, 10*time.Millisecond, 1, newTestLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
