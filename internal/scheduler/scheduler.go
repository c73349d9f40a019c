// Package scheduler drives the background check loop. A fixed-tick cron
// entry computes which watches are due and a small worker pool runs one
// subscriber's batch per job, so a slow directory response never stalls the
// tick itself.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"places_bot/internal/model"
	"places_bot/internal/storage"
)

// Runner executes the scheduled check for one subscriber's due watches.
type Runner interface {
	RunScheduled(ctx context.Context, sub model.Subscriber, due []model.Watch)
}

// job is one subscriber's due batch. Grouping by subscriber keeps a chat's
// watches on a single worker at a time.
type job struct {
	sub model.Subscriber
	due []model.Watch
}

// Scheduler owns the tick loop and the worker pool.
type Scheduler struct {
	store   storage.Storage
	runner  Runner
	log     *slog.Logger
	tick    time.Duration
	workers int
	jobs    chan job
}

// New creates a Scheduler that looks for due watches every tick and runs
// them on the given number of workers.
func New(store storage.Storage, runner Runner, tick time.Duration, workers int, log *slog.Logger) *Scheduler {
	if workers < 1 {
		workers = 1
	}
	return &Scheduler{
		store:   store,
		runner:  runner,
		log:     log,
		tick:    tick,
		workers: workers,
		jobs:    make(chan job, workers*4),
	}
}

// Run starts the loop and blocks until ctx is cancelled. The first pass
// happens immediately. On shutdown the workers finish the subscriber they
// are on before Run returns.
func (s *Scheduler) Run(ctx context.Context) {
	c := cron.New()
	if _, err := c.AddFunc("@every "+s.tick.String(), func() { s.enqueueDue(ctx) }); err != nil {
		s.log.Error("add cron entry", "tick", s.tick, "error", err)
		return
	}

	var wg sync.WaitGroup
	wg.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		go func() {
			defer wg.Done()
			s.worker(ctx)
		}()
	}
	s.log.Info("scheduler started", "tick", s.tick, "workers", s.workers)

	s.enqueueDue(ctx)
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	wg.Wait()
	s.log.Info("scheduler stopped")
}

// enqueueDue hands one job per subscriber with due watches to the pool. A
// full queue drops the batch: the watches stay due, so the next tick offers
// them again.
func (s *Scheduler) enqueueDue(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	subs, err := s.store.ListActiveSubscribers(ctx)
	if err != nil {
		s.log.Error("list subscribers", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, sub := range subs {
		watches, err := s.store.ListWatches(ctx, sub.ChatID)
		if err != nil {
			s.log.Error("list watches", "chat_id", sub.ChatID, "error", err)
			continue
		}
		due := DueWatches(sub, watches, now)
		if len(due) == 0 {
			continue
		}
		select {
		case s.jobs <- job{sub: sub, due: due}:
			s.log.Debug("enqueued check", "chat_id", sub.ChatID, "due", len(due))
		default:
			s.log.Warn("job queue full, skipping subscriber", "chat_id", sub.ChatID, "due", len(due))
		}
	}
}

func (s *Scheduler) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			s.runner.RunScheduled(ctx, j.sub, j.due)
		}
	}
}

// DueWatches returns the watches that are due at now.
func DueWatches(sub model.Subscriber, watches []model.Watch, now time.Time) []model.Watch {
	var due []model.Watch
	for _, w := range watches {
		if IsDue(sub, w, now) {
			due = append(due, w)
		}
	}
	return due
}

// IsDue reports whether a watch is due: it has never been covered, or its
// effective interval has elapsed since its reference cursor. Overrides are
// resolved at call time, so cadence changes apply on the next tick.
func IsDue(sub model.Subscriber, w model.Watch, now time.Time) bool {
	ref := w.Reference(sub)
	if ref == nil {
		return true
	}
	return now.Sub(*ref) >= w.Interval(sub)
}
