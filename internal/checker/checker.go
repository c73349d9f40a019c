// Package checker runs the directory checks behind notifications. The
// scheduled pass, the /check command, the confirmation after a new watch
// and the silent catch-up on process start all share one engine; a policy
// table holds what actually differs between them.
package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"places_bot/internal/model"
	"places_bot/internal/notifier"
	"places_bot/internal/pipeline"
	"places_bot/internal/storage"
)

const (
	// defaultWindow bounds a check that has no cursor to start from.
	defaultWindow = 24 * time.Hour
	// maxScheduledWindow caps how far back a scheduled check reaches after a
	// long gap. Records older than the cap are skipped, not fetched.
	maxScheduledWindow = 7 * 24 * time.Hour
	// minManualReport is how many records a manual check tries to show
	// before giving up on older history.
	minManualReport = 5
	// justAddedReport caps the confirmation sent for a new watch.
	justAddedReport = 5
)

// backfillLadder holds the lookbacks a manual check walks through when the
// first pass comes up short. The last rung is the historical floor.
var backfillLadder = []time.Duration{
	7 * 24 * time.Hour,
	30 * 24 * time.Hour,
	90 * 24 * time.Hour,
}

// Mode identifies who asked for a check and selects its policy.
type Mode int

const (
	ModeScheduled Mode = iota
	ModeManual
	ModeJustAdded
	ModeStartup
)

func (m Mode) String() string {
	switch m {
	case ModeScheduled:
		return "scheduled"
	case ModeManual:
		return "manual"
	case ModeJustAdded:
		return "just_added"
	case ModeStartup:
		return "startup"
	default:
		return "unknown"
	}
}

// policy captures how one mode differs from the others.
type policy struct {
	backfill        bool // extend the window while the report is thin
	deliver         bool // hand survivors to the dispatcher
	surface         bool // failures abort the check and reach the caller
	advanceSub      bool // move the subscriber cursor after success
	partialCoverage bool // the watch set may be a subset of the subscriber's
	reportCap       int  // 0 means unlimited
}

var policies = map[Mode]policy{
	ModeScheduled: {deliver: true, advanceSub: true, partialCoverage: true},
	ModeManual:    {backfill: true, surface: true, advanceSub: true},
	ModeJustAdded: {surface: true, reportCap: justAddedReport},
	ModeStartup:   {advanceSub: true},
}

// Fetcher retrieves the events of a watch since a point in time.
type Fetcher interface {
	Fetch(ctx context.Context, w model.Watch, since time.Time) ([]model.Event, error)
}

// Report is what an explicit check hands back to the command layer.
type Report struct {
	Events []model.Event
}

// Checker runs directory checks one subscriber at a time. A single Checker
// is shared by the scheduler and the command handlers.
type Checker struct {
	store    storage.Storage
	fetcher  Fetcher
	pipe     *pipeline.Pipeline
	dispatch *notifier.Dispatcher
	log      *slog.Logger
}

// New creates a Checker.
func New(store storage.Storage, fetcher Fetcher, pipe *pipeline.Pipeline, dispatch *notifier.Dispatcher, log *slog.Logger) *Checker {
	return &Checker{
		store:    store,
		fetcher:  fetcher,
		pipe:     pipe,
		dispatch: dispatch,
		log:      log,
	}
}

// RunScheduled checks the due watches of one subscriber. Failures are
// logged and swallowed; cursors stay put for anything that failed, so the
// next tick covers the same window again.
func (c *Checker) RunScheduled(ctx context.Context, sub model.Subscriber, due []model.Watch) {
	if len(due) == 0 {
		return
	}
	c.run(ctx, ModeScheduled, sub, due)
}

// RunManual checks every watch of the chat right away. When recent activity
// alone yields fewer than five records, the check reaches further back in
// steps until it has five or runs out of history.
func (c *Checker) RunManual(ctx context.Context, chatID int64) (*Report, error) {
	sub, err := c.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return nil, err
	}
	watches, err := c.store.ListWatches(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if len(watches) == 0 {
		return &Report{}, nil
	}
	return c.run(ctx, ModeManual, *sub, watches)
}

// RunJustAdded confirms a newly created watch with up to five records from
// the last day. The window is never extended: a quiet place yields a short
// or empty report.
func (c *Checker) RunJustAdded(ctx context.Context, chatID, watchID int64) (*Report, error) {
	sub, err := c.store.GetSubscriber(ctx, chatID)
	if err != nil {
		return nil, err
	}
	w, err := c.store.GetWatch(ctx, watchID)
	if err != nil {
		return nil, err
	}
	if w.ChatID != chatID {
		return nil, fmt.Errorf("watch %d does not belong to chat %d", watchID, chatID)
	}
	return c.run(ctx, ModeJustAdded, *sub, []model.Watch{*w})
}

// RunStartupPass walks every active subscriber once, marking whatever the
// recent window holds without delivering any of it. Activity from the
// downtime window is absorbed silently and notifications resume with the
// next scheduled pass.
func (c *Checker) RunStartupPass(ctx context.Context) error {
	subs, err := c.store.ListActiveSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}
	for _, sub := range subs {
		if err := ctx.Err(); err != nil {
			return err
		}
		watches, err := c.store.ListWatches(ctx, sub.ChatID)
		if err != nil {
			c.log.Error("list watches", "chat_id", sub.ChatID, "error", err)
			continue
		}
		if len(watches) == 0 {
			continue
		}
		rep, _ := c.run(ctx, ModeStartup, sub, watches)
		if rep != nil && len(rep.Events) > 0 {
			c.log.Info("startup pass suppressed events", "chat_id", sub.ChatID, "count", len(rep.Events))
		}
	}
	return nil
}

// run executes one check over the given watches under the mode's policy.
func (c *Checker) run(ctx context.Context, mode Mode, sub model.Subscriber, watches []model.Watch) (*Report, error) {
	pol := policies[mode]
	now := time.Now().UTC()
	log := c.log.With("check_id", uuid.NewString(), "chat_id", sub.ChatID, "mode", mode)

	var (
		report    []model.Event
		succeeded []int64
		failed    int
		// decided holds every record id a fetch has already returned, so
		// backfill rounds evaluate only records the check has not met yet.
		decided       = make(map[string]struct{})
		defaultDue    bool
		defaultFailed bool
	)

	for _, w := range watches {
		if err := ctx.Err(); err != nil {
			if pol.surface {
				return nil, err
			}
			return &Report{Events: pipeline.Order(report)}, nil
		}
		onDefault := w.IntervalMinutes == nil
		if onDefault {
			defaultDue = true
		}
		since := c.firstSince(mode, sub, w, now)
		fresh, err := c.checkWatch(ctx, log, sub, w, since, decided, pol, false)
		if err != nil {
			if pol.surface {
				return nil, fmt.Errorf("check %q: %w", w.Name, err)
			}
			log.Error("check watch", "watch_id", w.ID, "error", err)
			failed++
			if onDefault {
				defaultFailed = true
			}
			continue
		}
		report = append(report, fresh...)
		succeeded = append(succeeded, w.ID)
	}

	backfilled := false
	if pol.backfill && len(report) < minManualReport {
		backfilled = true
		covered := c.firstSince(mode, sub, watches[0], now)
		for _, lookback := range backfillLadder {
			since := now.Add(-lookback)
			if !since.Before(covered) {
				continue
			}
			for _, w := range watches {
				fresh, err := c.checkWatch(ctx, log, sub, w, since, decided, pol, true)
				if err != nil {
					return nil, fmt.Errorf("check %q: %w", w.Name, err)
				}
				report = append(report, fresh...)
			}
			covered = since
			if len(report) >= minManualReport {
				break
			}
		}
	}

	report = pipeline.Order(report)
	// Everything the first window yielded is owed to the user; only history
	// pulled in to pad a thin report is trimmed back to the target.
	if backfilled && len(report) > minManualReport {
		report = report[:minManualReport]
	}
	if pol.reportCap > 0 && len(report) > pol.reportCap {
		report = report[:pol.reportCap]
	}

	// Cursors advance only over windows the check actually covered.
	for _, id := range succeeded {
		if err := c.store.SetLastChecked(ctx, id, now); err != nil {
			log.Error("update watch cursor", "watch_id", id, "error", err)
		}
	}
	if pol.advanceSub {
		ok := failed == 0
		if pol.partialCoverage {
			// Watches on the subscriber default share cursor and cadence,
			// so they are always due together: seeing one in the batch
			// means every reader of the subscriber cursor is in it.
			ok = defaultDue && !defaultFailed
		}
		if ok {
			if err := c.store.SetLastPolled(ctx, sub.ChatID, now); err != nil {
				log.Error("update subscriber cursor", "chat_id", sub.ChatID, "error", err)
			}
		}
	}

	return &Report{Events: report}, nil
}

// checkWatch fetches one watch's window and runs the result through the
// dedup pipeline. Backfill rounds skip records an earlier round has already
// returned and keep the earlier partition.
func (c *Checker) checkWatch(ctx context.Context, log *slog.Logger, sub model.Subscriber, w model.Watch, since time.Time, decided map[string]struct{}, pol policy, backfillRound bool) ([]model.Event, error) {
	events, err := c.fetcher.Fetch(ctx, w, since)
	if err != nil {
		return nil, err
	}
	candidates := events
	if backfillRound {
		candidates = excludeDecided(events, decided)
	}
	remember(decided, events)

	class := w.NotifyClass(sub)
	var fresh []model.Event
	if backfillRound {
		fresh, err = c.pipe.Backfill(ctx, sub.ChatID, candidates, class)
	} else {
		fresh, err = c.pipe.Process(ctx, sub.ChatID, candidates, class)
	}
	if err != nil {
		return nil, err
	}
	log.Debug("checked watch", "watch_id", w.ID, "since", since, "fetched", len(events), "fresh", len(fresh))

	if pol.deliver && len(fresh) > 0 {
		if err := c.dispatch.Deliver(ctx, sub.ChatID, fresh); err != nil {
			// Seen marks already stand; an interrupted send is dropped.
			log.Error("deliver events", "watch_id", w.ID, "error", err)
		} else {
			log.Info("delivered events", "watch_id", w.ID, "count", len(fresh))
		}
	}
	return fresh, nil
}

// firstSince picks the start of the first fetch window for a watch.
func (c *Checker) firstSince(mode Mode, sub model.Subscriber, w model.Watch, now time.Time) time.Time {
	switch mode {
	case ModeManual:
		if sub.LastPolledAt != nil {
			return sub.LastPolledAt.UTC()
		}
		return now.Add(-defaultWindow)
	case ModeScheduled:
		if ref := w.Reference(sub); ref != nil {
			since := ref.UTC()
			if floor := now.Add(-maxScheduledWindow); since.Before(floor) {
				return floor
			}
			return since
		}
		return now.Add(-defaultWindow)
	default:
		return now.Add(-defaultWindow)
	}
}

func excludeDecided(events []model.Event, decided map[string]struct{}) []model.Event {
	kept := events[:0:0]
	for _, e := range events {
		if _, ok := decided[e.ID]; !ok {
			kept = append(kept, e)
		}
	}
	return kept
}

func remember(decided map[string]struct{}, events []model.Event) {
	for _, e := range events {
		decided[e.ID] = struct{}{}
	}
}
