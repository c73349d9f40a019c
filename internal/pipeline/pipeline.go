// Package pipeline decides which fetched events a chat actually gets to see:
// it drops already-seen events, durably marks everything it observed, applies
// the notification class and orders the survivors.
package pipeline

import (
	"context"
	"fmt"
	"sort"

	"places_bot/internal/model"
	"places_bot/internal/storage"
)

// Pipeline applies the seen/unseen partition and the notification class to
// fetched event batches, one chat at a time.
type Pipeline struct {
	store storage.Storage
	locks chatLocks
}

// New creates a Pipeline on top of the given store.
func New(store storage.Storage) *Pipeline {
	return &Pipeline{store: store}
}

// Process runs the full sequence for one batch: a single read partitions the
// batch into seen and unseen, every unseen event gets a durable mark (the
// class filter never exempts an event from its mark), and the survivors are
// the marks this call won, filtered by class and sorted newest first.
//
// No two calls for the same chat run their read-then-mark section at once.
// Fetches may overlap freely; marks apply serially per chat.
func (p *Pipeline) Process(ctx context.Context, chatID int64, events []model.Event, class model.NotifyClass) ([]model.Event, error) {
	events = dedupeByID(events)
	if len(events) == 0 {
		return nil, nil
	}

	lock := p.locks.get(chatID)
	lock.Lock()
	seen, err := p.store.SeenIDs(ctx, chatID, eventIDs(events))
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("partition events: %w", err)
	}
	var unseen []model.Event
	for _, e := range events {
		if _, ok := seen[e.ID]; !ok {
			unseen = append(unseen, e)
		}
	}
	winners, err := p.mark(ctx, chatID, unseen)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	return Order(Filter(winners, class)), nil
}

// Backfill handles the extension rounds of a manual check: the partition from
// the first pass stands, so there is no fresh read. The insert itself tells
// new marks apart from records some earlier check already observed; lost
// inserts drop out silently.
func (p *Pipeline) Backfill(ctx context.Context, chatID int64, events []model.Event, class model.NotifyClass) ([]model.Event, error) {
	events = dedupeByID(events)
	if len(events) == 0 {
		return nil, nil
	}

	lock := p.locks.get(chatID)
	lock.Lock()
	winners, err := p.mark(ctx, chatID, events)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	return Order(Filter(winners, class)), nil
}

func (p *Pipeline) mark(ctx context.Context, chatID int64, events []model.Event) ([]model.Event, error) {
	if len(events) == 0 {
		return nil, nil
	}
	inserted, err := p.store.MarkSeen(ctx, chatID, eventIDs(events))
	if err != nil {
		return nil, fmt.Errorf("mark seen: %w", err)
	}
	won := make(map[string]struct{}, len(inserted))
	for _, id := range inserted {
		won[id] = struct{}{}
	}
	var winners []model.Event
	for _, e := range events {
		// A lost insert means another check observed the record first.
		if _, ok := won[e.ID]; ok {
			winners = append(winners, e)
		}
	}
	return winners, nil
}

// Filter keeps the events the notification class allows.
func Filter(events []model.Event, class model.NotifyClass) []model.Event {
	var kept []model.Event
	for _, e := range events {
		if class.Includes(e.Category) {
			kept = append(kept, e)
		}
	}
	return kept
}

// Order sorts events newest first. Equal timestamps keep their input order.
func Order(events []model.Event) []model.Event {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt.After(events[j].CreatedAt)
	})
	return events
}

func dedupeByID(events []model.Event) []model.Event {
	if len(events) < 2 {
		return events
	}
	seen := make(map[string]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}

func eventIDs(events []model.Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	return ids
}
