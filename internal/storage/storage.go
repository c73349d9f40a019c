// Package storage defines the persistence interface and its implementations.
package storage

import (
	"context"
	"time"

	"places_bot/internal/model"
)

// Storage is the interface for all persistence operations.
type Storage interface {
	UpsertSubscriber(ctx context.Context, sub *model.Subscriber) error
	GetSubscriber(ctx context.Context, chatID int64) (*model.Subscriber, error)
	ListActiveSubscribers(ctx context.Context) ([]model.Subscriber, error)
	SetSubscriberActive(ctx context.Context, chatID int64, active bool) error
	SetDefaultInterval(ctx context.Context, chatID int64, minutes int) error
	SetDefaultClass(ctx context.Context, chatID int64, class model.NotifyClass) error
	SetLastPolled(ctx context.Context, chatID int64, t time.Time) error

	CreateWatch(ctx context.Context, w *model.Watch) error
	GetWatch(ctx context.Context, id int64) (*model.Watch, error)
	ListWatches(ctx context.Context, chatID int64) ([]model.Watch, error)
	DeleteWatch(ctx context.Context, id int64) error
	SetWatchInterval(ctx context.Context, id int64, minutes *int) error
	SetWatchClass(ctx context.Context, id int64, class *model.NotifyClass) error
	SetLastChecked(ctx context.Context, id int64, t time.Time) error

	// SeenIDs returns which of the given record IDs already have a seen mark
	// for the chat, in a single read.
	SeenIDs(ctx context.Context, chatID int64, ids []string) (map[string]struct{}, error)
	// MarkSeen inserts seen marks for the given record IDs in one transaction
	// and returns the IDs this call actually inserted. An ID whose mark
	// already exists is skipped, never an error.
	MarkSeen(ctx context.Context, chatID int64, ids []string) ([]string, error)

	Close() error
}
