// Package model defines the domain types used across the application.
package model

import "time"

// NotifyClass selects which event categories a subscriber wants to hear about.
type NotifyClass string

// Supported notification classes.
const (
	NotifyChanges  NotifyClass = "changes" // place additions and removals
	NotifyComments NotifyClass = "comments"
	NotifyAll      NotifyClass = "all"
)

// ValidNotifyClass reports whether s names a known notification class.
func ValidNotifyClass(s string) bool {
	switch NotifyClass(s) {
	case NotifyChanges, NotifyComments, NotifyAll:
		return true
	}
	return false
}

// Includes reports whether events of the given category pass this class.
func (c NotifyClass) Includes(cat EventCategory) bool {
	switch c {
	case NotifyChanges:
		return cat == CategoryAddition || cat == CategoryRemoval
	case NotifyComments:
		return cat == CategoryComment
	case NotifyAll:
		return true
	}
	return false
}

// Subscriber is one chat with its default polling configuration.
type Subscriber struct {
	ChatID          int64
	IntervalMinutes int
	Class           NotifyClass
	IsActive        bool
	LastPolledAt    *time.Time
	CreatedAt       time.Time
}

// WatchKind distinguishes the two ways a watch identifies what it monitors.
type WatchKind string

// Supported watch kinds.
const (
	KindPlace WatchKind = "place" // a single identified place
	KindArea  WatchKind = "area"  // everything within a radius of a point
)

// Watch is one monitored place or area belonging to a subscriber.
type Watch struct {
	ID     int64
	ChatID int64
	Kind   WatchKind
	Name   string

	// Identity payload: PlaceID for KindPlace, coordinates for KindArea.
	PlaceID  string
	Lat      float64
	Lon      float64
	RadiusKM float64

	// Optional per-watch overrides; nil means inherit the subscriber default.
	IntervalMinutes *int
	Class           *NotifyClass

	LastCheckedAt *time.Time
	CreatedAt     time.Time
}

// Interval returns the effective poll interval, override before default.
// Evaluated on every call so configuration changes take effect immediately.
func (w Watch) Interval(sub Subscriber) time.Duration {
	if w.IntervalMinutes != nil {
		return time.Duration(*w.IntervalMinutes) * time.Minute
	}
	return time.Duration(sub.IntervalMinutes) * time.Minute
}

// NotifyClass returns the effective notification class, override before default.
func (w Watch) NotifyClass(sub Subscriber) NotifyClass {
	if w.Class != nil {
		return *w.Class
	}
	return sub.Class
}

// Reference returns the timestamp a due decision for this watch compares
// against: the watch's own cursor when it polls on its own cadence, else
// the subscriber's.
func (w Watch) Reference(sub Subscriber) *time.Time {
	if w.IntervalMinutes != nil {
		return w.LastCheckedAt
	}
	return sub.LastPolledAt
}

// EventCategory classifies a directory event.
type EventCategory string

// Supported event categories.
const (
	CategoryAddition EventCategory = "addition"
	CategoryRemoval  EventCategory = "removal"
	CategoryComment  EventCategory = "comment"
	CategoryOther    EventCategory = "other"
)

// Event is one change reported by the places directory. Events are transient:
// only their IDs are persisted, as seen marks.
type Event struct {
	ID        string
	PlaceID   string
	PlaceName string
	Title     string
	Category  EventCategory
	Link      string
	CreatedAt time.Time
}

// SeenRecord marks that an event ID has been observed for a chat. Rows are
// append-only; an event is never re-evaluated once a mark exists.
type SeenRecord struct {
	ChatID   int64
	RecordID string
	SeenAt   time.Time
}
