// Package fetcher retrieves directory activity for a watch and normalizes it
// into the common event shape.
package fetcher

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"

	"places_bot/internal/model"
	"places_bot/internal/places"
)

// Directory is the slice of the places client used by the fetcher.
type Directory interface {
	AreaEvents(ctx context.Context, lat, lon, radiusKM float64, since time.Time) ([]places.Event, error)
	PlaceFeed(ctx context.Context, placeID string) (*gofeed.Feed, error)
}

// Fetcher turns a watch into a normalized event list. It holds no dedup or
// notification-class logic; it only guarantees stable IDs, mapped categories
// and UTC timestamps.
type Fetcher struct {
	dir Directory
}

// New creates a Fetcher over the given directory client.
func New(dir Directory) *Fetcher {
	return &Fetcher{dir: dir}
}

// Fetch returns the watch's events created after since.
func (f *Fetcher) Fetch(ctx context.Context, w model.Watch, since time.Time) ([]model.Event, error) {
	switch w.Kind {
	case model.KindPlace:
		return f.fetchPlace(ctx, w, since)
	case model.KindArea:
		return f.fetchArea(ctx, w, since)
	default:
		return nil, fmt.Errorf("unknown watch kind %q", w.Kind)
	}
}

func (f *Fetcher) fetchArea(ctx context.Context, w model.Watch, since time.Time) ([]model.Event, error) {
	raw, err := f.dir.AreaEvents(ctx, w.Lat, w.Lon, w.RadiusKM, since)
	if err != nil {
		return nil, err
	}
	events := make([]model.Event, 0, len(raw))
	for _, e := range raw {
		events = append(events, model.Event{
			ID:        e.ID,
			PlaceID:   e.PlaceID,
			PlaceName: e.PlaceName,
			Title:     e.Title,
			Category:  mapKind(e.Kind),
			Link:      e.URL,
			CreatedAt: e.CreatedAt.UTC(),
		})
	}
	return events, nil
}

func (f *Fetcher) fetchPlace(ctx context.Context, w model.Watch, since time.Time) ([]model.Event, error) {
	feed, err := f.dir.PlaceFeed(ctx, w.PlaceID)
	if err != nil {
		return nil, err
	}
	// The feed carries the full recent history; the since cut happens here.
	var events []model.Event
	for _, item := range feed.Items {
		created := itemTime(item)
		if !created.After(since) {
			continue
		}
		events = append(events, model.Event{
			ID:        ItemGUID(item),
			PlaceID:   w.PlaceID,
			PlaceName: w.Name,
			Title:     item.Title,
			Category:  itemCategory(item),
			Link:      item.Link,
			CreatedAt: created,
		})
	}
	return events, nil
}

// ItemGUID returns the stable ID for a feed item.
// If the item has no GUID, a SHA-256 hash of title+link is used.
func ItemGUID(item *gofeed.Item) string {
	if item.GUID != "" {
		return item.GUID
	}
	h := sha256.Sum256([]byte(item.Title + "|" + item.Link))
	return fmt.Sprintf("sha256:%x", h[:16])
}

func itemCategory(item *gofeed.Item) model.EventCategory {
	if len(item.Categories) == 0 {
		return model.CategoryOther
	}
	return mapKind(item.Categories[0])
}

func mapKind(kind string) model.EventCategory {
	switch kind {
	case "place_added":
		return model.CategoryAddition
	case "place_removed":
		return model.CategoryRemoval
	case "comment":
		return model.CategoryComment
	}
	return model.CategoryOther
}

// itemTime picks the item's timestamp in UTC. Items without one count as
// fresh; the seen mark still bounds them to a single evaluation.
func itemTime(item *gofeed.Item) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return time.Now().UTC()
}
