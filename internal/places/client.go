// Package places talks to the community places directory: the JSON API for
// place search and area event queries, and the per-place RSS activity feeds.
package places

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"
)

const (
	userAgent   = "PlacesWatchBot/1.0"
	maxBodySize = 5 * 1024 * 1024
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Place is one directory entry as returned by search.
type Place struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Kind string  `json:"kind"`
}

// Event is one raw directory event as returned by the events API. Kind is the
// directory's own vocabulary (place_added, place_removed, comment, ...).
type Event struct {
	ID        string    `json:"id"`
	PlaceID   string    `json:"place_id"`
	PlaceName string    `json:"place_name"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// Client accesses the places directory service.
type Client struct {
	baseURL string
	http    HTTPClient

	// Retry tuning, overridden in tests.
	retries uint64
	backoff time.Duration
}

// New creates a Client for the directory at baseURL.
func New(baseURL string, client HTTPClient) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
		retries: 2,
		backoff: 500 * time.Millisecond,
	}
}

// SearchPlaces looks up places by name.
func (c *Client) SearchPlaces(ctx context.Context, query string) ([]Place, error) {
	u := c.baseURL + "/api/v1/places?q=" + url.QueryEscape(query)
	var out struct {
		Places []Place `json:"places"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Places, nil
}

// AreaEvents returns directory events inside the given circle since the given
// instant. Filtering happens server-side via query parameters.
func (c *Client) AreaEvents(ctx context.Context, lat, lon, radiusKM float64, since time.Time) ([]Event, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("radius_km", strconv.FormatFloat(radiusKM, 'f', -1, 64))
	q.Set("since", since.UTC().Format(time.RFC3339))
	u := c.baseURL + "/api/v1/events?" + q.Encode()

	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.getJSON(ctx, u, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// PlaceFeed downloads and parses the activity feed for one place. The feed
// carries the full recent history; callers cut it down by published time.
func (c *Client) PlaceFeed(ctx context.Context, placeID string) (*gofeed.Feed, error) {
	u := fmt.Sprintf("%s/places/%s/feed", c.baseURL, url.PathEscape(placeID))
	var feed *gofeed.Feed
	err := c.withRetry(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx, u, "application/rss+xml")
		if err != nil {
			return err
		}
		parsed, err := gofeed.NewParser().ParseString(string(body))
		if err != nil {
			return &FetchError{URL: u, Err: fmt.Errorf("parse feed: %w", err)}
		}
		feed = parsed
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feed, nil
}

func (c *Client) getJSON(ctx context.Context, u string, v any) error {
	return c.withRetry(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx, u, "application/json")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, v); err != nil {
			return &FetchError{URL: u, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	})
}

func (c *Client) get(ctx context.Context, u, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &FetchError{URL: u, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, &FetchError{URL: u, Status: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &FetchError{URL: u, Err: fmt.Errorf("read body: %w", err)}
	}
	return body, nil
}

// withRetry runs f, retrying transient failures with fibonacci backoff.
func (c *Client) withRetry(ctx context.Context, f func(ctx context.Context) error) error {
	b := retry.WithMaxRetries(c.retries, retry.NewFibonacci(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := f(ctx)
		var fe *FetchError
		if errors.As(err, &fe) && fe.retryable() {
			return retry.RetryableError(err)
		}
		return err
	})
}
