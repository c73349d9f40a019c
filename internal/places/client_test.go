package places

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type mockTransport struct {
	body       string
	statusCode int
	err        error
	calls      int
	gotURL     string
}

func (m *mockTransport) Do(req *http.Request) (*http.Response, error) {
	m.calls++
	m.gotURL = req.URL.String()
	if m.err != nil {
		return nil, m.err
	}
	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

// flakyTransport fails the first n calls with a 503, then succeeds.
type flakyTransport struct {
	failures int
	body     string
	calls    int
}

func (m *flakyTransport) Do(_ *http.Request) (*http.Response, error) {
	m.calls++
	if m.calls <= m.failures {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(bytes.NewBufferString("unavailable")),
		}, nil
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(m.body)),
	}, nil
}

func newTestClient(transport HTTPClient) *Client {
	c := New("https://places.example.org/", transport)
	c.retries = 0
	c.backoff = time.Millisecond
	return c
}

func loadFixture(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path) //nolint:gosec // test-only fixture loading
	if err != nil {
		t.Fatalf("read fixture %s: %v", path, err)
	}
	return string(data)
}

func TestSearchPlaces(t *testing.T) {
	searchJSON := `{"places":[
		{"id":"p-1","name":"North Orchard","lat":52.5,"lon":13.4,"kind":"orchard"},
		{"id":"p-2","name":"North Meadow","lat":52.6,"lon":13.3,"kind":"meadow"}
	]}`

	tests := []struct {
		name      string
		transport *mockTransport
		want      []Place
		wantErr   bool
	}{
		{
			name:      "two results",
			transport: &mockTransport{body: searchJSON, statusCode: 200},
			want: []Place{
				{ID: "p-1", Name: "North Orchard", Lat: 52.5, Lon: 13.4, Kind: "orchard"},
				{ID: "p-2", Name: "North Meadow", Lat: 52.6, Lon: 13.3, Kind: "meadow"},
			},
		},
		{
			name:      "empty results",
			transport: &mockTransport{body: `{"places":[]}`, statusCode: 200},
			want:      []Place{},
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "oops", statusCode: 404},
			wantErr:   true,
		},
		{
			name:      "network error",
			transport: &mockTransport{err: io.ErrUnexpectedEOF},
			wantErr:   true,
		},
		{
			name:      "invalid json",
			transport: &mockTransport{body: "not json", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(tt.transport)
			got, err := c.SearchPlaces(context.Background(), "north")

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var fe *FetchError
				if !errors.As(err, &fe) {
					t.Fatalf("expected FetchError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("places mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchPlacesEscapesQuery(t *testing.T) {
	m := &mockTransport{body: `{"places":[]}`, statusCode: 200}
	c := newTestClient(m)
	if _, err := c.SearchPlaces(context.Background(), "old cherry"); err != nil {
		t.Fatalf("search: %v", err)
	}
	want := "https://places.example.org/api/v1/places?q=old+cherry"
	if diff := cmp.Diff(want, m.gotURL); diff != "" {
		t.Errorf("request URL mismatch (-want +got):\n%s", diff)
	}
}

func TestAreaEvents(t *testing.T) {
	eventsJSON := `{"events":[
		{"id":"evt-1","place_id":"p-1","place_name":"North Orchard","kind":"place_added",
		 "title":"North Orchard was added","url":"https://places.example.org/places/p-1",
		 "created_at":"2025-08-20T10:00:00Z"}
	]}`
	m := &mockTransport{body: eventsJSON, statusCode: 200}
	c := newTestClient(m)

	since := time.Date(2025, 8, 19, 0, 0, 0, 0, time.UTC)
	got, err := c.AreaEvents(context.Background(), 52.52, 13.405, 2.5, since)
	if err != nil {
		t.Fatalf("area events: %v", err)
	}

	want := []Event{{
		ID:        "evt-1",
		PlaceID:   "p-1",
		PlaceName: "North Orchard",
		Kind:      "place_added",
		Title:     "North Orchard was added",
		URL:       "https://places.example.org/places/p-1",
		CreatedAt: time.Date(2025, 8, 20, 10, 0, 0, 0, time.UTC),
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("events mismatch (-want +got):\n%s", diff)
	}

	wantURL := "https://places.example.org/api/v1/events?lat=52.52&lon=13.405&radius_km=2.5&since=2025-08-19T00%3A00%3A00Z"
	if diff := cmp.Diff(wantURL, m.gotURL); diff != "" {
		t.Errorf("request URL mismatch (-want +got):\n%s", diff)
	}
}

func TestPlaceFeed(t *testing.T) {
	xml := loadFixture(t, "../../testdata/place_feed.xml")

	tests := []struct {
		name      string
		transport *mockTransport
		wantTitle string
		wantItems int
		wantErr   bool
	}{
		{
			name:      "successful fetch",
			transport: &mockTransport{body: xml, statusCode: 200},
			wantTitle: "Old Cherry Tree activity",
			wantItems: 4,
		},
		{
			name:      "http error status",
			transport: &mockTransport{body: "gone", statusCode: 410},
			wantErr:   true,
		},
		{
			name:      "invalid xml",
			transport: &mockTransport{body: "not xml at all", statusCode: 200},
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(tt.transport)
			feed, err := c.PlaceFeed(context.Background(), "p-4711")

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if diff := cmp.Diff(tt.wantTitle, feed.Title); diff != "" {
				t.Errorf("title mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tt.wantItems, len(feed.Items)); diff != "" {
				t.Errorf("item count mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRetryOnTransientStatus(t *testing.T) {
	m := &flakyTransport{failures: 1, body: `{"places":[]}`}
	c := newTestClient(m)
	c.retries = 2

	if _, err := c.SearchPlaces(context.Background(), "x"); err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if m.calls != 2 {
		t.Errorf("expected 2 calls, got %d", m.calls)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	m := &mockTransport{body: "nope", statusCode: 404}
	c := newTestClient(m)
	c.retries = 2

	_, err := c.SearchPlaces(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FetchError, got %T", err)
	}
	if fe.Status != 404 {
		t.Errorf("expected status 404, got %d", fe.Status)
	}
	if m.calls != 1 {
		t.Errorf("expected 1 call for non-retryable status, got %d", m.calls)
	}
}
