package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	logx "quakebot/pkg/logx"
)

const sampleFeed = `{
  "type": "FeatureCollection",
  "features": [
    {"id": "us7000abcd", "properties": {"time": 1700000000000, "place": "10 km NW of Town", "mag": 6.1, "url": "https://earthquake.usgs.gov/earthquakes/eventpage/us7000abcd"}, "geometry": {"coordinates": [-70.1, -20.5, 10]}},
    {"id": "ak0001", "properties": {"time": 1700000001000, "place": "Southern Alaska", "mag": null, "url": "https://example.test/ak0001"}, "geometry": {"coordinates": [-150.2, 61.3, 30]}},
    {"id": "nc0002", "properties": {"time": 1700000002000, "place": "Somewhere", "url": "https://example.test/nc0002"}, "geometry": {"coordinates": [-122, 37]}},
    {"id": "bad1", "properties": {"place": "No time", "mag": 5.5, "url": "https://example.test/bad1"}, "geometry": {"coordinates": [1, 2]}},
    {"id": "bad2", "properties": {"time": 1, "place": "One coord", "mag": 5.5, "url": "https://example.test/bad2"}, "geometry": {"coordinates": [1]}},
    {"properties": {"time": 1, "place": "No id", "mag": 5.5, "url": "https://example.test"}, "geometry": {"coordinates": [1, 2]}},
    {"id": "bad3", "properties": {"time": "yesterday", "place": "X", "url": "https://example.test"}, "geometry": {"coordinates": [1, 2]}}
  ]
}`

func newTestFetcher(url string) *Fetcher {
	return NewFetcher(Config{URL: url, Timeout: 2 * time.Second, UserAgent: "quakebot-test"}, nil, logx.Nop())
}

func TestFetchParsesFeatures(t *testing.T) {
	t.Parallel()
	uaCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case uaCh <- r.Header.Get("User-Agent"):
		default:
		}
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	snap, err := newTestFetcher(srv.URL).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch error: %v", err)
	}
	if gotUA := <-uaCh; gotUA != "quakebot-test" {
		t.Fatalf("User-Agent = %q", gotUA)
	}
	if len(snap.Events) != 3 {
		t.Fatalf("len(Events) = %d, want 3", len(snap.Events))
	}
	if len(snap.Rejected) != 4 {
		t.Fatalf("len(Rejected) = %d, want 4", len(snap.Rejected))
	}

	ev := snap.Events[0]
	if ev.ID != "us7000abcd" || ev.Place != "10 km NW of Town" || ev.OccurredAtMillis != 1700000000000 {
		t.Fatalf("unexpected first event: %+v", ev)
	}
	if ev.Magnitude == nil || *ev.Magnitude != 6.1 {
		t.Fatalf("Magnitude = %v, want 6.1", ev.Magnitude)
	}
	if ev.Longitude != -70.1 || ev.Latitude != -20.5 {
		t.Fatalf("coords = (%v,%v)", ev.Longitude, ev.Latitude)
	}
	if snap.Events[1].Magnitude != nil || snap.Events[2].Magnitude != nil {
		t.Fatal("null or absent mag must decode as nil")
	}
	if snap.Rejected[0].ID != "bad1" || snap.Rejected[0].Index != 3 {
		t.Fatalf("unexpected rejection: %+v", snap.Rejected[0])
	}
}

func TestFetchNon2xx(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.URL).Fetch(context.Background())
	if !errors.Is(err, ErrFeedUnavailable) {
		t.Fatalf("err = %v, want ErrFeedUnavailable", err)
	}
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Status != http.StatusServiceUnavailable {
		t.Fatalf("err = %#v, want status 503", err)
	}
}

func TestFetchTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestFetcher(url).Fetch(context.Background())
	var ue *UnavailableError
	if !errors.As(err, &ue) || ue.Status != 0 {
		t.Fatalf("err = %v, want transport UnavailableError", err)
	}
}

func TestFetchMalformedBody(t *testing.T) {
	t.Parallel()
	bodies := map[string]string{
		"not json":    "<html>oops</html>",
		"no features": `{"type":"FeatureCollection"}`,
		"array":       `[1,2,3]`,
	}
	for name, body := range bodies {
		body := body
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := newTestFetcher(srv.URL).Fetch(context.Background())
			if !errors.Is(err, ErrFeedParse) {
				t.Fatalf("err = %v, want ErrFeedParse", err)
			}
		})
	}
}

func TestFetchBodyLimit(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"features":[` + strings.Repeat(" ", 2048) + `]}`))
	}))
	defer srv.Close()

	f := NewFetcher(Config{URL: srv.URL, MaxBytes: 1024}, nil, logx.Nop())
	if _, err := f.Fetch(context.Background()); !errors.Is(err, ErrFeedParse) {
		t.Fatalf("err = %v, want ErrFeedParse", err)
	}
}

func TestParseEmptyFeatures(t *testing.T) {
	t.Parallel()
	snap, err := Parse([]byte(`{"features":[]}`))
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if len(snap.Events) != 0 || len(snap.Rejected) != 0 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
