// Package feed fetches the USGS GeoJSON summary feed and turns it into
// validated quake events.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"quakebot/internal/quake"
	logx "quakebot/pkg/logx"
)

const (
	DefaultURL       = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "quakebot/1.0"
	DefaultMaxBytes  = 8 << 20
)

type Config struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
	MaxBytes  int64
}

// Snapshot is one fetch result in feed order.
type Snapshot struct {
	Events   []quake.Event
	Rejected []Rejected
}

// Rejected is a feature that failed per-event validation.
type Rejected struct {
	Index int
	ID    string
	Err   error
}

// Fetcher issues one GET per Fetch. It never retries.
type Fetcher struct {
	cfg    Config
	client *http.Client
	log    logx.Logger
}

func NewFetcher(cfg Config, client *http.Client, log logx.Logger) *Fetcher {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 60 * time.Second,
				}).DialContext,
				MaxIdleConns:        4,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Fetcher{cfg: cfg, client: client, log: log}
}

func (f *Fetcher) URL() string { return f.cfg.URL }

func (f *Fetcher) Fetch(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.cfg.URL, nil)
	if err != nil {
		return Snapshot{}, &UnavailableError{Cause: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "application/geo+json, application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Snapshot{}, &UnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return Snapshot{}, &UnavailableError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return Snapshot{}, &UnavailableError{Cause: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(raw)) > f.cfg.MaxBytes {
		return Snapshot{}, &ParseError{Cause: fmt.Errorf("body exceeds %d bytes", f.cfg.MaxBytes)}
	}

	snap, err := Parse(raw)
	if err != nil {
		return Snapshot{}, err
	}
	for _, r := range snap.Rejected {
		f.log.Warn("feature rejected", logx.Int("index", r.Index), logx.String("id", r.ID), logx.Err(r.Err))
	}
	return snap, nil
}

type collection struct {
	Features *[]json.RawMessage `json:"features"`
}

type feature struct {
	ID         *string `json:"id"`
	Properties *struct {
		Time  *int64   `json:"time"`
		Place *string  `json:"place"`
		Mag   *float64 `json:"mag"`
		URL   *string  `json:"url"`
	} `json:"properties"`
	Geometry *struct {
		Coordinates []*float64 `json:"coordinates"`
	} `json:"geometry"`
}

var errMissing = errors.New("missing required field")

// Parse decodes a GeoJSON feature collection. Features failing validation
// are reported in Snapshot.Rejected instead of failing the whole body.
func Parse(raw []byte) (Snapshot, error) {
	var c collection
	if err := json.Unmarshal(raw, &c); err != nil {
		return Snapshot{}, &ParseError{Cause: err}
	}
	if c.Features == nil {
		return Snapshot{}, &ParseError{Cause: errors.New("no features array")}
	}

	snap := Snapshot{Events: make([]quake.Event, 0, len(*c.Features))}
	for i, fr := range *c.Features {
		ev, id, err := parseFeature(fr)
		if err != nil {
			snap.Rejected = append(snap.Rejected, Rejected{Index: i, ID: id, Err: err})
			continue
		}
		snap.Events = append(snap.Events, ev)
	}
	return snap, nil
}

func parseFeature(raw json.RawMessage) (quake.Event, string, error) {
	var f feature
	if err := json.Unmarshal(raw, &f); err != nil {
		return quake.Event{}, "", err
	}
	id := ""
	if f.ID != nil {
		id = strings.TrimSpace(*f.ID)
	}
	if id == "" {
		return quake.Event{}, "", fmt.Errorf("%w: id", errMissing)
	}
	p := f.Properties
	if p == nil {
		return quake.Event{}, id, fmt.Errorf("%w: properties", errMissing)
	}
	if p.Time == nil {
		return quake.Event{}, id, fmt.Errorf("%w: properties.time", errMissing)
	}
	if p.Place == nil || strings.TrimSpace(*p.Place) == "" {
		return quake.Event{}, id, fmt.Errorf("%w: properties.place", errMissing)
	}
	if p.URL == nil || strings.TrimSpace(*p.URL) == "" {
		return quake.Event{}, id, fmt.Errorf("%w: properties.url", errMissing)
	}
	if f.Geometry == nil || len(f.Geometry.Coordinates) < 2 ||
		f.Geometry.Coordinates[0] == nil || f.Geometry.Coordinates[1] == nil {
		return quake.Event{}, id, fmt.Errorf("%w: geometry.coordinates", errMissing)
	}

	return quake.Event{
		ID:               id,
		OccurredAtMillis: *p.Time,
		Place:            strings.TrimSpace(*p.Place),
		Magnitude:        p.Mag,
		Longitude:        *f.Geometry.Coordinates[0],
		Latitude:         *f.Geometry.Coordinates[1],
		DetailsURL:       strings.TrimSpace(*p.URL),
	}, id, nil
}
