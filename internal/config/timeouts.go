package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Defaults used when a duration field is empty or "0". The health write
// timeout leaves room for 30s pprof profiles.
const (
	DefaultFeedTimeout    = 30 * time.Second
	DefaultPublishTimeout = 15 * time.Second
	DefaultBusyTimeout    = time.Second
	DefaultHealthRead     = 10 * time.Second
	DefaultHealthWrite    = 60 * time.Second
	DefaultHealthIdle     = 60 * time.Second
)

// Timeouts are the config's duration strings resolved, defaults applied.
type Timeouts struct {
	Feed        time.Duration
	Publish     time.Duration
	StorageBusy time.Duration
	HealthRead  time.Duration
	HealthWrite time.Duration
	HealthIdle  time.Duration
}

// Timeouts parses every duration field. The error names each bad field by
// its config path.
func (c *Config) Timeouts() (Timeouts, error) {
	var t Timeouts
	fields := []struct {
		path string
		raw  string
		def  time.Duration
		dst  *time.Duration
	}{
		{"feed.timeout", c.Feed.Timeout, DefaultFeedTimeout, &t.Feed},
		{"publisher.timeout", c.Publisher.Timeout, DefaultPublishTimeout, &t.Publish},
		{"storage.busy_timeout", c.Storage.BusyTimeout, DefaultBusyTimeout, &t.StorageBusy},
		{"health.read_timeout", c.Health.ReadTimeout, DefaultHealthRead, &t.HealthRead},
		{"health.write_timeout", c.Health.WriteTimeout, DefaultHealthWrite, &t.HealthWrite},
		{"health.idle_timeout", c.Health.IdleTimeout, DefaultHealthIdle, &t.HealthIdle},
	}
	var errs []error
	for _, f := range fields {
		d, err := parseDuration(f.raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", f.path, err))
			continue
		}
		if d == 0 {
			d = f.def
		}
		*f.dst = d
	}
	return t, errors.Join(errs...)
}

func parseDuration(raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", raw)
	}
	if d < 0 {
		return 0, fmt.Errorf("duration %q must be >= 0", raw)
	}
	return d, nil
}
