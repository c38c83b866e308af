package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	logx "quakebot/pkg/logx"
)

const (
	DefaultFeedURL      = "https://earthquake.usgs.gov/earthquakes/feed/v1.0/summary/all_hour.geojson"
	DefaultBlueskyHost  = "https://bsky.social"
	DefaultPollInterval = "2m"
	DefaultStoragePath  = "earthquake_ids.txt"
)

// DryRunStoragePath replaces DefaultStoragePath in dry-run mode so logged
// posts never mark events as published for a later real run.
const DryRunStoragePath = "earthquake_ids.dry-run.txt"

func Defaults() *Config {
	return &Config{
		Feed:      FeedConfig{URL: DefaultFeedURL, Timeout: "30s", UserAgent: "quakebot/1.0"},
		Filter:    FilterConfig{MinMagnitude: 5.0},
		Poll:      PollConfig{Interval: DefaultPollInterval},
		Format:    FormatConfig{MapLabel: "🗺 Map", DetailsLabel: "🔍 Details"},
		Publisher: PublisherConfig{Service: DefaultBlueskyHost, Timeout: "15s", RatePerSec: 1},
		Storage:   StorageConfig{Driver: "file", Path: DefaultStoragePath},
		Logging: LoggingConfig{
			Console:  true,
			Telegram: LoggingTelegram{MinLevel: "warn", RatePerSec: 1},
		},
		Health: HealthConfig{Addr: "127.0.0.1:8080"},
	}
}

// Getenv matches os.Getenv; tests pass a map lookup instead.
type Getenv func(string) string

// ApplyEnv overlays environment variables:
//
//	BSKY_USERNAME, BSKY_PASSWORD, BSKY_SERVICE  publisher credentials/host
//	PORT                                        enables health on ":PORT"
//	LOG_LEVEL                                   used when logging.level is empty
func ApplyEnv(cfg *Config, getenv Getenv) {
	if cfg == nil {
		return
	}
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv("BSKY_USERNAME")); v != "" {
		cfg.Publisher.Identifier = v
	}
	if v := getenv("BSKY_PASSWORD"); v != "" {
		cfg.Publisher.Password = v
	}
	if v := strings.TrimSpace(getenv("BSKY_SERVICE")); v != "" {
		cfg.Publisher.Service = v
	}
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		cfg.Health.Enabled = true
		cfg.Health.Addr = ":" + v
	}
	if v := strings.TrimSpace(getenv("LOG_LEVEL")); v != "" && strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = v
	}
}

// ApplyDryRun moves a dry run off the default id file. Any other storage
// path or driver is kept as configured.
func ApplyDryRun(cfg *Config) {
	if cfg == nil || !cfg.Publisher.DryRun {
		return
	}
	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d != "" && d != "file" {
		return
	}
	if p := strings.TrimSpace(cfg.Storage.Path); p == "" || p == DefaultStoragePath {
		cfg.Storage.Path = DryRunStoragePath
	}
}

// Validate checks field syntax. Cadence strings are validated by the caller
// that owns the schedule parser.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	if strings.TrimSpace(cfg.Feed.URL) == "" {
		add(errors.New("feed.url is required"))
	}
	if cfg.Filter.MinMagnitude < 0 {
		add(fmt.Errorf("filter.min_magnitude must be >= 0"))
	}
	if strings.TrimSpace(cfg.Poll.Interval) == "" {
		add(errors.New("poll.interval is required"))
	}
	if cfg.Publisher.RatePerSec < 0 {
		add(errors.New("publisher.rate_per_sec must be >= 0"))
	}
	if !cfg.Publisher.DryRun && (strings.TrimSpace(cfg.Publisher.Identifier) == "" || cfg.Publisher.Password == "") {
		add(errors.New("publisher credentials missing: set BSKY_USERNAME and BSKY_PASSWORD (or publisher.dry_run)"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if !logx.ValidLevel(cfg.Logging.Telegram.MinLevel) {
		add(fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
	}
	if cfg.Logging.Telegram.Enabled && strings.TrimSpace(cfg.Logging.Telegram.Token) == "" {
		add(errors.New("logging.telegram.token is required when logging.telegram.enabled"))
	}

	_, err := cfg.Timeouts()
	add(err)

	return errors.Join(errs...)
}
