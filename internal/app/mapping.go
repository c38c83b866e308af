package app

import (
	"fmt"
	"strings"

	"quakebot/internal/config"
	"quakebot/internal/feed"
	"quakebot/internal/observability/health"
	"quakebot/internal/poller"
	"quakebot/internal/publisher"
	"quakebot/internal/quake"
	"quakebot/internal/storage"
	"quakebot/internal/transport/bluesky"
	logx "quakebot/pkg/logx"
)

// Each mapper turns one config section into its component's typed config.
// They are also the hot-reload validator, so a bad edit is rejected before
// commit.

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	tm, err := cfg.Timeouts()
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{
		URL:       strings.TrimSpace(cfg.Feed.URL),
		Timeout:   tm.Feed,
		UserAgent: cfg.Feed.UserAgent,
		MaxBytes:  cfg.Feed.MaxBytes,
	}, nil
}

func mapPollerConfig(cfg *config.Config) (poller.Config, error) {
	sched, err := poller.ParseSchedule(cfg.Poll.Interval)
	if err != nil {
		return poller.Config{}, fmt.Errorf("poll.interval: %w", err)
	}
	return poller.Config{Schedule: sched, MinMagnitude: cfg.Filter.MinMagnitude}, nil
}

func mapFormatter(cfg *config.Config) quake.Formatter {
	return quake.NewFormatter(cfg.Format.MapLabel, cfg.Format.DetailsLabel)
}

func mapPublisherConfig(cfg *config.Config) (publisher.Config, bluesky.Config, error) {
	tm, err := cfg.Timeouts()
	if err != nil {
		return publisher.Config{}, bluesky.Config{}, err
	}
	pc := publisher.Config{
		Timeout:    tm.Publish,
		RatePerSec: cfg.Publisher.RatePerSec,
		DryRun:     cfg.Publisher.DryRun,
	}
	bc := bluesky.Config{
		Service:    cfg.Publisher.Service,
		Identifier: strings.TrimSpace(cfg.Publisher.Identifier),
		Password:   cfg.Publisher.Password,
		Timeout:    tm.Publish,
	}
	return pc, bc, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		tm, err := cfg.Timeouts()
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: tm.StorageBusy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	return logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File: logx.FileConfig{
			Enabled: lc.File.Enabled,
			Path:    lc.File.Path,
		},
		Forward: logx.ForwardConfig{
			Enabled:    lc.Telegram.Enabled && lc.Telegram.ChatID != 0,
			ChatID:     lc.Telegram.ChatID,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
}

func mapHealthConfig(cfg *config.Config) (health.Config, bool, error) {
	hc := cfg.Health
	tm, err := cfg.Timeouts()
	if err != nil {
		return health.Config{}, false, err
	}
	return health.Config{
		Addr:          strings.TrimSpace(hc.Addr),
		Token:         hc.Token,
		AllowInsecure: hc.AllowInsecure,
		Pprof:         hc.Pprof,
		ReadTimeout:   tm.HealthRead,
		WriteTimeout:  tm.HealthWrite,
		IdleTimeout:   tm.HealthIdle,
	}, hc.Enabled, nil
}

// validate runs every mapper; used for the initial load and hot reload.
func validate(cfg *config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if _, err := mapFeedConfig(cfg); err != nil {
		return err
	}
	if _, err := mapPollerConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapPublisherConfig(cfg); err != nil {
		return err
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, _, err := mapHealthConfig(cfg); err != nil {
		return err
	}
	return nil
}
