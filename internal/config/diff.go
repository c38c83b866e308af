package config

import (
	"reflect"
	"sort"
	"strings"

	logx "quakebot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// fields for logging. Secrets (passwords, tokens) are reported only as *_set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Feed, newCfg.Feed) {
		changed = append(changed, "feed")
		attrs = append(attrs,
			logx.String("feed.url", newCfg.Feed.URL),
			logx.String("feed.timeout", newCfg.Feed.Timeout),
		)
	}
	if oldCfg.Filter != newCfg.Filter {
		changed = append(changed, "filter")
		attrs = append(attrs, logx.Float64("filter.min_magnitude", newCfg.Filter.MinMagnitude))
	}
	if strings.TrimSpace(oldCfg.Poll.Interval) != strings.TrimSpace(newCfg.Poll.Interval) {
		changed = append(changed, "poll")
		attrs = append(attrs, logx.String("poll.interval", strings.TrimSpace(newCfg.Poll.Interval)))
	}
	if oldCfg.Format != newCfg.Format {
		changed = append(changed, "format")
	}

	// Publisher (never log credentials)
	op, np := oldCfg.Publisher, newCfg.Publisher
	if op.Service != np.Service || op.Identifier != np.Identifier || op.Password != np.Password ||
		op.Timeout != np.Timeout || op.RatePerSec != np.RatePerSec || op.DryRun != np.DryRun ||
		!reflect.DeepEqual(op.Langs, np.Langs) {
		changed = append(changed, "publisher")
		attrs = append(attrs,
			logx.String("publisher.service", np.Service),
			logx.Bool("publisher.identifier_set", strings.TrimSpace(np.Identifier) != ""),
			logx.Bool("publisher.password_set", np.Password != ""),
			logx.Int("publisher.rate_per_sec", np.RatePerSec),
			logx.Bool("publisher.dry_run", np.DryRun),
		)
	}

	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}

	// Logging (never log the bot token)
	ol, nl := oldCfg.Logging, newCfg.Logging
	if ol.Level != nl.Level || ol.Console != nl.Console || ol.File != nl.File ||
		ol.Telegram.Enabled != nl.Telegram.Enabled || ol.Telegram.ChatID != nl.Telegram.ChatID ||
		ol.Telegram.ThreadID != nl.Telegram.ThreadID || ol.Telegram.MinLevel != nl.Telegram.MinLevel ||
		ol.Telegram.RatePerSec != nl.Telegram.RatePerSec || ol.Telegram.Token != nl.Telegram.Token {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", nl.Level),
			logx.Bool("logging.console", nl.Console),
			logx.Bool("logging.file_enabled", nl.File.Enabled),
			logx.Bool("logging.telegram_enabled", nl.Telegram.Enabled),
		)
	}

	// Health (never log token)
	oh, nh := oldCfg.Health, newCfg.Health
	if oh != nh {
		changed = append(changed, "health")
		attrs = append(attrs,
			logx.Bool("health.enabled", nh.Enabled),
			logx.String("health.addr", nh.Addr),
			logx.Bool("health.token_set", strings.TrimSpace(nh.Token) != ""),
			logx.Bool("health.pprof", nh.Pprof),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired lists changed sections that only take effect on restart.
func RestartRequired(changed []string) []string {
	var out []string
	for _, s := range changed {
		switch s {
		case "filter", "poll", "logging":
		default:
			out = append(out, s)
		}
	}
	return out
}
