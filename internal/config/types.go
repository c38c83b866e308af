package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "15s", "2m").
// Omitted fields keep the values from Defaults().
type Config struct {
	Feed      FeedConfig      `json:"feed"`
	Filter    FilterConfig    `json:"filter"`
	Poll      PollConfig      `json:"poll"`
	Format    FormatConfig    `json:"format"`
	Publisher PublisherConfig `json:"publisher"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
	Health    HealthConfig    `json:"health"`
}

type FeedConfig struct {
	URL       string `json:"url"`
	Timeout   string `json:"timeout"`
	UserAgent string `json:"user_agent,omitempty"`
	MaxBytes  int64  `json:"max_bytes,omitempty"`
}

type FilterConfig struct {
	MinMagnitude float64 `json:"min_magnitude"`
}

// PollConfig sets the cadence: a duration ("2m"), an HH:MM interval
// ("00:02") or a cron expression ("*/2 * * * *").
type PollConfig struct {
	Interval string `json:"interval"`
}

type FormatConfig struct {
	MapLabel     string `json:"map_label"`
	DetailsLabel string `json:"details_label"`
}

// PublisherConfig controls the Bluesky sink.
//
// Identifier and Password are normally supplied through BSKY_USERNAME and
// BSKY_PASSWORD. Never log them.
type PublisherConfig struct {
	Service    string   `json:"service"`
	Identifier string   `json:"identifier,omitempty"`
	Password   string   `json:"password,omitempty"`
	Timeout    string   `json:"timeout"`
	RatePerSec int      `json:"rate_per_sec"`
	DryRun     bool     `json:"dry_run"`
	Langs      []string `json:"langs,omitempty"`
}

// StorageConfig selects the dedup store.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./earthquake_ids.txt" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite

	// AllowEmptyOnLoadError starts with an empty dedup set when the store
	// cannot be read. Every event still in the feed will be republished.
	AllowEmptyOnLoadError bool `json:"allow_empty_on_load_error,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram forwards warnings and errors to an operator chat.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// HealthConfig controls the HTTP health/metrics server.
//
// Security note:
//   - Prefer binding to localhost.
//   - On a non-loopback address set a token or explicitly allow_insecure;
//     /healthz stays open either way.
type HealthConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
