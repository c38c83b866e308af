package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envMap(m map[string]string) Getenv {
	return func(k string) string { return m[k] }
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestParseYAMLKeepsDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "quakebot.yaml", `
filter:
  min_magnitude: 6.5
poll:
  interval: "*/5 * * * *"
storage:
  driver: sqlite
  path: ./data/quakebot.db
`)
	m := NewManager(p)
	m.SetGetenv(envMap(nil))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Filter.MinMagnitude != 6.5 || cfg.Poll.Interval != "*/5 * * * *" {
		t.Fatalf("unexpected values: %+v %+v", cfg.Filter, cfg.Poll)
	}
	if cfg.Feed.URL != DefaultFeedURL || cfg.Publisher.Timeout != "15s" || cfg.Format.MapLabel != "🗺 Map" {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("Storage.Driver = %q", cfg.Storage.Driver)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	for name, body := range map[string]string{
		"a.json": `{"filter":{"min_magnitude":5,"max_magnitude":9}}`,
		"b.yaml": "pol:\n  interval: 2m\n",
		"c.json": `{"filter":{}} {"poll":{}}`,
	} {
		if _, err := NewManager(writeFile(t, dir, name, body)).Parse(); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestNoFileUsesDefaultsAndEnv(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetGetenv(envMap(map[string]string{
		"BSKY_USERNAME": "quakes.bsky.social",
		"BSKY_PASSWORD": "app-pass",
		"PORT":          "9090",
		"LOG_LEVEL":     "debug",
	}))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Publisher.Identifier != "quakes.bsky.social" || cfg.Publisher.Password != "app-pass" {
		t.Fatalf("credentials not applied: %+v", cfg.Publisher)
	}
	if !cfg.Health.Enabled || cfg.Health.Addr != ":9090" {
		t.Fatalf("health = %+v", cfg.Health)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if m.Get() != cfg {
		t.Fatal("Load must commit the config")
	}
}

func TestFileLevelWinsOverLogLevelEnv(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "q.json", `{"logging":{"level":"warn","console":true}}`)
	m := NewManager(p)
	m.SetGetenv(envMap(map[string]string{"LOG_LEVEL": "trace"}))
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestLoadRequiresCredentialsUnlessDryRun(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetGetenv(envMap(nil))
	if _, err := m.Load(); err == nil || !strings.Contains(err.Error(), "BSKY_USERNAME") {
		t.Fatalf("Load error = %v, want missing credentials", err)
	}

	m.SetOverride(func(c *Config) { c.Publisher.DryRun = true })
	if _, err := m.Load(); err != nil {
		t.Fatalf("dry-run Load error: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := Defaults()
		c.Publisher.DryRun = true
		return c
	}
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "bad feed timeout", mutate: func(c *Config) { c.Feed.Timeout = "soon" }, want: "feed.timeout"},
		{name: "negative magnitude", mutate: func(c *Config) { c.Filter.MinMagnitude = -1 }, want: "min_magnitude"},
		{name: "empty interval", mutate: func(c *Config) { c.Poll.Interval = " " }, want: "poll.interval"},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "redis" }, want: "storage.driver"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, want: "logging.level"},
		{name: "telegram without token", mutate: func(c *Config) { c.Logging.Telegram.Enabled = true }, want: "telegram.token"},
		{name: "bad health timeout", mutate: func(c *Config) { c.Health.IdleTimeout = "-1s" }, want: "health.idle_timeout"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := base()
			tt.mutate(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate error = %v, want mention of %q", err, tt.want)
			}
		})
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("defaults should validate in dry-run: %v", err)
	}
}

func TestSummarizeConfigChangeHidesSecrets(t *testing.T) {
	t.Parallel()
	oldCfg := Defaults()
	newCfg := Defaults()
	newCfg.Filter.MinMagnitude = 6
	newCfg.Publisher.Password = "s3cret"
	newCfg.Health.Token = "tok"

	changed, _ := SummarizeConfigChange(oldCfg, newCfg)
	want := []string{"filter", "health", "publisher"}
	if strings.Join(changed, ",") != strings.Join(want, ",") {
		t.Fatalf("changed = %v, want %v", changed, want)
	}
	if got := RestartRequired(changed); strings.Join(got, ",") != "health,publisher" {
		t.Fatalf("RestartRequired = %v", got)
	}
}

func TestTimeouts(t *testing.T) {
	t.Parallel()
	c := Defaults()
	c.Feed.Timeout = ""
	c.Publisher.Timeout = "0"
	c.Health.ReadTimeout = " 3s "
	tm, err := c.Timeouts()
	if err != nil {
		t.Fatalf("Timeouts error: %v", err)
	}
	if tm.Feed != DefaultFeedTimeout {
		t.Fatalf("Feed = %v, want %v", tm.Feed, DefaultFeedTimeout)
	}
	if tm.Publish != DefaultPublishTimeout {
		t.Fatalf("Publish = %v, want %v", tm.Publish, DefaultPublishTimeout)
	}
	if tm.HealthRead != 3*time.Second {
		t.Fatalf("HealthRead = %v, want 3s", tm.HealthRead)
	}

	c.Storage.BusyTimeout = "-2s"
	c.Health.WriteTimeout = "later"
	_, err = c.Timeouts()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"storage.busy_timeout", "health.write_timeout"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not name %s", err, want)
		}
	}
}

func TestDecodeEmptyAndTrailing(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		file    string
		body    string
		wantErr bool
	}{
		{name: "empty yaml", file: "e.yaml", body: ""},
		{name: "comment only yaml", file: "c.yml", body: "# nothing yet\n"},
		{name: "empty json", file: "e.json", body: ""},
		{name: "trailing json", file: "t.json", body: `{"filter":{}} 1`, wantErr: true},
		{name: "yaml type mismatch", file: "m.yaml", body: "filter:\n  min_magnitude: big\n", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Defaults()
			err := decodeInto(tt.file, []byte(tt.body), cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeInto error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && cfg.Filter.MinMagnitude != Defaults().Filter.MinMagnitude {
				t.Fatalf("MinMagnitude = %v, want default", cfg.Filter.MinMagnitude)
			}
		})
	}
}

func TestDryRunUsesSeparateStore(t *testing.T) {
	t.Parallel()
	m := NewManager("")
	m.SetGetenv(envMap(nil))
	m.SetOverride(func(c *Config) { c.Publisher.DryRun = true })
	cfg, err := m.Parse()
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if cfg.Storage.Path != DryRunStoragePath {
		t.Fatalf("Storage.Path = %q, want %q", cfg.Storage.Path, DryRunStoragePath)
	}

	custom := Defaults()
	custom.Publisher.DryRun = true
	custom.Storage.Path = "/var/lib/quakebot/ids.txt"
	ApplyDryRun(custom)
	if custom.Storage.Path != "/var/lib/quakebot/ids.txt" {
		t.Fatalf("Storage.Path = %q, want the configured path", custom.Storage.Path)
	}

	live := Defaults()
	ApplyDryRun(live)
	if live.Storage.Path != DefaultStoragePath {
		t.Fatalf("Storage.Path = %q, want %q", live.Storage.Path, DefaultStoragePath)
	}
}

func TestWatchPublishesValidChanges(t *testing.T) {
	t.Parallel()
	p := writeFile(t, t.TempDir(), "q.json", `{"publisher":{"dry_run":true},"filter":{"min_magnitude":5}}`)
	m := NewManager(p)
	m.SetGetenv(envMap(nil))
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load error: %v", err)
	}
	sub := m.Subscribe(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// Invalid content is ignored.
	writeFile(t, filepath.Dir(p), "q.json", `{"publisher":{"dry_run":true},"filter":{"min_magnitude":-3}}`)
	time.Sleep(600 * time.Millisecond)
	writeFile(t, filepath.Dir(p), "q.json", `{"publisher":{"dry_run":true},"filter":{"min_magnitude":6}}`)

	select {
	case cfg := <-sub:
		if cfg.Filter.MinMagnitude != 6 {
			t.Fatalf("MinMagnitude = %v, want 6", cfg.Filter.MinMagnitude)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}
