package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"quakebot/internal/config"
)

const sampleFeed = `{"type":"FeatureCollection","features":[
 {"id":"us7000big","properties":{"time":1700000000000,"place":"10 km SW of Town, Chile","mag":6.1,"url":"https://earthquake.usgs.gov/earthquakes/eventpage/us7000big"},"geometry":{"coordinates":[-71.5,-33.0,10]}},
 {"id":"ci_small","properties":{"time":1700000001000,"place":"Offshore California","mag":2.3,"url":"https://earthquake.usgs.gov/earthquakes/eventpage/ci_small"},"geometry":{"coordinates":[-120.1,34.2,5]}}
]}`

// logx.New sets zerolog globals, so tests that build an App run serially.

func noEnv(string) string { return "" }

func writeConfig(t *testing.T, dir, feedURL, extra string) string {
	t.Helper()
	body := "feed:\n  url: " + feedURL + "\n" +
		"storage:\n  path: " + filepath.Join(dir, "ids.txt") + "\n" +
		"publisher:\n  dry_run: true\n" +
		"logging:\n  console: false\n" + extra
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/geo+json")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunOnceDryRunRecordsAndDedups(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)
	path := writeConfig(t, dir, srv.URL, "")

	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rep := a.RunOnce(context.Background())
	if rep.Err != nil || rep.Published != 1 || rep.SkippedBelowThreshold != 1 {
		t.Fatalf("first cycle = %+v", rep)
	}
	if err := a.Stop(context.Background(), StopOnce); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "ids.txt"))
	if err != nil {
		t.Fatalf("read ids: %v", err)
	}
	if got := strings.TrimSpace(string(b)); got != "us7000big" {
		t.Fatalf("ids file = %q, want %q", got, "us7000big")
	}

	// A fresh process sees the persisted id.
	a2, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New (second): %v", err)
	}
	defer a2.Stop(context.Background(), StopOnce)
	rep = a2.RunOnce(context.Background())
	if rep.Published != 0 || rep.SkippedSeen != 1 {
		t.Fatalf("second cycle = %+v", rep)
	}
}

func TestNewRequiresCredentialsUnlessDryRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "storage:\n  path: " + filepath.Join(dir, "ids.txt") + "\nlogging:\n  console: false\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := New(Options{ConfigPath: path, Getenv: noEnv}); err == nil {
		t.Fatal("New without credentials: want error")
	}
	a, err := New(Options{ConfigPath: path, Getenv: noEnv, DryRun: true})
	if err != nil {
		t.Fatalf("New with -dry-run: %v", err)
	}
	_ = a.Stop(context.Background(), StopOnce)
}

func TestNewRefusesUnreadableStore(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)
	// a directory where the id file should be cannot be read
	idsDir := filepath.Join(dir, "ids.txt")
	if err := os.Mkdir(idsDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	path := writeConfig(t, dir, srv.URL, "")
	if _, err := New(Options{ConfigPath: path, Getenv: noEnv}); err == nil {
		t.Fatal("New with unreadable store: want error")
	}

	path = writeConfig(t, dir, srv.URL, "")
	b, _ := os.ReadFile(path)
	b = []byte(strings.Replace(string(b), "storage:\n", "storage:\n  allow_empty_on_load_error: true\n", 1))
	if err := os.WriteFile(path, b, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New with allow_empty_on_load_error: %v", err)
	}
	_ = a.Stop(context.Background(), StopOnce)
}

func TestStatusAndHealthy(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)
	a, err := New(Options{ConfigPath: writeConfig(t, dir, srv.URL, ""), Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Stop(context.Background(), StopOnce)

	if !a.healthy(time.Now()) {
		t.Fatal("healthy before first cycle = false, want true")
	}
	a.RunOnce(context.Background())

	doc, ok := a.status().(statusDoc)
	if !ok {
		t.Fatalf("status type = %T", a.status())
	}
	if doc.State != "idle" || doc.DedupIDs != 1 || !doc.DryRun || doc.LastReport == nil {
		t.Fatalf("status = %+v", doc)
	}
	if a.healthy(time.Now().Add(time.Hour)) {
		t.Fatal("healthy an hour after the last cycle = true, want false")
	}
}

func TestValidateRejectsBadSchedule(t *testing.T) {
	t.Parallel()
	cfg := config.Defaults()
	cfg.Publisher.DryRun = true

	tests := []struct {
		name    string
		mutate  func(c *config.Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*config.Config) {}},
		{name: "cron", mutate: func(c *config.Config) { c.Poll.Interval = "*/5 * * * *" }},
		{name: "garbage interval", mutate: func(c *config.Config) { c.Poll.Interval = "soon" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *config.Config) { c.Storage.Driver = "sqlite"; c.Storage.Path = "" }, wantErr: true},
		{name: "bad health timeout", mutate: func(c *config.Config) { c.Health.ReadTimeout = "fast" }, wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := *cfg
			tt.mutate(&c)
			err := validate(&c)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStartStop(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)
	path := writeConfig(t, dir, srv.URL, "health:\n  enabled: true\n  addr: 127.0.0.1:0\n")
	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := a.poller.LastReport(); ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, ok := a.poller.LastReport(); !ok {
		t.Fatal("poller did not complete a cycle")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopSignal); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatal("Done not closed after Stop")
	}
}

func TestWaitClassifiesStops(t *testing.T) {
	dir := t.TempDir()
	srv := feedServer(t)
	path := writeConfig(t, dir, srv.URL, "poll:\n  interval: 1h\n")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()

	// Canceling the parent right after Start races Done against ctx.Done.
	for i := 0; i < 10; i++ {
		a, err := New(Options{ConfigPath: path, Getenv: noEnv})
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		ctx, cancel := context.WithCancel(context.Background())
		if err := a.Start(ctx); err != nil {
			t.Fatalf("Start: %v", err)
		}
		cancel()
		if got := a.Wait(ctx); got != StopSignal {
			t.Fatalf("run %d: Wait = %q, want %q (err %v)", i, got, StopSignal, a.Err())
		}
		_ = a.Stop(stopCtx, StopSignal)
	}

	a, err := New(Options{ConfigPath: path, Getenv: noEnv})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	a.sup.Go("broken", func(context.Context) error { return errors.New("boom") })
	if got := a.Wait(ctx); got != StopFatalError {
		t.Fatalf("Wait = %q, want %q", got, StopFatalError)
	}
	if a.Err() == nil || !strings.Contains(a.Err().Error(), "broken: boom") {
		t.Fatalf("Err = %v", a.Err())
	}
	_ = a.Stop(stopCtx, StopFatalError)
}

func TestPublisherNeedsRestart(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   bool
	}{
		{name: "timeout", mutate: func(c *config.Config) { c.Publisher.Timeout = "30s" }, want: false},
		{name: "rate", mutate: func(c *config.Config) { c.Publisher.RatePerSec = 3 }, want: false},
		{name: "password", mutate: func(c *config.Config) { c.Publisher.Password = "new" }, want: true},
		{name: "dry run", mutate: func(c *config.Config) { c.Publisher.DryRun = true }, want: true},
		{name: "langs", mutate: func(c *config.Config) { c.Publisher.Langs = []string{"es"} }, want: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			newCfg := config.Defaults()
			tt.mutate(newCfg)
			if got := publisherNeedsRestart(config.Defaults(), newCfg); got != tt.want {
				t.Fatalf("publisherNeedsRestart = %v, want %v", got, tt.want)
			}
		})
	}
}
