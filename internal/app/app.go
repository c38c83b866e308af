package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"quakebot/internal/config"
	"quakebot/internal/eventbus"
	"quakebot/internal/feed"
	"quakebot/internal/metrics"
	"quakebot/internal/observability/health"
	"quakebot/internal/poller"
	"quakebot/internal/publisher"
	"quakebot/internal/runtime/supervisor"
	"quakebot/internal/storage"
	kit "quakebot/internal/transport"
	"quakebot/internal/transport/bluesky"
	"quakebot/internal/transport/telegram"
	logx "quakebot/pkg/logx"
	"quakebot/pkg/systemd"
)

// Options are the command-line inputs.
type Options struct {
	ConfigPath string
	DryRun     bool
	// Getenv replaces os.Getenv; nil means the process environment.
	Getenv config.Getenv
}

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.DedupStore
	pub     *publisher.Publisher
	poller  *poller.Poller
	metrics *metrics.Metrics
	health  *health.Service
}

func New(opts Options) (*App, error) {
	cfgm := config.NewManager(opts.ConfigPath)
	if opts.Getenv != nil {
		cfgm.SetGetenv(opts.Getenv)
	}
	if opts.DryRun {
		cfgm.SetOverride(func(c *config.Config) { c.Publisher.DryRun = true })
	}
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}

	// Operator channel for warn+ logs (optional).
	var sender kit.Sender
	if cfg.Logging.Telegram.Enabled {
		ad, err := telegram.New(telegram.Config{Token: cfg.Logging.Telegram.Token},
			logx.NewConsole("INFO").With(logx.String("comp", "telegram")))
		if err != nil {
			return nil, fmt.Errorf("logging.telegram: %w", err)
		}
		sender = ad
	}
	logSvc, log := logx.New(mapLogConfig(cfg), sender)
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		log.Warn("logging.telegram.enabled but chat_id is 0; forwarding disabled")
	}

	a, err := build(cfg, cfgm, logSvc, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	return a, nil
}

func build(cfg *config.Config, cfgm *config.Manager, logSvc *logx.Service, log logx.Logger) (*App, error) {
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	ids, err := store.Load(context.Background())
	switch {
	case err == nil:
		appLog.Info("dedup store loaded", logx.String("driver", sc.Driver), logx.Int("ids", len(ids)))
	case errors.Is(err, storage.ErrStorageUnavailable) && cfg.Storage.AllowEmptyOnLoadError:
		appLog.Warn("dedup store unreadable; starting empty, events still in the feed will be republished",
			logx.Err(err))
	default:
		_ = store.Close()
		return nil, fmt.Errorf("load dedup store: %w (set storage.allow_empty_on_load_error to start anyway)", err)
	}

	m := metrics.New(store.Len)

	fc, err := mapFeedConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	fetcher := feed.NewFetcher(fc, nil, log.With(logx.String("comp", "feed")))

	pc, bc, err := mapPublisherConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	var sink publisher.Sink
	if !pc.DryRun {
		client := bluesky.New(bc, nil, log.With(logx.String("comp", "bluesky")))
		sink = publisher.NewBlueskySink(client, cfg.Publisher.Langs...)
	}
	pub := publisher.New(pc, sink, log.With(logx.String("comp", "publisher")), bus)

	pcfg, err := mapPollerConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	p := poller.New(pcfg, poller.Deps{
		Fetcher:   fetcher,
		Store:     store,
		Publisher: pub,
		Formatter: mapFormatter(cfg),
		Log:       log.With(logx.String("comp", "poller")),
		Bus:       bus,
		Metrics:   m,
	})

	a := &App{
		cfgm:    cfgm,
		log:     appLog,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		pub:     pub,
		poller:  p,
		metrics: m,
	}

	hc, enabled, err := mapHealthConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if enabled {
		a.health = health.New(hc, a.status, m.Handler(), log.With(logx.String("comp", "health")))
	}

	if pub.DryRun() {
		appLog.Warn("dry run: posts are logged, not published; ids are recorded in the dry-run store",
			logx.String("storage_path", sc.Path))
	}
	appLog.Info("configured",
		logx.String("feed", fetcher.URL()),
		logx.String("schedule", pcfg.Schedule.String()),
		logx.Float64("min_magnitude", p.MinMagnitude()),
		logx.Bool("dry_run", pub.DryRun()),
		logx.String("storage", sc.Driver),
	)
	return a, nil
}

// RunOnce executes a single cycle without starting background services.
func (a *App) RunOnce(ctx context.Context) poller.Report {
	return a.poller.RunCycle(ctx)
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Wait blocks until ctx is canceled or a supervised task fails and reports
// which one ended the run. Canceling ctx also closes Done, so the select may
// wake on either channel after a signal; only a task error with ctx still
// live counts as fatal.
func (a *App) Wait(ctx context.Context) StopReason {
	select {
	case <-ctx.Done():
	case <-a.Done():
	}
	switch {
	case ctx.Err() == nil && a.Err() != nil:
		return StopFatalError
	case ctx.Err() != nil:
		return StopSignal
	default:
		return StopUnknown
	}
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })

	a.sup.GoRestart("poller", a.poller.Run, supervisor.WithRestartBackoff(time.Second, time.Minute))

	if a.health != nil {
		a.sup.GoRestart("health.serve", a.health.Serve,
			supervisor.WithPublishFirstError(true),
			supervisor.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		)
	}

	// Debug-level event log; also the place operators see rejected features.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if a.cfgm.Path() != "" {
		a.sup.Go("config.watch", a.cfgm.Watch)
	}

	if iv := systemd.WatchdogInterval(); iv > 0 {
		a.sup.Go("systemd.watchdog", func(c context.Context) error {
			err := systemd.Watchdog(c, iv, func() bool { return a.healthy(time.Now()) })
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}
	if _, err := systemd.Ready(); err != nil {
		a.log.Warn("sd_notify READY failed", logx.Err(err))
	}
	_, _ = systemd.Status("polling " + a.poller.Schedule().String())

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	a.logs.Apply(mapLogConfig(newCfg))
	if newCfg.Logging.Telegram.Enabled && !oldCfg.Logging.Telegram.Enabled {
		a.log.Warn("logging.telegram enabled via reload; restart required to create the Telegram client")
	}

	if pcfg, err := mapPollerConfig(newCfg); err != nil {
		a.log.Warn("invalid poll config; keeping previous", logx.Err(err))
	} else {
		a.poller.Apply(pcfg)
		_, _ = systemd.Status("polling " + pcfg.Schedule.String())
	}

	if pc, _, err := mapPublisherConfig(newCfg); err != nil {
		a.log.Warn("invalid publisher config; keeping previous", logx.Err(err))
	} else {
		a.pub.Apply(pc)
	}

	rr := config.RestartRequired(sections)
	if !publisherNeedsRestart(oldCfg, newCfg) {
		rr = slices.DeleteFunc(rr, func(s string) bool { return s == "publisher" })
	}
	if len(rr) > 0 {
		a.log.Warn("config sections changed; restart required for changes to take effect",
			logx.String("sections", strings.Join(rr, ",")))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// publisherNeedsRestart reports changes to the sink itself. Timeout and rate
// apply live.
func publisherNeedsRestart(oldCfg, newCfg *config.Config) bool {
	o, n := oldCfg.Publisher, newCfg.Publisher
	return o.Service != n.Service || o.Identifier != n.Identifier || o.Password != n.Password ||
		o.DryRun != n.DryRun || !slices.Equal(o.Langs, n.Langs)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	a.log.Info("stopping", logx.String("reason", string(reason)))
	_, _ = systemd.Stopping()

	if a.sup != nil {
		// Cancel first so the poller's wait and the health server unwind
		// immediately; an in-flight cycle still completes.
		a.sup.Cancel()
	}

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	if a.sup != nil {
		// A publish in flight is bounded by publisher.timeout; give it room.
		step("supervisor", 30*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	}
	step("storage", 2*time.Second, func(context.Context) error { return a.store.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
