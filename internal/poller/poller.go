// Package poller runs the fetch, filter, publish, record cycle on a schedule.
package poller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quakebot/internal/eventbus"
	"quakebot/internal/metrics"
	"quakebot/internal/publisher"
	"quakebot/internal/quake"
	logx "quakebot/pkg/logx"
)

type Config struct {
	Schedule     Schedule
	MinMagnitude float64
}

// Deps are the poller's collaborators. Bus and Metrics may be nil.
type Deps struct {
	Fetcher   Fetcher
	Store     Store
	Publisher Publisher
	Formatter quake.Formatter
	Log       logx.Logger
	Bus       eventbus.Bus
	Metrics   *metrics.Metrics
}

type Poller struct {
	fetcher   Fetcher
	store     Store
	pub       Publisher
	formatter quake.Formatter
	log       logx.Logger
	bus       eventbus.Bus
	metrics   *metrics.Metrics

	mu     sync.Mutex
	filter quake.Filter
	sched  Schedule
	last   *Report

	state   atomic.Int32
	cycleMu sync.Mutex
	wake    chan struct{}

	now func() time.Time
}

func New(cfg Config, d Deps) *Poller {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if cfg.Schedule.Every <= 0 && cfg.Schedule.Kind == ScheduleInterval {
		cfg.Schedule = DefaultSchedule()
	}
	return &Poller{
		fetcher:   d.Fetcher,
		store:     d.Store,
		pub:       d.Publisher,
		formatter: d.Formatter,
		log:       d.Log,
		bus:       d.Bus,
		metrics:   d.Metrics,
		filter:    quake.NewFilter(cfg.MinMagnitude),
		sched:     cfg.Schedule,
		wake:      make(chan struct{}, 1),
		now:       time.Now,
	}
}

func (p *Poller) State() State { return State(p.state.Load()) }

// LastReport returns the most recent cycle report.
func (p *Poller) LastReport() (Report, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Report{}, false
	}
	return *p.last, true
}

func (p *Poller) Schedule() Schedule {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sched
}

func (p *Poller) MinMagnitude() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.filter.MinMagnitude
}

// Apply swaps the threshold and cadence. A pending wait is recomputed with
// the new schedule; a running cycle is not interrupted.
func (p *Poller) Apply(cfg Config) {
	p.mu.Lock()
	p.filter = quake.NewFilter(cfg.MinMagnitude)
	if cfg.Schedule.Kind == ScheduleCron || cfg.Schedule.Every > 0 {
		p.sched = cfg.Schedule
	}
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run executes a cycle immediately, then one per schedule tick until ctx is
// canceled. The wait is measured from each cycle's completion, so cycles
// never overlap.
func (p *Poller) Run(ctx context.Context) error {
	for {
		p.RunCycle(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.wait(ctx, p.now()); err != nil {
			return err
		}
	}
}

func (p *Poller) wait(ctx context.Context, completedAt time.Time) error {
	for {
		next := p.Schedule().Next(completedAt)
		d := next.Sub(p.now())
		if d < 0 {
			d = 0
		}
		p.log.Debug("next cycle scheduled", logx.Time("at", next), logx.Duration("in", d))

		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-p.wake:
			timer.Stop()
			continue
		case <-timer.C:
			return nil
		}
	}
}

// RunCycle runs one full cycle. It finishes even if ctx is canceled midway;
// fetch and publish timeouts still bound it.
func (p *Poller) RunCycle(ctx context.Context) Report {
	p.cycleMu.Lock()
	defer p.cycleMu.Unlock()

	p.state.Store(int32(Running))
	defer p.state.Store(int32(Idle))

	ctx = context.WithoutCancel(ctx)
	start := p.now()
	rep := Report{CycleID: uuid.NewString(), StartedAt: start}
	log := p.log.With(logx.String("cycle", rep.CycleID))

	p.mu.Lock()
	filter := p.filter
	p.mu.Unlock()

	snap, err := p.fetcher.Fetch(ctx)
	if err != nil {
		rep.Err = err
		log.Error("feed fetch failed", logx.Err(err))
	} else {
		rep.Fetched = len(snap.Events)
		rep.Rejected = len(snap.Rejected)
		p.metrics.RejectedFeatures(rep.Rejected)
		for _, r := range snap.Rejected {
			p.publish(eventbus.TypeEventRejected, eventbus.RejectedEvent{Index: r.Index, ID: r.ID, Error: r.Err.Error()})
		}

		for _, ev := range snap.Events {
			switch p.processEvent(ctx, log, filter, ev, &rep) {
			case outcomePublished:
				rep.Published++
			case outcomeSeen:
				rep.SkippedSeen++
			case outcomeBelow:
				rep.SkippedBelowThreshold++
			case outcomeFailed:
				rep.Failed++
			}
		}
	}

	rep.Took = p.now().Sub(start)
	p.metrics.ObserveCycle(rep.Took, rep.Err != nil)

	p.mu.Lock()
	last := rep
	p.last = &last
	p.mu.Unlock()

	ce := eventbus.CycleEvent{
		CycleID: rep.CycleID, Fetched: rep.Fetched, Rejected: rep.Rejected,
		Published: rep.Published, SkippedSeen: rep.SkippedSeen,
		SkippedBelowThreshold: rep.SkippedBelowThreshold, Failed: rep.Failed, Took: rep.Took,
	}
	if rep.Err != nil {
		ce.Error = rep.Err.Error()
	}
	p.publish(eventbus.TypeCycleCompleted, ce)

	log.Info("cycle completed",
		logx.Int("fetched", rep.Fetched),
		logx.Int("rejected", rep.Rejected),
		logx.Int("published", rep.Published),
		logx.Int("skipped_seen", rep.SkippedSeen),
		logx.Int("skipped_below_threshold", rep.SkippedBelowThreshold),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	)
	return rep
}

// processEvent handles one event in isolation: an error or panic here is
// counted as a failure and never reaches sibling events.
func (p *Poller) processEvent(ctx context.Context, log logx.Logger, filter quake.Filter, ev quake.Event, rep *Report) (out outcome) {
	log = log.With(logx.String("event_id", ev.ID))
	defer func() {
		if r := recover(); r != nil {
			log.Error("event processing panicked",
				logx.Any("panic", r),
				logx.String("stack", string(debug.Stack())),
			)
			out = outcomeFailed
		}
	}()

	decision := filter.ShouldPublish(ev, p.store)
	p.metrics.Decision(decision.String())
	switch decision {
	case quake.SkipAlreadySeen:
		log.Debug("already published, skipping", logx.String("place", ev.Place))
		return outcomeSeen
	case quake.SkipBelowThreshold:
		fields := []logx.Field{logx.String("place", ev.Place), logx.Float64("min_magnitude", filter.MinMagnitude)}
		if ev.Magnitude != nil {
			fields = append(fields, logx.Float64("magnitude", *ev.Magnitude))
		}
		log.Debug("below threshold, skipping", fields...)
		return outcomeBelow
	}

	n, err := p.formatter.Format(ev)
	if err != nil {
		log.Error("format failed", logx.Err(err))
		return outcomeFailed
	}
	log.Info("publishing", logx.String("text", n.Text))

	res, err := p.pub.Publish(ctx, n)
	if err != nil {
		kind := "unknown"
		var pe *publisher.Error
		if errors.As(err, &pe) {
			kind = string(pe.Kind)
		}
		p.metrics.Publish(kind)
		log.Error("publish failed", logx.String("kind", kind), logx.Err(err))
		return outcomeFailed
	}
	p.metrics.Publish("ok")

	if err := p.store.Record(ctx, ev.ID); err != nil {
		rep.StorageErrors++
		p.metrics.StorageError()
		log.Error("storage unavailable: published id not persisted", logx.Err(err))
	}
	log.Info("published", logx.String("uri", res.URI), logx.Bool("dry_run", res.DryRun), logx.Duration("took", res.Took))
	return outcomePublished
}

func (p *Poller) publish(typ string, data any) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{Type: typ, Time: p.now(), Data: data})
}

func (r Report) String() string {
	return fmt.Sprintf("cycle %s: fetched=%d rejected=%d published=%d seen=%d below=%d failed=%d took=%s",
		r.CycleID, r.Fetched, r.Rejected, r.Published, r.SkippedSeen, r.SkippedBelowThreshold, r.Failed, r.Took)
}
