// Package publisher hands formatted notifications to the social sink.
//
// A Publish call is throttled by a token bucket, bounded by a per-call
// timeout and never retried: the caller decides what a failure means for
// the dedup record.
package publisher

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"quakebot/internal/eventbus"
	"quakebot/internal/quake"
	logx "quakebot/pkg/logx"
)

const DefaultTimeout = 15 * time.Second

type Config struct {
	Timeout    time.Duration
	RatePerSec int
	DryRun     bool
}

// Result describes a delivered post.
type Result struct {
	URI    string
	CID    string
	DryRun bool
	Took   time.Duration
}

type Publisher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	sink Sink
	log  logx.Logger
	bus  eventbus.Bus
}

// New builds a publisher. When cfg.DryRun is set the given sink is replaced
// by a LogSink.
func New(cfg Config, sink Sink, log logx.Logger, bus eventbus.Bus) *Publisher {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.DryRun || sink == nil {
		sink = NewLogSink(log)
		cfg.DryRun = true
	}
	p := &Publisher{sink: sink, log: log, bus: bus}
	p.setConfig(cfg)
	return p
}

// Apply swaps the timeout and rate limit. The sink, and with it dry-run mode,
// is fixed at construction.
func (p *Publisher) Apply(cfg Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg.DryRun = p.cfg.DryRun
	p.setConfig(cfg)
}

// setConfig requires p.mu or exclusive access.
func (p *Publisher) setConfig(cfg Config) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	p.cfg = cfg
	// Token bucket: burst = rate per sec.
	p.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (p *Publisher) DryRun() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.DryRun
}

// Publish sends n once. Every failure is a *Error matching ErrPublish.
func (p *Publisher) Publish(ctx context.Context, n quake.Notification) (Result, error) {
	p.mu.Lock()
	cfg := p.cfg
	lim := p.limiter
	p.mu.Unlock()

	if err := quake.Validate(n); err != nil {
		return Result{}, p.fail(n, &Error{Kind: KindRejected, Cause: err})
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	if err := lim.Wait(ctx); err != nil {
		kind := KindRateLimit
		if ctx.Err() != nil {
			kind = KindNetwork
		}
		return Result{}, p.fail(n, &Error{Kind: kind, Cause: err})
	}

	start := time.Now()
	res, err := p.sink.Send(ctx, n)
	if err != nil {
		return Result{}, p.fail(n, classify(err))
	}
	res.Took = time.Since(start)

	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePublishSent, Data: eventbus.PublishEvent{
			EventID: n.EventID, URI: res.URI, DryRun: res.DryRun, Took: res.Took,
		}})
	}
	return res, nil
}

func (p *Publisher) fail(n quake.Notification, e *Error) error {
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{Type: eventbus.TypePublishFailed, Data: eventbus.PublishEvent{
			EventID: n.EventID, Kind: string(e.Kind), Error: e.Error(),
		}})
	}
	return e
}
