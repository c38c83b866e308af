package publisher

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"quakebot/internal/eventbus"
	"quakebot/internal/quake"
	"quakebot/internal/transport/bluesky"
	logx "quakebot/pkg/logx"
)

type fakeSink struct {
	calls atomic.Int32
	err   error
	delay time.Duration
}

func (f *fakeSink) Send(ctx context.Context, n quake.Notification) (Result, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{URI: "at://post/" + n.EventID}, nil
}

func validNotification(t *testing.T) quake.Notification {
	t.Helper()
	m := 6.0
	n, err := quake.NewFormatter("", "").Format(quake.Event{
		ID: "us1", Place: "Southern Alaska", Magnitude: &m, DetailsURL: "https://example.test/us1",
	})
	if err != nil {
		t.Fatalf("Format error: %v", err)
	}
	return n
}

func TestPublishSuccess(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(4)
	defer unsub()

	p := New(Config{RatePerSec: 10}, sink, logx.Nop(), bus)
	res, err := p.Publish(context.Background(), validNotification(t))
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if res.URI != "at://post/us1" || res.DryRun {
		t.Fatalf("unexpected result: %+v", res)
	}
	if e := <-events; e.Type != eventbus.TypePublishSent {
		t.Fatalf("event = %q, want %q", e.Type, eventbus.TypePublishSent)
	}
}

func TestPublishClassifiesErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		kind Kind
	}{
		{name: "unauthorized", err: &bluesky.APIError{Status: http.StatusUnauthorized}, kind: KindAuth},
		{name: "expired token", err: &bluesky.APIError{Status: http.StatusBadRequest, Code: "ExpiredToken"}, kind: KindAuth},
		{name: "no credentials", err: bluesky.ErrNoCredentials, kind: KindAuth},
		{name: "rate limited", err: &bluesky.APIError{Status: http.StatusTooManyRequests}, kind: KindRateLimit},
		{name: "rejected", err: &bluesky.APIError{Status: http.StatusBadRequest, Code: "InvalidRequest"}, kind: KindRejected},
		{name: "network", err: errors.New("dial tcp: connection refused"), kind: KindNetwork},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sink := &fakeSink{err: tt.err}
			p := New(Config{RatePerSec: 10}, sink, logx.Nop(), nil)
			_, err := p.Publish(context.Background(), validNotification(t))
			if !errors.Is(err, ErrPublish) {
				t.Fatalf("err = %v, want ErrPublish", err)
			}
			var pe *Error
			if !errors.As(err, &pe) || pe.Kind != tt.kind {
				t.Fatalf("kind = %v, want %v", pe, tt.kind)
			}
			if sink.calls.Load() != 1 {
				t.Fatalf("sink calls = %d, want exactly 1 (no retry)", sink.calls.Load())
			}
		})
	}
}

func TestPublishRejectsInvalidNotification(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	p := New(Config{}, sink, logx.Nop(), nil)
	n := validNotification(t)
	n.Links[0].End = len(n.Text) + 5

	_, err := p.Publish(context.Background(), n)
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindRejected {
		t.Fatalf("err = %v, want rejected", err)
	}
	if !errors.Is(err, quake.ErrInvalidNotification) {
		t.Fatalf("err = %v, want wrapped ErrInvalidNotification", err)
	}
	if sink.calls.Load() != 0 {
		t.Fatal("sink must not be called for an invalid notification")
	}
}

func TestPublishTimeout(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{delay: time.Second}
	p := New(Config{Timeout: 20 * time.Millisecond}, sink, logx.Nop(), nil)
	_, err := p.Publish(context.Background(), validNotification(t))
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindNetwork {
		t.Fatalf("err = %v, want network", err)
	}
}

func TestDryRunUsesLogSink(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	p := New(Config{DryRun: true}, sink, logx.Nop(), nil)
	res, err := p.Publish(context.Background(), validNotification(t))
	if err != nil {
		t.Fatalf("Publish error: %v", err)
	}
	if !res.DryRun || !p.DryRun() {
		t.Fatalf("expected dry-run result, got %+v", res)
	}
	if sink.calls.Load() != 0 {
		t.Fatal("real sink must not be called in dry-run mode")
	}
}

func TestApplyUpdatesLimitsNotMode(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{delay: 200 * time.Millisecond}
	p := New(Config{Timeout: time.Second}, sink, logx.Nop(), nil)

	p.Apply(Config{Timeout: 20 * time.Millisecond, RatePerSec: 5, DryRun: true})
	if p.DryRun() {
		t.Fatal("Apply must not switch a live publisher to dry-run")
	}
	_, err := p.Publish(context.Background(), validNotification(t))
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindNetwork {
		t.Fatalf("err = %v, want network timeout from the applied config", err)
	}
	if sink.calls.Load() != 1 {
		t.Fatalf("sink calls = %d, want 1", sink.calls.Load())
	}
}
