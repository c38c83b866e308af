package logx

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "quakebot/internal/transport"
)

const (
	forwardQueue   = 256
	forwardTimeout = 10 * time.Second
	forwardMaxLen  = 3500
	forwardMaxVal  = 600
)

// forwarder is a zerolog.LevelWriter that queues warn+ lines for the
// operator chat. Write never blocks; a full queue or an exhausted rate
// budget drops the line.
type forwarder struct {
	sender kit.Sender
	queue  chan forwardItem

	mu       sync.Mutex
	target   kit.ChatTarget
	minLevel zerolog.Level
	limiter  *rate.Limiter

	start  sync.Once
	cancel context.CancelFunc
	done   chan struct{}
}

type forwardItem struct {
	to  kit.ChatTarget
	msg string
}

func newForwarder(sender kit.Sender) *forwarder {
	return &forwarder{
		sender:   sender,
		queue:    make(chan forwardItem, forwardQueue),
		minLevel: zerolog.WarnLevel,
		limiter:  rate.NewLimiter(1, 1),
	}
}

func (f *forwarder) configure(cfg ForwardConfig) {
	rps := max(1, cfg.RatePerSec)
	f.mu.Lock()
	f.target = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	f.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	f.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	f.mu.Unlock()

	if cfg.Enabled {
		f.start.Do(func() {
			ctx, cancel := context.WithCancel(context.Background())
			f.cancel = cancel
			f.done = make(chan struct{})
			go f.run(ctx)
		})
	}
}

func (f *forwarder) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-f.queue:
			sctx, cancel := context.WithTimeout(ctx, forwardTimeout)
			_ = f.sender.SendText(sctx, it.to, it.msg, &kit.SendOptions{DisablePreview: true})
			cancel()
		}
	}
}

func (f *forwarder) close() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}

func (f *forwarder) Write(p []byte) (int, error) { return f.WriteLevel(zerolog.InfoLevel, p) }

func (f *forwarder) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	f.mu.Lock()
	to, minLevel, lim := f.target, f.minLevel, f.limiter
	f.mu.Unlock()

	if to.ChatID == 0 || level < minLevel || !lim.Allow() {
		return len(p), nil
	}
	if msg := formatForward(p); msg != "" {
		select {
		case f.queue <- forwardItem{to: to, msg: msg}:
		default:
		}
	}
	return len(p), nil
}

// formatForward renders one JSON log line for a chat:
//
//	[ERROR] poller: publish failed
//	- event_id=us7000abcd
//	- err=...
func formatForward(p []byte) string {
	line := strings.TrimSpace(string(p))
	var m map[string]any
	if err := json.Unmarshal([]byte(line), &m); err != nil {
		return clip(line, forwardMaxLen)
	}

	var b strings.Builder
	if lvl, _ := m["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	if comp, _ := m["comp"].(string); comp != "" {
		b.WriteString(comp + ": ")
	}
	msg, _ := m["message"].(string)
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "comp", zerolog.CallerFieldName:
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(m[k]), forwardMaxVal))
	}
	return clip(b.String(), forwardMaxLen)
}

// clip cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
