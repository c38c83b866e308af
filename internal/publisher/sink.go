package publisher

import (
	"context"

	"quakebot/internal/quake"
	"quakebot/internal/transport/bluesky"
	logx "quakebot/pkg/logx"
)

// Sink delivers one notification. Implementations must not retry.
type Sink interface {
	Send(ctx context.Context, n quake.Notification) (Result, error)
}

// poster is the subset of *bluesky.Client used by BlueskySink.
type poster interface {
	CreatePost(ctx context.Context, p bluesky.Post) (bluesky.RecordRef, error)
}

// BlueskySink posts notifications as app.bsky.feed.post records.
type BlueskySink struct {
	client poster
	langs  []string
}

func NewBlueskySink(client *bluesky.Client, langs ...string) *BlueskySink {
	return &BlueskySink{client: client, langs: langs}
}

func (s *BlueskySink) Send(ctx context.Context, n quake.Notification) (Result, error) {
	p := bluesky.Post{Text: n.Text, Langs: s.langs}
	for _, l := range n.Links {
		p.Links = append(p.Links, bluesky.Link{Start: l.Start, End: l.End, URI: l.URL})
	}
	if n.Embed != nil {
		p.External = &bluesky.External{URI: n.Embed.URI, Title: n.Embed.Title, Description: n.Embed.Description}
	}
	ref, err := s.client.CreatePost(ctx, p)
	if err != nil {
		return Result{}, err
	}
	return Result{URI: ref.URI, CID: ref.CID}, nil
}

// LogSink only logs the post text. Used for dry runs.
type LogSink struct {
	log logx.Logger
}

func NewLogSink(log logx.Logger) *LogSink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &LogSink{log: log}
}

func (s *LogSink) Send(ctx context.Context, n quake.Notification) (Result, error) {
	_ = ctx
	s.log.Info("dry-run post",
		logx.String("event_id", n.EventID),
		logx.String("text", n.Text),
		logx.Int("links", len(n.Links)),
	)
	return Result{DryRun: true}, nil
}
