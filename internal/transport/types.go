package transport

import "context"

// ChatTarget addresses an operator chat (and optionally a forum topic).
type ChatTarget struct {
	ChatID   int64
	ThreadID int // telegram forum topic thread id (0 if none)
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers plain operator messages. It carries log forwarding only;
// earthquake posts go through the publisher.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}
