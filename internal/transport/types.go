package transport

import "context"

// ChatTarget addresses a chat (and optional forum thread) on the operator
// messaging channel.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers operator-facing text. The recorder only ever pushes
// notifications, it never consumes updates.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
