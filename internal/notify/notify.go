// Package notify delivers transactional email. Delivery is best-effort: callers queue
// it after the link is committed and never wait on it.
package notify

//go:generate mockgen -source=notify.go -destination=mocks/sender.go -package=mocks

import (
	"context"
	"log/slog"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log instead of sending them. It is used when no
// SMTP relay is configured.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, msg Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "email not sent, no SMTP relay configured",
		"to", msg.To,
		"subject", msg.Subject,
	)
	return nil
}
