package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LinkCreated is the event behind the creation email.
type LinkCreated struct {
	LinkID        string
	URL           string
	Title         string
	OwnerEmail    string
	CreatedAt     time.Time
	EditableUntil time.Time
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	Sender          Sender
	MaxRetries      uint64
	InitialInterval time.Duration
	// BaseURL is the public API origin used to build the link address in the email.
	BaseURL string
	Logger  *slog.Logger
}

// Dispatcher renders notification events and delivers them with bounded retries.
type Dispatcher struct {
	sender     Sender
	maxRetries uint64
	initial    time.Duration
	baseURL    string
	logger     *slog.Logger
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sender == nil {
		cfg.Sender = LogSender{Logger: cfg.Logger}
	}
	return &Dispatcher{
		sender:     cfg.Sender,
		maxRetries: cfg.MaxRetries,
		initial:    cfg.InitialInterval,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		logger:     cfg.Logger,
	}
}

// SendLinkCreated emails the owner about a new link. A missing address is skipped.
func (d *Dispatcher) SendLinkCreated(ctx context.Context, ev LinkCreated) error {
	if ev.OwnerEmail == "" {
		d.logger.DebugContext(ctx, "creation email skipped, owner has no email", "link_id", ev.LinkID)
		return nil
	}
	return d.deliver(ctx, d.renderLinkCreated(ev))
}

func (d *Dispatcher) renderLinkCreated(ev LinkCreated) Message {
	title := ev.Title
	if title == "" {
		title = ev.URL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your link has been saved.\n\n")
	fmt.Fprintf(&b, "Title: %s\n", title)
	fmt.Fprintf(&b, "URL:   %s\n", ev.URL)
	if d.baseURL != "" {
		fmt.Fprintf(&b, "View:  %s/links/%s\n", d.baseURL, ev.LinkID)
	}
	fmt.Fprintf(&b, "\nYou can edit the title and description until %s (UTC).\n",
		ev.EditableUntil.UTC().Format("2006-01-02 15:04:05"))

	return Message{
		To:      ev.OwnerEmail,
		Subject: "Link saved: " + truncate(title, 80),
		Body:    b.String(),
	}
}

func (d *Dispatcher) deliver(ctx context.Context, msg Message) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = d.initial
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, d.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := d.sender.Send(ctx, msg)
		var perm *PermanentError
		if errors.As(err, &perm) {
			return backoff.Permanent(err)
		}
		if err != nil {
			d.logger.WarnContext(ctx, "email attempt failed", "attempt", attempt, "error", err)
		}
		return err
	}, policy)
	if err != nil {
		return fmt.Errorf("send %q after %d attempt(s): %w", msg.Subject, attempt, err)
	}
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
