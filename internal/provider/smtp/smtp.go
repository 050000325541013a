// Package smtp implements a Provider that delivers through the SMTP session
// a message was built with.
package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

var _ provider.Provider = &Provider{}

// deliverFunc sends one message.
type deliverFunc func(ctx context.Context, msg *email.MimeMessage) error

// Provider sends messages over SMTP using go-mail.
type Provider struct {
	deliver    deliverFunc
	retryDelay time.Duration
}

// New creates an SMTP Provider.
func New() *Provider {
	return &Provider{
		deliver:    deliverMessage,
		retryDelay: provider.BaseRetryDelay,
	}
}

func deliverMessage(ctx context.Context, msg *email.MimeMessage) error {
	return msg.Deliver(ctx)
}

// newWithDeliver creates a Provider with a custom deliver function, used for testing.
func newWithDeliver(fn deliverFunc, retryDelay time.Duration) *Provider {
	return &Provider{deliver: fn, retryDelay: retryDelay}
}

// Send delivers msg. Temporary SMTP failures (4xx replies) are retried with
// exponential backoff; everything else fails immediately.
func (p *Provider) Send(ctx context.Context, msg *email.MimeMessage) error {
	var lastErr error
	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SMTP delivery",
				"attempt", attempt,
				"max_retries", provider.MaxRetries,
				"message_id", msg.MessageID(),
			)
			if err := provider.SleepWithContext(ctx, provider.BackoffDelay(p.retryDelay, attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		err := p.deliver(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isTemporary(err) {
			return err
		}
		slog.Warn("temporary SMTP error",
			"attempt", attempt,
			"error", err,
		)
	}

	return email.NewServiceError(fmt.Sprintf("SMTP delivery failed after %d retries", provider.MaxRetries), lastErr)
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "smtp"
}

func isTemporary(err error) bool {
	var sendErr *gomail.SendError
	if errors.As(err, &sendErr) {
		return sendErr.IsTemp()
	}
	return false
}
