// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/mailcompose/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider hands a built MIME message to its target service
// (an SMTP server, AWS SES, the Gmail API, Microsoft Graph or stdout).
type Provider interface {
	// Send delivers a built message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.MimeMessage) error

	// Name returns the human-readable name of this provider.
	Name() string
}
