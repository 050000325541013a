// Package stdout implements a Provider that prints built emails to standard
// output instead of delivering them.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/parser"
	"github.com/shineum/mailcompose/internal/provider"
)

var _ provider.Provider = &Provider{}

const separator = "========================================\n"

// Provider prints email messages in a human-readable format.
type Provider struct {
	writer io.Writer
}

// New creates a new stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a new stdout Provider that writes to the given writer.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send parses the rendered message and prints a summary of it.
func (p *Provider) Send(_ context.Context, msg *email.MimeMessage) error {
	raw := msg.Bytes()
	parsed, err := parser.Parse(raw)
	if err != nil {
		return email.NewUnknownError("failed to parse built message", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "Message-ID: %s\n", parsed.MessageID)
	if !parsed.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", parsed.Date.Format(time.RFC1123Z))
	}
	fmt.Fprintf(&b, "From: %s\n", parsed.From)
	if len(parsed.To) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(parsed.To, ", "))
	}
	if len(parsed.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(parsed.Cc, ", "))
	}
	if bcc := msg.Bcc(); len(bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(bcc, ", "))
	}
	if len(parsed.ReplyTo) > 0 {
		fmt.Fprintf(&b, "Reply-To: %s\n", strings.Join(parsed.ReplyTo, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", parsed.Subject)
	fmt.Fprintf(&b, "Content-Type: %s (%s)\n", parsed.ContentType, formatSize(int64(len(raw))))
	b.WriteString("Body:\n")

	body := parsed.TextBody
	if body == "" {
		body = parsed.HTMLBody
	}
	b.WriteString(strings.TrimRight(body, "\r\n") + "\n")

	if len(parsed.Attachments) > 0 {
		attachments := make([]string, 0, len(parsed.Attachments))
		for _, att := range parsed.Attachments {
			name := att.Filename
			if name == "" {
				name = att.ContentType
			}
			attachments = append(attachments, fmt.Sprintf("%s (%s)", name, formatSize(att.Size)))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message summary: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
