// Package parser reads rendered RFC 5322 messages back into their parts,
// for previews and for checking what a build produced.
package parser

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message is the parsed view of a rendered email.
type Message struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	ReplyTo     []string
	Subject     string
	Date        time.Time
	MessageID   string
	ContentType string
	TextBody    string
	HTMLBody    string
	Attachments []Attachment
	Headers     map[string][]string
}

// Attachment describes a non-body part. Content is not retained.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int64
}

// Parse parses raw into a Message. Text and HTML parts fill the bodies (the
// first of each wins); other parts are listed as attachments.
func Parse(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	msg := &Message{
		Headers: make(map[string][]string),
	}

	fields := h.Fields()
	for fields.Next() {
		key := fields.Key()
		value, err := fields.Text()
		if err != nil {
			value = fields.Value()
		}
		msg.Headers[key] = append(msg.Headers[key], value)
	}

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
	}
	msg.To = addressList(h, "To")
	msg.Cc = addressList(h, "Cc")
	msg.Bcc = addressList(h, "Bcc")
	msg.ReplyTo = addressList(h, "Reply-To")

	if msg.Subject, err = h.Subject(); err != nil {
		msg.Subject = h.Get("Subject")
	}
	if date, err := h.Date(); err == nil {
		msg.Date = date
	}
	if id, err := h.MessageID(); err == nil {
		msg.MessageID = id
	}
	if ct, _, err := h.ContentType(); err == nil {
		msg.ContentType = ct
	}
	if msg.ContentType == "" {
		msg.ContentType = "text/plain"
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read message part: %w", err)
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			contentType, _, _ := ph.ContentType()
			body, err := io.ReadAll(part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read %s part: %w", contentType, err)
			}
			switch {
			case contentType == "" || strings.HasPrefix(contentType, "text/plain"):
				if msg.TextBody == "" {
					msg.TextBody = string(body)
				}
			case strings.HasPrefix(contentType, "text/html"):
				if msg.HTMLBody == "" {
					msg.HTMLBody = string(body)
				}
			default:
				slog.Debug("inline part listed as attachment",
					"content_type", contentType,
				)
				msg.Attachments = append(msg.Attachments, Attachment{
					ContentType: contentType,
					Size:        int64(len(body)),
				})
			}

		case *mail.AttachmentHeader:
			filename, _ := ph.Filename()
			contentType, _, _ := ph.ContentType()
			n, err := io.Copy(io.Discard, part.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to read attachment %q: %w", filename, err)
			}
			msg.Attachments = append(msg.Attachments, Attachment{
				Filename:    filename,
				ContentType: contentType,
				Size:        n,
			})
		}
	}

	return msg, nil
}

func addressList(h mail.Header, key string) []string {
	list, err := h.AddressList(key)
	if err != nil {
		slog.Warn("failed to parse address header",
			"header", key,
			"error", err,
		)
		return nil
	}
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Address
	}
	return out
}
