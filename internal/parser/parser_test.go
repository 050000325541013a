package parser

import (
	"strings"
	"testing"
	"time"

	"github.com/shineum/mailcompose/internal/email"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: Sender <sender@example.com>",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Date: Mon, 02 Jan 2006 15:04:05 +0000",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "test123@example.com" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "test123@example.com")
	}
	if want := time.Date(2006, 1, 2, 15, 4, 5, 0, time.UTC); !msg.Date.Equal(want) {
		t.Errorf("Date: got %v, want %v", msg.Date, want)
	}
	if msg.ContentType != "text/plain" {
		t.Errorf("ContentType: got %q, want %q", msg.ContentType, "text/plain")
	}
	if msg.TextBody != "Hello, this is a plain text email." {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Hello, this is a plain text email.")
	}
	if msg.HTMLBody != "" {
		t.Errorf("HTMLBody: got %q, want empty", msg.HTMLBody)
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.To) != 2 {
		t.Fatalf("To: got %d recipients, want 2", len(msg.To))
	}
	if msg.To[0] != "alice@example.com" || msg.To[1] != "bob@example.com" {
		t.Errorf("To: got %v", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != "carol@example.com" {
		t.Errorf("Cc: got %v, want [carol@example.com]", msg.Cc)
	}
	if msg.ContentType != "multipart/alternative" {
		t.Errorf("ContentType: got %q, want %q", msg.ContentType, "multipart/alternative")
	}
	if msg.TextBody != "Plain text body" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text body")
	}
	if msg.HTMLBody != "<html><body><p>HTML body</p></body></html>" {
		t.Errorf("HTMLBody: got %q, want %q", msg.HTMLBody, "<html><body><p>HTML body</p></body></html>")
	}
}

func TestParseEmailWithAttachments(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: With Attachment",
		"Content-Type: multipart/mixed; boundary=mixedboundary",
		"",
		"--mixedboundary",
		"Content-Type: text/plain",
		"",
		"Email body text",
		"--mixedboundary",
		"Content-Type: application/pdf; name=\"report.pdf\"",
		"Content-Disposition: attachment; filename=\"report.pdf\"",
		"Content-Transfer-Encoding: base64",
		"",
		"SGVsbG8gV29ybGQ=",
		"--mixedboundary--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextBody != "Email body text" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Email body text")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}

	att := msg.Attachments[0]
	if att.Filename != "report.pdf" {
		t.Errorf("Attachment Filename: got %q, want %q", att.Filename, "report.pdf")
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("Attachment ContentType: got %q, want %q", att.ContentType, "application/pdf")
	}
	if att.Size != int64(len("Hello World")) {
		t.Errorf("Attachment Size: got %d, want %d", att.Size, len("Hello World"))
	}
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextBody != "Plain text part" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text part")
	}
	if msg.HTMLBody != "<p>HTML part</p>" {
		t.Errorf("HTMLBody: got %q, want %q", msg.HTMLBody, "<p>HTML part</p>")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	if msg.Attachments[0].Filename != "data.bin" {
		t.Errorf("Attachment Filename: got %q, want %q", msg.Attachments[0].Filename, "data.bin")
	}
}

func TestParseEmptyAddressFields(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Subject: No To",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.To != nil {
		t.Errorf("To: got %v, want nil", msg.To)
	}
	if msg.Cc != nil {
		t.Errorf("Cc: got %v, want nil", msg.Cc)
	}
	if msg.ReplyTo != nil {
		t.Errorf("ReplyTo: got %v, want nil", msg.ReplyTo)
	}
}

func TestParseHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"X-Custom-Header: custom-value",
		"Subject: Headers Test",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if vals, ok := msg.Headers["X-Custom-Header"]; !ok || len(vals) == 0 || vals[0] != "custom-value" {
		t.Errorf("X-Custom-Header: got %v, want [custom-value]", vals)
	}
}

func TestParseBuiltMessage(t *testing.T) {
	t.Parallel()

	sent := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	b := email.New()
	b.SetHostName("localhost")
	for _, err := range []error{
		b.SetFromWithName("sender@example.com", "Sender"),
		b.AddTo("alice@example.com", "bob@example.com"),
		b.AddCc("carol@example.com"),
		b.AddReplyTo("replies@example.com"),
		b.AddHeader("X-Campaign", "spring"),
	} {
		if err != nil {
			t.Fatalf("builder setup: %v", err)
		}
	}
	b.SetSubject("Quarterly report")
	b.SetSentDate(sent)
	b.SetContent("<p>Numbers are up</p>", "text/html")
	if err := b.BuildMimeMessage(); err != nil {
		t.Fatalf("BuildMimeMessage: %v", err)
	}
	built := b.MimeMessage()

	msg, err := Parse(built.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if strings.Join(msg.To, ",") != "alice@example.com,bob@example.com" {
		t.Errorf("To: got %v", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != "carol@example.com" {
		t.Errorf("Cc: got %v", msg.Cc)
	}
	if len(msg.ReplyTo) != 1 || msg.ReplyTo[0] != "replies@example.com" {
		t.Errorf("ReplyTo: got %v", msg.ReplyTo)
	}
	if msg.Subject != "Quarterly report" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Quarterly report")
	}
	if !msg.Date.Equal(sent) {
		t.Errorf("Date: got %v, want %v", msg.Date, sent)
	}
	if msg.MessageID != built.MessageID() {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, built.MessageID())
	}
	if !strings.Contains(msg.HTMLBody, "Numbers are up") {
		t.Errorf("HTMLBody: got %q", msg.HTMLBody)
	}
	if vals := msg.Headers["X-Campaign"]; len(vals) != 1 || vals[0] != "spring" {
		t.Errorf("X-Campaign: got %v, want [spring]", vals)
	}
}
