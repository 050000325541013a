package email

import (
	"bytes"
	"context"
	"io"
	"net/mail"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// MimeMessage is a finalized, transport-ready message produced by
// Builder.BuildMimeMessage. Its content never changes after the build.
type MimeMessage struct {
	msg     *gomail.Msg
	session *gomail.Client
	raw     []byte

	from     *mail.Address
	to       []*mail.Address
	cc       []*mail.Address
	bcc      []*mail.Address
	replyTo  []*mail.Address
	subject  string
	sentDate time.Time
}

// MessageID returns the Message-ID header value without angle brackets.
func (m *MimeMessage) MessageID() string {
	return strings.Trim(m.msg.GetMessageID(), "<>")
}

// Sender returns the bare From address.
func (m *MimeMessage) Sender() string {
	return m.from.Address
}

// From returns the From address including its display name.
func (m *MimeMessage) From() *mail.Address {
	c := *m.from
	return &c
}

// To returns the bare To addresses.
func (m *MimeMessage) To() []string { return bareAddresses(m.to) }

// Cc returns the bare Cc addresses.
func (m *MimeMessage) Cc() []string { return bareAddresses(m.cc) }

// Bcc returns the bare Bcc addresses. They are not part of Bytes.
func (m *MimeMessage) Bcc() []string { return bareAddresses(m.bcc) }

// ReplyTo returns the bare Reply-To addresses.
func (m *MimeMessage) ReplyTo() []string { return bareAddresses(m.replyTo) }

// Recipients returns every envelope recipient: To, Cc and Bcc in that order.
func (m *MimeMessage) Recipients() []string {
	out := make([]string, 0, len(m.to)+len(m.cc)+len(m.bcc))
	out = append(out, m.To()...)
	out = append(out, m.Cc()...)
	return append(out, m.Bcc()...)
}

// Subject returns the subject the message was built with.
func (m *MimeMessage) Subject() string { return m.subject }

// SentDate returns the explicit sent date the message was built with, or the
// zero time when the Date header was generated at build time.
func (m *MimeMessage) SentDate() time.Time { return m.sentDate }

// Bytes returns a copy of the rendered RFC 5322 message. Bcc recipients are
// not part of the rendered headers.
func (m *MimeMessage) Bytes() []byte {
	return bytes.Clone(m.raw)
}

// BytesWithBcc returns the rendered message with a Bcc header prepended, for
// APIs that take their recipients from the raw message.
func (m *MimeMessage) BytesWithBcc() []byte {
	if len(m.bcc) == 0 {
		return m.Bytes()
	}
	var buf bytes.Buffer
	buf.WriteString("Bcc: ")
	buf.WriteString(strings.Join(addressStrings(m.bcc), ", "))
	buf.WriteString("\r\n")
	buf.Write(m.raw)
	return buf.Bytes()
}

// WriteTo writes the rendered message to w.
func (m *MimeMessage) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.raw)
	return int64(n), err
}

// Deliver sends the message through its mail session.
func (m *MimeMessage) Deliver(ctx context.Context) error {
	if err := m.session.DialAndSendWithContext(ctx, m.msg); err != nil {
		return NewServiceError("failed to deliver message via SMTP", err)
	}
	return nil
}

func bareAddresses(list []*mail.Address) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Address
	}
	return out
}
