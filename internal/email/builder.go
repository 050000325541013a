// Package email implements a mutable email builder that is finalized exactly
// once into an immutable MIME message. Address parsing, MIME assembly and SMTP
// sessions are delegated to go-mail.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"net/textproto"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	gomail "github.com/wneessen/go-mail"
)

const (
	// DefaultSMTPPort is used when no port is set and SSL on connect is off.
	DefaultSMTPPort = 25

	// DefaultSSLSMTPPort is used when no port is set and SSL on connect is on.
	DefaultSSLSMTPPort = 465

	// DefaultTimeoutMillis is the default socket connection timeout.
	DefaultTimeoutMillis = 60000

	// ContentTypeTextPlain is the content type used by SetMsg and when
	// content is set without a type.
	ContentTypeTextPlain = "text/plain"
)

// Builder accumulates the parts of an email and finalizes them into a
// MimeMessage with BuildMimeMessage. A Builder is meant to be owned by one
// goroutine; only finalization is safe for concurrent use.
type Builder struct {
	from    *mail.Address
	bounce  *mail.Address
	to      []*mail.Address
	cc      []*mail.Address
	bcc     []*mail.Address
	replyTo []*mail.Address

	headers     map[string]string
	subject     string
	charset     string
	content     any
	contentType string
	sentDate    time.Time

	hostName                string
	smtpPort                int
	sslSMTPPort             int
	sslOnConnect            bool
	startTLSEnabled         bool
	startTLSRequired        bool
	socketConnectionTimeout int
	username                string
	password                string
	tlsConfig               *tls.Config

	mu      sync.Mutex
	message *MimeMessage
}

// New returns an empty Builder.
func New() *Builder {
	return &Builder{
		headers:                 make(map[string]string),
		sslSMTPPort:             DefaultSSLSMTPPort,
		socketConnectionTimeout: DefaultTimeoutMillis,
	}
}

// SetFrom parses addr and stores it as the sender.
func (b *Builder) SetFrom(addr string) error {
	return b.SetFromWithName(addr, "")
}

// SetFromWithName stores addr with the given display name as the sender.
func (b *Builder) SetFromWithName(addr, name string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	parsed, err := parseAddress(addr, name)
	if err != nil {
		return err
	}
	b.from = parsed
	return nil
}

// FromAddress returns the sender, or nil if none was set.
func (b *Builder) FromAddress() *mail.Address {
	return b.from
}

// SetBounceAddress sets the envelope sender used for bounces.
func (b *Builder) SetBounceAddress(addr string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	parsed, err := parseAddress(addr, "")
	if err != nil {
		return err
	}
	b.bounce = parsed
	return nil
}

// BounceAddress returns the envelope sender, or nil if none was set.
func (b *Builder) BounceAddress() *mail.Address {
	return b.bounce
}

// AddTo appends one or more addresses to the To list.
func (b *Builder) AddTo(addrs ...string) error {
	return b.addAddresses(&b.to, addrs)
}

// AddToWithName appends a single address with a display name to the To list.
func (b *Builder) AddToWithName(addr, name string) error {
	return b.addNamedAddress(&b.to, addr, name)
}

// AddCc appends one or more addresses to the Cc list.
func (b *Builder) AddCc(addrs ...string) error {
	return b.addAddresses(&b.cc, addrs)
}

// AddCcWithName appends a single address with a display name to the Cc list.
func (b *Builder) AddCcWithName(addr, name string) error {
	return b.addNamedAddress(&b.cc, addr, name)
}

// AddBcc appends one or more addresses to the Bcc list.
func (b *Builder) AddBcc(addrs ...string) error {
	return b.addAddresses(&b.bcc, addrs)
}

// AddBccWithName appends a single address with a display name to the Bcc list.
func (b *Builder) AddBccWithName(addr, name string) error {
	return b.addNamedAddress(&b.bcc, addr, name)
}

// AddReplyTo appends one or more addresses to the Reply-To list.
func (b *Builder) AddReplyTo(addrs ...string) error {
	return b.addAddresses(&b.replyTo, addrs)
}

// AddReplyToWithName appends a single address with a display name to the
// Reply-To list.
func (b *Builder) AddReplyToWithName(addr, name string) error {
	return b.addNamedAddress(&b.replyTo, addr, name)
}

// ToAddresses returns a copy of the To list.
func (b *Builder) ToAddresses() []*mail.Address { return copyAddresses(b.to) }

// CcAddresses returns a copy of the Cc list.
func (b *Builder) CcAddresses() []*mail.Address { return copyAddresses(b.cc) }

// BccAddresses returns a copy of the Bcc list.
func (b *Builder) BccAddresses() []*mail.Address { return copyAddresses(b.bcc) }

// ReplyToAddresses returns a copy of the Reply-To list.
func (b *Builder) ReplyToAddresses() []*mail.Address { return copyAddresses(b.replyTo) }

// AddHeader stores value under name, replacing any previous value whose name
// differs only in case. The name must be non-empty and must not be one of the
// headers the builder renders itself; the value may be empty.
func (b *Builder) AddHeader(name, value string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if err := validateHeader(name, value); err != nil {
		return err
	}
	for existing := range b.headers {
		if strings.EqualFold(existing, name) {
			delete(b.headers, existing)
		}
	}
	b.headers[name] = value
	return nil
}

// SetHeaders replaces all custom headers. Nothing is changed if any entry is
// invalid.
func (b *Builder) SetHeaders(headers map[string]string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	seen := make(map[string]string, len(headers))
	for name, value := range headers {
		if err := validateHeader(name, value); err != nil {
			return err
		}
		key := textproto.CanonicalMIMEHeaderKey(name)
		if other, ok := seen[key]; ok {
			return NewInvalidArgumentError(fmt.Sprintf("headers %q and %q differ only in case", other, name), nil)
		}
		seen[key] = name
	}
	b.headers = make(map[string]string, len(headers))
	for name, value := range headers {
		b.headers[name] = value
	}
	return nil
}

// Headers returns a copy of the custom headers.
func (b *Builder) Headers() map[string]string {
	out := make(map[string]string, len(b.headers))
	for k, v := range b.headers {
		out[k] = v
	}
	return out
}

// SetSubject sets the Subject header.
func (b *Builder) SetSubject(subject string) { b.subject = subject }

// Subject returns the subject set with SetSubject.
func (b *Builder) Subject() string { return b.subject }

// SetCharset sets the body charset. Empty keeps go-mail's UTF-8 default.
func (b *Builder) SetCharset(charset string) { b.charset = charset }

// Charset returns the charset set with SetCharset.
func (b *Builder) Charset() string { return b.charset }

// SetContent stores the body together with its content type. body may be nil,
// a string, a []byte, an io.Reader or a fmt.Stringer. A nil body produces an
// empty part of the given type.
func (b *Builder) SetContent(body any, contentType string) {
	b.content = body
	b.contentType = contentType
}

// Content returns the body and content type set with SetContent or SetMsg.
func (b *Builder) Content() (any, string) {
	return b.content, b.contentType
}

// SetMsg sets a plain text body.
func (b *Builder) SetMsg(msg string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if msg == "" {
		return NewInvalidArgumentError("invalid message supplied", nil)
	}
	b.SetContent(msg, ContentTypeTextPlain)
	return nil
}

// SetSentDate overrides the Date header. The zero time means "now at build".
func (b *Builder) SetSentDate(date time.Time) { b.sentDate = date }

// SentDate returns the date set with SetSentDate, or the zero time.
func (b *Builder) SentDate() time.Time { return b.sentDate }

// BuildMimeMessage validates the accumulated state and freezes it into a
// MimeMessage. It succeeds at most once per Builder; later calls return an
// ALREADY_BUILT error and leave the built message untouched. A failed build
// leaves the Builder unbuilt.
func (b *Builder) BuildMimeMessage() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.message != nil {
		return NewAlreadyBuiltError()
	}

	if b.from == nil {
		return NewValidationError("from address required", nil)
	}
	if len(b.to)+len(b.cc)+len(b.bcc) == 0 {
		return NewValidationError("at least one receiver address required", nil)
	}

	session, err := b.MailSession()
	if err != nil {
		return err
	}

	msg, err := b.assemble()
	if err != nil {
		return err
	}

	var raw bytes.Buffer
	if _, err := msg.WriteTo(&raw); err != nil {
		return NewValidationError("failed to render message", err)
	}

	b.message = &MimeMessage{
		msg:      msg,
		session:  session,
		raw:      raw.Bytes(),
		from:     b.from,
		to:       copyAddresses(b.to),
		cc:       copyAddresses(b.cc),
		bcc:      copyAddresses(b.bcc),
		replyTo:  copyAddresses(b.replyTo),
		subject:  b.subject,
		sentDate: b.sentDate,
	}

	slog.Debug("mime message built",
		"message_id", b.message.MessageID(),
		"recipients", len(b.to)+len(b.cc)+len(b.bcc),
		"bytes", raw.Len(),
	)

	return nil
}

// MimeMessage returns the built message, or nil before a successful build.
func (b *Builder) MimeMessage() *MimeMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.message
}

// Send builds the message and delivers it through the builder's mail
// session. It returns the Message-ID of the delivered message.
func (b *Builder) Send(ctx context.Context) (string, error) {
	if err := b.BuildMimeMessage(); err != nil {
		return "", err
	}
	msg := b.MimeMessage()
	if err := msg.Deliver(ctx); err != nil {
		return "", err
	}
	return msg.MessageID(), nil
}

// assemble hands every accumulated field to a go-mail message.
func (b *Builder) assemble() (*gomail.Msg, error) {
	msg := gomail.NewMsg()

	if b.charset != "" {
		msg.SetCharset(gomail.Charset(b.charset))
	}

	if err := msg.SetAddrHeader(gomail.HeaderFrom, b.from.String()); err != nil {
		return nil, NewInvalidAddressError("invalid from address", err)
	}
	if b.bounce != nil {
		if err := msg.EnvelopeFrom(b.bounce.String()); err != nil {
			return nil, NewInvalidAddressError("invalid bounce address", err)
		}
	}

	recipients := []struct {
		header gomail.AddrHeader
		list   []*mail.Address
	}{
		{gomail.HeaderTo, b.to},
		{gomail.HeaderCc, b.cc},
		{gomail.HeaderBcc, b.bcc},
	}
	for _, r := range recipients {
		if len(r.list) == 0 {
			continue
		}
		if err := msg.SetAddrHeader(r.header, addressStrings(r.list)...); err != nil {
			return nil, NewInvalidAddressError(fmt.Sprintf("invalid %s address", r.header), err)
		}
	}
	if len(b.replyTo) > 0 {
		msg.SetGenHeader(gomail.HeaderReplyTo, addressStrings(b.replyTo)...)
	}

	if b.subject != "" {
		msg.Subject(b.subject)
	}

	names := make([]string, 0, len(b.headers))
	for name := range b.headers {
		names = append(names, name)
	}
	sort.Strings(names)
	hasMessageID := false
	for _, name := range names {
		if strings.EqualFold(name, string(gomail.HeaderMessageID)) {
			msg.SetMessageIDWithValue(strings.Trim(strings.TrimSpace(b.headers[name]), "<>"))
			hasMessageID = true
			continue
		}
		msg.SetGenHeader(gomail.Header(textproto.CanonicalMIMEHeaderKey(name)), b.headers[name])
	}

	if err := b.setBody(msg); err != nil {
		return nil, err
	}

	if b.sentDate.IsZero() {
		msg.SetDate()
	} else {
		msg.SetDateWithValue(b.sentDate)
	}

	if !hasMessageID {
		msg.SetMessageIDWithValue(uuid.NewString() + "@" + domainOf(b.from.Address))
	}

	return msg, nil
}

func (b *Builder) setBody(msg *gomail.Msg) error {
	contentType := gomail.TypeTextPlain
	if b.contentType != "" {
		contentType = gomail.ContentType(b.contentType)
	}

	switch body := b.content.(type) {
	case nil:
		msg.SetBodyString(contentType, "")
	case string:
		msg.SetBodyString(contentType, body)
	case []byte:
		msg.SetBodyString(contentType, string(body))
	case io.Reader:
		data, err := io.ReadAll(body)
		if err != nil {
			return NewInvalidArgumentError("failed to read content", err)
		}
		msg.SetBodyString(contentType, string(data))
	case fmt.Stringer:
		msg.SetBodyString(contentType, body.String())
	default:
		return NewInvalidArgumentError(fmt.Sprintf("unsupported content of type %T", body), nil)
	}
	return nil
}

func (b *Builder) addAddresses(list *[]*mail.Address, addrs []string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if len(addrs) == 0 {
		return NewInvalidAddressError("address list provided was empty", nil)
	}
	parsed := make([]*mail.Address, 0, len(addrs))
	for _, addr := range addrs {
		a, err := parseAddress(addr, "")
		if err != nil {
			return err
		}
		parsed = append(parsed, a)
	}
	*list = append(*list, parsed...)
	return nil
}

func (b *Builder) addNamedAddress(list *[]*mail.Address, addr, name string) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	a, err := parseAddress(addr, name)
	if err != nil {
		return err
	}
	*list = append(*list, a)
	return nil
}

// checkMutable rejects changes to message content once the message is built.
func (b *Builder) checkMutable() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.message != nil {
		return NewAlreadyBuiltError()
	}
	return nil
}

func parseAddress(addr, name string) (*mail.Address, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, NewInvalidAddressError("address must not be empty", nil)
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return nil, NewInvalidAddressError(fmt.Sprintf("invalid address %q", addr), err)
	}
	if name != "" {
		parsed.Name = name
	}
	return parsed, nil
}

// reservedHeaders are rendered from builder state and can not be set as
// custom headers. Keys are canonical MIME header keys.
var reservedHeaders = map[string]bool{
	"From":                      true,
	"Sender":                    true,
	"To":                        true,
	"Cc":                        true,
	"Bcc":                       true,
	"Reply-To":                  true,
	"Subject":                   true,
	"Date":                      true,
	"Mime-Version":              true,
	"Content-Type":              true,
	"Content-Transfer-Encoding": true,
}

func validateHeader(name, value string) error {
	if strings.TrimSpace(name) == "" {
		return NewInvalidArgumentError("header name can not be empty", nil)
	}
	if strings.ContainsAny(name, ": \t\r\n") {
		return NewInvalidArgumentError(fmt.Sprintf("invalid header name %q", name), nil)
	}
	if reservedHeaders[textproto.CanonicalMIMEHeaderKey(name)] {
		return NewInvalidArgumentError(fmt.Sprintf("header %q is set by the builder", name), nil)
	}
	if strings.EqualFold(name, string(gomail.HeaderMessageID)) && strings.Trim(strings.TrimSpace(value), "<>") == "" {
		return NewInvalidArgumentError("Message-ID header value can not be empty", nil)
	}
	if strings.ContainsAny(value, "\r\n") {
		return NewInvalidArgumentError(fmt.Sprintf("header %q value contains a line break", name), nil)
	}
	return nil
}

func copyAddresses(in []*mail.Address) []*mail.Address {
	out := make([]*mail.Address, len(in))
	for i, a := range in {
		c := *a
		out[i] = &c
	}
	return out
}

func addressStrings(list []*mail.Address) []string {
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.String()
	}
	return out
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
