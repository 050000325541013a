package main

import (
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/email"
)

// stringList is a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ", ") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// composeOptions are the per-message command line settings.
type composeOptions struct {
	from        string
	to          stringList
	cc          stringList
	bcc         stringList
	replyTo     stringList
	subject     string
	body        string
	bodyReader  io.Reader
	contentType string
	charset     string
	headers     stringList
	sentDate    time.Time
}

// sessionSettings are the transport settings applied to the builder.
type sessionSettings struct {
	host      string
	password  string
	tlsConfig *tls.Config
}

// newBuilder populates an email.Builder from configuration and flags. The
// returned builder is not yet built.
func newBuilder(cfg *config.Config, sess sessionSettings, opts composeOptions) (*email.Builder, error) {
	b := email.New()

	b.SetHostName(sess.host)
	if cfg.SMTP.Port != 0 {
		b.SetSMTPPort(cfg.SMTP.Port)
	}
	b.SetSSLSMTPPort(cfg.SMTP.SSLPort)
	b.SetSSLOnConnect(cfg.SMTP.SSLOnConnect)
	b.SetStartTLSEnabled(cfg.SMTP.StartTLS)
	b.SetStartTLSRequired(cfg.SMTP.StartTLSRequired)
	b.SetSocketConnectionTimeout(cfg.SMTP.TimeoutMS)
	if cfg.SMTP.Username != "" {
		b.SetAuthentication(cfg.SMTP.Username, sess.password)
	}
	if sess.tlsConfig != nil {
		b.SetTLSConfig(sess.tlsConfig)
	}

	from := opts.from
	if from == "" {
		from = cfg.Message.From
	}
	if from != "" {
		if err := b.SetFrom(from); err != nil {
			return nil, err
		}
	}
	if cfg.Message.BounceAddress != "" {
		if err := b.SetBounceAddress(cfg.Message.BounceAddress); err != nil {
			return nil, err
		}
	}

	for _, list := range []struct {
		add   func(...string) error
		addrs []string
	}{
		{b.AddTo, opts.to},
		{b.AddCc, opts.cc},
		{b.AddBcc, opts.bcc},
		{b.AddReplyTo, opts.replyTo},
	} {
		if len(list.addrs) == 0 {
			continue
		}
		if err := list.add(list.addrs...); err != nil {
			return nil, err
		}
	}

	for _, h := range opts.headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, email.NewInvalidArgumentError(fmt.Sprintf("header %q must be Name:Value", h), nil)
		}
		if err := b.AddHeader(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}

	charset := opts.charset
	if charset == "" {
		charset = cfg.Message.Charset
	}
	b.SetCharset(charset)
	b.SetSubject(opts.subject)

	if !opts.sentDate.IsZero() {
		b.SetSentDate(opts.sentDate)
	}

	contentType := opts.contentType
	if contentType == "" {
		contentType = email.ContentTypeTextPlain
	}
	switch {
	case opts.bodyReader != nil:
		b.SetContent(opts.bodyReader, contentType)
	case opts.body != "":
		b.SetContent(opts.body, contentType)
	}

	return b, nil
}

// sessionHost returns the SMTP host for the builder's session. API providers
// never open the session, so they fall back to localhost when none is set.
func sessionHost(cfg *config.Config) string {
	if cfg.SMTP.Host != "" || cfg.Provider == config.ProviderSMTP {
		return cfg.SMTP.Host
	}
	return "localhost"
}
