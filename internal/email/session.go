package email

import (
	"crypto/tls"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Transport settings are stored as given. They are only validated when a
// session is acquired.

// SetHostName sets the SMTP server host. The empty string is the absent
// value; MailSession rejects it.
func (b *Builder) SetHostName(host string) { b.hostName = host }

// HostName returns the SMTP server host, or "" when none was set.
func (b *Builder) HostName() string { return b.hostName }

// SetSMTPPort sets the SMTP server port. Zero selects the default port.
func (b *Builder) SetSMTPPort(port int) { b.smtpPort = port }

// SMTPPort returns the port set with SetSMTPPort.
func (b *Builder) SMTPPort() int { return b.smtpPort }

// SetSSLSMTPPort sets the port used when SSL on connect is enabled and no
// SMTP port was set.
func (b *Builder) SetSSLSMTPPort(port int) { b.sslSMTPPort = port }

// SSLSMTPPort returns the SSL port, 465 unless changed.
func (b *Builder) SSLSMTPPort() int { return b.sslSMTPPort }

// SetSSLOnConnect makes the session open an implicit TLS connection.
func (b *Builder) SetSSLOnConnect(ssl bool) { b.sslOnConnect = ssl }

// SSLOnConnect reports whether SSL on connect is enabled.
func (b *Builder) SSLOnConnect() bool { return b.sslOnConnect }

// SetStartTLSEnabled makes the session use STARTTLS when the server offers it.
func (b *Builder) SetStartTLSEnabled(enabled bool) { b.startTLSEnabled = enabled }

// StartTLSEnabled reports whether opportunistic STARTTLS is enabled.
func (b *Builder) StartTLSEnabled() bool { return b.startTLSEnabled }

// SetStartTLSRequired makes STARTTLS mandatory. It implies STARTTLS enabled.
func (b *Builder) SetStartTLSRequired(required bool) { b.startTLSRequired = required }

// StartTLSRequired reports whether STARTTLS is mandatory.
func (b *Builder) StartTLSRequired() bool { return b.startTLSRequired }

// SetSocketConnectionTimeout sets the connection timeout in milliseconds.
// Values <= 0 leave the session's default in place.
func (b *Builder) SetSocketConnectionTimeout(millis int) { b.socketConnectionTimeout = millis }

// SocketConnectionTimeout returns the connection timeout in milliseconds.
func (b *Builder) SocketConnectionTimeout() int { return b.socketConnectionTimeout }

// SetAuthentication configures SMTP PLAIN authentication.
func (b *Builder) SetAuthentication(username, password string) {
	b.username = username
	b.password = password
}

// SetTLSConfig sets the TLS configuration used for SSL and STARTTLS.
func (b *Builder) SetTLSConfig(cfg *tls.Config) { b.tlsConfig = cfg }

// MailSession returns a go-mail client configured from the current transport
// settings. No connection is made. The client rejects an empty host name and
// out-of-range ports.
func (b *Builder) MailSession() (*gomail.Client, error) {
	opts := []gomail.Option{
		gomail.WithPort(b.effectivePort()),
		gomail.WithTLSPolicy(b.tlsPolicy()),
	}
	if b.socketConnectionTimeout > 0 {
		opts = append(opts, gomail.WithTimeout(time.Duration(b.socketConnectionTimeout)*time.Millisecond))
	}
	if b.sslOnConnect {
		opts = append(opts, gomail.WithSSL())
	}
	if b.tlsConfig != nil {
		opts = append(opts, gomail.WithTLSConfig(b.tlsConfig))
	}
	if b.username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(b.username),
			gomail.WithPassword(b.password),
		)
	}

	client, err := gomail.NewClient(b.hostName, opts...)
	if err != nil {
		return nil, NewSessionError("failed to create mail session", err)
	}
	return client, nil
}

func (b *Builder) effectivePort() int {
	switch {
	case b.smtpPort != 0:
		return b.smtpPort
	case b.sslOnConnect:
		return b.sslSMTPPort
	default:
		return DefaultSMTPPort
	}
}

func (b *Builder) tlsPolicy() gomail.TLSPolicy {
	switch {
	case b.startTLSRequired:
		return gomail.TLSMandatory
	case b.startTLSEnabled:
		return gomail.TLSOpportunistic
	default:
		return gomail.NoTLS
	}
}
