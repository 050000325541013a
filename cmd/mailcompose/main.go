// Package main is the entry point for the mailcompose command, which builds
// one email from flags and configuration and delivers it through the
// configured provider.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/mailcompose/internal/config"
	"github.com/shineum/mailcompose/internal/credential"
	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/journal"
	"github.com/shineum/mailcompose/internal/provider"
	"github.com/shineum/mailcompose/internal/provider/gmail"
	"github.com/shineum/mailcompose/internal/provider/graph"
	"github.com/shineum/mailcompose/internal/provider/ses"
	smtpprovider "github.com/shineum/mailcompose/internal/provider/smtp"
	"github.com/shineum/mailcompose/internal/provider/stdout"
	mailtls "github.com/shineum/mailcompose/internal/tls"
)

func main() {
	var opts composeOptions

	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", "", "path to a .env file loaded before the environment is read")
	flag.StringVar(&opts.from, "from", "", "sender address (overrides MAIL_FROM)")
	flag.Var(&opts.to, "to", "recipient address (repeatable)")
	flag.Var(&opts.cc, "cc", "carbon copy address (repeatable)")
	flag.Var(&opts.bcc, "bcc", "blind carbon copy address (repeatable)")
	flag.Var(&opts.replyTo, "reply-to", "reply-to address (repeatable)")
	flag.StringVar(&opts.subject, "subject", "", "message subject")
	flag.StringVar(&opts.body, "body", "", "message body")
	bodyFile := flag.String("body-file", "", "read the message body from a file, - for stdin")
	flag.StringVar(&opts.contentType, "content-type", "", "body content type (default text/plain)")
	flag.StringVar(&opts.charset, "charset", "", "body charset (overrides MAIL_CHARSET)")
	flag.Var(&opts.headers, "header", "extra header as Name:Value (repeatable)")
	date := flag.String("date", "", "sent date in RFC 3339 format (default: now)")
	dryRun := flag.Bool("dry-run", false, "print the built message instead of sending it")
	flag.Parse()

	if *envFile != "" {
		if err := config.LoadEnvFile(*envFile); err != nil {
			slog.Error("failed to load env file", "error", err)
			os.Exit(1)
		}
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	if *dryRun {
		cfg.Provider = config.ProviderStdout
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if *date != "" {
		sent, err := time.Parse(time.RFC3339, *date)
		if err != nil {
			slog.Error("invalid -date value", "date", *date, "error", err)
			os.Exit(1)
		}
		opts.sentDate = sent
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if *bodyFile != "" {
		r, closeBody, err := openBody(*bodyFile)
		if err != nil {
			slog.Error("failed to open body file", "error", err)
			os.Exit(1)
		}
		defer closeBody()
		opts.bodyReader = r
	}

	messageID, err := run(ctx, cfg, opts)
	if err != nil {
		slog.Error("send failed",
			"error", err,
			"reason", email.ReasonOf(err),
		)
		os.Exit(1)
	}

	fmt.Println(messageID)
}

// run builds the message, sends it and journals the attempt.
func run(ctx context.Context, cfg *config.Config, opts composeOptions) (string, error) {
	sess := sessionSettings{host: sessionHost(cfg)}

	if cfg.Provider == config.ProviderSMTP {
		password, err := resolvePassword(cfg)
		if err != nil {
			return "", err
		}
		sess.password = password

		tlsOpts := mailtls.Options{
			ServerName:         cfg.TLS.ServerName,
			CAFile:             cfg.TLS.CAFile,
			CertFile:           cfg.TLS.CertFile,
			KeyFile:            cfg.TLS.KeyFile,
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		}
		if !tlsOpts.IsZero() {
			tlsCfg, err := mailtls.ClientConfig(tlsOpts)
			if err != nil {
				return "", fmt.Errorf("failed to setup TLS: %w", err)
			}
			sess.tlsConfig = tlsCfg
		}
	}

	b, err := newBuilder(cfg, sess, opts)
	if err != nil {
		return "", err
	}
	if err := b.BuildMimeMessage(); err != nil {
		return "", err
	}
	msg := b.MimeMessage()

	prov, err := selectProvider(ctx, cfg)
	if err != nil {
		return "", err
	}

	slog.Info("sending message",
		"provider", prov.Name(),
		"message_id", msg.MessageID(),
		"recipients", len(msg.Recipients()),
	)

	sendErr := prov.Send(ctx, msg)
	recordSend(ctx, cfg, prov.Name(), msg, sendErr)
	if sendErr != nil {
		return "", sendErr
	}
	return msg.MessageID(), nil
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level. Logs go to stderr so stdout carries only the
// Message-ID and dry-run output.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

func openBody(path string) (io.Reader, func(), error) {
	if path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

// resolvePassword returns the configured SMTP password, looking it up in the
// system keyring when only a keyring key is set.
func resolvePassword(cfg *config.Config) (string, error) {
	if cfg.SMTP.Password != "" || cfg.SMTP.PasswordKeyringKey == "" {
		return cfg.SMTP.Password, nil
	}

	store, err := credential.Open(credential.DefaultService, "")
	if err != nil {
		return "", err
	}
	password, err := store.Get(cfg.SMTP.PasswordKeyringKey)
	if err != nil {
		return "", fmt.Errorf("failed to resolve SMTP password: %w", err)
	}
	slog.Debug("SMTP password loaded from keyring", "key", cfg.SMTP.PasswordKeyringKey)
	return password, nil
}

// selectProvider creates the delivery backend named by cfg.Provider.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.Provider {
	case config.ProviderSMTP:
		slog.Info("using SMTP provider", "host", cfg.SMTP.Host)
		return smtpprovider.New(), nil

	case config.ProviderSES:
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(ctx, ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create SES provider: %w", err)
		}
		return p, nil

	case config.ProviderGmail:
		slog.Info("using Gmail provider", "user", cfg.Gmail.User)
		creds, err := os.ReadFile(cfg.Gmail.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read Gmail credentials: %w", err)
		}
		p, err := gmail.New(ctx, creds, cfg.Gmail.User)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gmail provider: %w", err)
		}
		return p, nil

	case config.ProviderGraph:
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// recordSend journals the outcome when a journal path is configured. Journal
// failures are logged and never fail the send.
func recordSend(ctx context.Context, cfg *config.Config, providerName string, msg *email.MimeMessage, sendErr error) {
	if cfg.Journal.Path == "" {
		return
	}

	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		slog.Warn("failed to open journal", "path", cfg.Journal.Path, "error", err)
		return
	}
	defer j.Close()

	entry := journal.Entry{
		MessageID:  msg.MessageID(),
		Provider:   providerName,
		Sender:     msg.Sender(),
		Recipients: msg.Recipients(),
		Subject:    msg.Subject(),
		Status:     journal.StatusSent,
		SizeBytes:  int64(len(msg.Bytes())),
		CreatedAt:  time.Now(),
	}
	if providerName == config.ProviderStdout {
		entry.Status = journal.StatusDryRun
	}
	if sendErr != nil {
		entry.Status = journal.StatusFailed
		entry.Reason = string(email.ReasonOf(sendErr))
		entry.Error = sendErr.Error()
	}

	if _, err := j.Record(ctx, entry); err != nil {
		slog.Warn("failed to record send", "error", err)
	}
}
