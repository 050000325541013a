// Package tls builds the client TLS configuration used by SMTP sessions for
// SSL-on-connect and STARTTLS.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
)

// Options controls ClientConfig.
type Options struct {
	// ServerName overrides the name verified against the server certificate.
	// Empty leaves it to the session, which uses the SMTP host name.
	ServerName string
	// CAFile is a PEM bundle appended to the system roots.
	CAFile string
	// CertFile and KeyFile enable client certificate authentication when
	// both are set.
	CertFile string
	KeyFile  string
	// InsecureSkipVerify disables server certificate verification.
	InsecureSkipVerify bool
}

// IsZero reports whether no option is set, in which case sessions keep
// their default TLS configuration.
func (o Options) IsZero() bool {
	return o == Options{}
}

// ClientConfig returns a TLS client configuration with a minimum version of
// TLS 1.2.
func ClientConfig(opts Options) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         opts.ServerName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: opts.InsecureSkipVerify,
	}

	if opts.InsecureSkipVerify {
		slog.Warn("TLS certificate verification disabled")
	}

	if opts.CAFile != "" {
		pool, err := loadCAPool(opts.CAFile)
		if err != nil {
			return nil, err
		}
		cfg.RootCAs = pool
	}

	if opts.CertFile != "" || opts.KeyFile != "" {
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, fmt.Errorf("client certificate requires both cert and key files")
		}
		if _, err := os.Stat(opts.CertFile); err != nil {
			return nil, fmt.Errorf("certificate file not found: %w", err)
		}
		if _, err := os.Stat(opts.KeyFile); err != nil {
			return nil, fmt.Errorf("key file not found: %w", err)
		}
		cert, err := tls.LoadX509KeyPair(opts.CertFile, opts.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}

	return cfg, nil
}

func loadCAPool(caFile string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil {
		slog.Debug("system cert pool unavailable, using CA file only", "error", err)
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}
	return pool, nil
}
