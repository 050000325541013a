// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for mailcompose.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultSSLPort   = 465
	defaultTimeoutMS = 60000
	defaultCharset   = "UTF-8"
)

// Provider names accepted in the provider setting.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGmail  = "gmail"
	ProviderGraph  = "graph"
	ProviderStdout = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Message  MessageConfig `yaml:"message"`
	SES      SESConfig     `yaml:"ses"`
	Gmail    GmailConfig   `yaml:"gmail"`
	Graph    GraphConfig   `yaml:"graph"`
	TLS      TLSConfig     `yaml:"tls"`
	Journal  JournalConfig `yaml:"journal"`
	Logging  LoggingConfig `yaml:"logging"`
}

// SMTPConfig holds the outgoing SMTP session settings.
type SMTPConfig struct {
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	SSLOnConnect       bool   `yaml:"ssl_on_connect"`
	SSLPort            int    `yaml:"ssl_port"`
	StartTLS           bool   `yaml:"starttls"`
	StartTLSRequired   bool   `yaml:"starttls_required"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	PasswordKeyringKey string `yaml:"password_keyring_key"`
	TimeoutMS          int    `yaml:"timeout_ms"`
}

// MessageConfig holds defaults applied to every composed message.
type MessageConfig struct {
	From          string `yaml:"from"`
	Charset       string `yaml:"charset"`
	BounceAddress string `yaml:"bounce_address"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GmailConfig holds Gmail API configuration.
type GmailConfig struct {
	CredentialsFile string `yaml:"credentials_file"`
	User            string `yaml:"user"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// TLSConfig holds client TLS settings for the SMTP session.
type TLSConfig struct {
	ServerName         string `yaml:"server_name"`
	CAFile             string `yaml:"ca_file"`
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// JournalConfig holds the send journal location. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// LoadEnvFile reads KEY=VALUE pairs from a dotenv file into the process
// environment. Variables that already hold a non-empty value are kept.
func LoadEnvFile(path string) error {
	vars, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}
	for key, value := range vars {
		if os.Getenv(key) != "" {
			continue
		}
		if err := os.Setenv(key, value); err != nil {
			return fmt.Errorf("failed to set %s: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()
	cfg.Provider = strings.ToLower(cfg.Provider)

	return cfg, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if the SES region and sender are set. Static
// credentials are optional.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GmailConfigured returns true if the service account file and user are set.
func (c *Config) GmailConfigured() bool {
	return c.Gmail.CredentialsFile != "" && c.Gmail.User != ""
}

// AuthEnabled returns true if an SMTP username is set together with a
// password or a keyring key to resolve one.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && (c.SMTP.Password != "" || c.SMTP.PasswordKeyringKey != "")
}

// Validate checks the settings required by the selected provider.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderSMTP:
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("smtp.host is required for the smtp provider"))
		}
	case ProviderSES:
		if !c.SESConfigured() {
			errs = append(errs, errors.New("ses.region and ses.sender are required for the ses provider"))
		}
	case ProviderGmail:
		if !c.GmailConfigured() {
			errs = append(errs, errors.New("gmail.credentials_file and gmail.user are required for the gmail provider"))
		}
	case ProviderGraph:
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("graph.tenant_id, client_id, client_secret and sender are required for the graph provider"))
		}
	case ProviderStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	if c.SMTP.Port < 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("smtp.port %d out of range", c.SMTP.Port))
	}
	if c.SMTP.SSLPort < 0 || c.SMTP.SSLPort > 65535 {
		errs = append(errs, fmt.Errorf("smtp.ssl_port %d out of range", c.SMTP.SSLPort))
	}
	if c.SMTP.Username != "" && c.SMTP.Password != "" && c.SMTP.PasswordKeyringKey != "" {
		errs = append(errs, errors.New("smtp.password and smtp.password_keyring_key are mutually exclusive"))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file must be set together"))
	}

	return errors.Join(errs...)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderSMTP
	c.SMTP.SSLPort = defaultSSLPort
	c.SMTP.TimeoutMS = defaultTimeoutMS
	c.Message.Charset = defaultCharset
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values; values that
// fail to parse are ignored.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	envString("SMTP_HOST", &c.SMTP.Host)
	envInt("SMTP_PORT", &c.SMTP.Port)
	envBool("SMTP_SSL_ON_CONNECT", &c.SMTP.SSLOnConnect)
	envInt("SMTP_SSL_PORT", &c.SMTP.SSLPort)
	envBool("SMTP_STARTTLS", &c.SMTP.StartTLS)
	envBool("SMTP_STARTTLS_REQUIRED", &c.SMTP.StartTLSRequired)
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_PASSWORD", &c.SMTP.Password)
	envString("SMTP_PASSWORD_KEYRING_KEY", &c.SMTP.PasswordKeyringKey)
	envInt("SMTP_TIMEOUT_MS", &c.SMTP.TimeoutMS)

	envString("MAIL_FROM", &c.Message.From)
	envString("MAIL_CHARSET", &c.Message.Charset)
	envString("MAIL_BOUNCE_ADDRESS", &c.Message.BounceAddress)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	envString("SES_SENDER", &c.SES.Sender)

	envString("GMAIL_CREDENTIALS_FILE", &c.Gmail.CredentialsFile)
	envString("GMAIL_USER", &c.Gmail.User)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	envString("GRAPH_SENDER", &c.Graph.Sender)

	envString("TLS_SERVER_NAME", &c.TLS.ServerName)
	envString("TLS_CA_FILE", &c.TLS.CAFile)
	envString("TLS_CERT_FILE", &c.TLS.CertFile)
	envString("TLS_KEY_FILE", &c.TLS.KeyFile)
	envBool("TLS_INSECURE_SKIP_VERIFY", &c.TLS.InsecureSkipVerify)

	envString("JOURNAL_PATH", &c.Journal.Path)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
