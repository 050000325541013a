// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

var _ provider.Provider = &SESProvider{}

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	// Sender overrides the envelope sender. When empty the message's From
	// address is used.
	Sender string
}

// SESProvider sends built MIME messages via the AWS SES v2 API.
type SESProvider struct {
	sender     string
	client     SendEmailAPI
	retryDelay time.Duration
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewWithClient(cfg.Sender, sesv2.NewFromConfig(awsCfg)), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender string, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender:     sender,
		client:     client,
		retryDelay: provider.BaseRetryDelay,
	}
}

// Send delivers the raw MIME message via AWS SES v2. Rate limiting and
// service errors are retried with exponential backoff.
func (s *SESProvider) Send(ctx context.Context, msg *email.MimeMessage) error {
	input := buildRawInput(s.sender, msg)

	var lastErr error
	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying SES API request",
				"attempt", attempt,
				"max_retries", provider.MaxRetries,
			)
			if err := provider.SleepWithContext(ctx, provider.BackoffDelay(s.retryDelay, attempt)); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}

		out, err := s.client.SendEmail(ctx, input)
		if err == nil {
			slog.Info("message accepted by SES",
				"message_id", msg.MessageID(),
				"ses_message_id", aws.ToString(out.MessageId),
			)
			return nil
		}

		lastErr = categorizeAWSError(err)
		slog.Warn("SES API error",
			"attempt", attempt,
			"error", err,
		)
		if !retryable(lastErr) {
			return lastErr
		}
	}

	return fmt.Errorf("SES API request failed after %d retries: %w", provider.MaxRetries, lastErr)
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return "ses"
}

// buildRawInput creates a SES SendEmailInput carrying the rendered message.
// Recipients are passed explicitly so Bcc addresses are delivered.
func buildRawInput(sender string, msg *email.MimeMessage) *sesv2.SendEmailInput {
	input := &sesv2.SendEmailInput{
		Destination: &types.Destination{
			ToAddresses:  msg.To(),
			CcAddresses:  msg.Cc(),
			BccAddresses: msg.Bcc(),
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: msg.Bytes(),
			},
		},
	}
	if sender != "" {
		input.FromEmailAddress = aws.String(sender)
	}
	return input
}

func categorizeAWSError(err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "TooManyRequestsException", "LimitExceededException":
			return email.NewRateLimitedError("sending rate limit exceeded", err)
		case "MessageRejected", "AccountSuspendedException", "SendingPausedException":
			return email.NewMessageRejectedError("message rejected by SES", err)
		case "MailFromDomainNotVerifiedException":
			return email.NewUnverifiedDomainError("sender domain not verified", err)
		case "InvalidParameterValueException", "BadRequestException":
			return email.NewInvalidAddressError("invalid email parameter", err)
		case "ServiceUnavailableException", "InternalServiceErrorException", "InternalFailure":
			return email.NewServiceError("AWS SES service error", err)
		}
	}

	return email.NewUnknownError("failed to send email", err)
}

func retryable(err error) bool {
	switch email.ReasonOf(err) {
	case email.REASON_RATE_LIMITED, email.REASON_SERVICE_ERROR, email.REASON_UNKNOWN:
		return true
	}
	return false
}
