// Package gmail implements a Provider that sends emails via the Gmail API
// using a service account with domain-wide delegation.
package gmail

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

var _ provider.Provider = &GmailProvider{}

// MessageSender is the subset of the Gmail API used by the provider.
type MessageSender interface {
	Send(ctx context.Context, userID string, message *gmail.Message) (*gmail.Message, error)
}

// GmailProvider sends built MIME messages through users.messages.send.
type GmailProvider struct {
	sender MessageSender
	userID string
}

type serviceSender struct {
	service *gmail.Service
}

func (s serviceSender) Send(ctx context.Context, userID string, message *gmail.Message) (*gmail.Message, error) {
	return s.service.Users.Messages.Send(userID, message).Context(ctx).Do()
}

// New creates a GmailProvider that impersonates userEmail with the given
// service account credentials.
func New(ctx context.Context, credentialsJSON []byte, userEmail string) (*GmailProvider, error) {
	config, err := google.JWTConfigFromJSON(credentialsJSON, gmail.GmailSendScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse service account file: %w", err)
	}

	config.Subject = userEmail

	service, err := gmail.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Gmail client: %w", err)
	}

	return NewWithSender(serviceSender{service: service}), nil
}

// NewWithSender creates a GmailProvider with a custom sender, used for testing.
func NewWithSender(sender MessageSender) *GmailProvider {
	return &GmailProvider{
		sender: sender,
		userID: "me",
	}
}

// Send uploads the rendered message. Bcc recipients are added as a header so
// Gmail delivers to them; Gmail strips it before delivery.
func (g *GmailProvider) Send(ctx context.Context, msg *email.MimeMessage) error {
	message := &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(msg.BytesWithBcc()),
	}

	sent, err := g.sender.Send(ctx, g.userID, message)
	if err != nil {
		return mapGmailError(err)
	}

	slog.Info("message accepted by Gmail",
		"message_id", msg.MessageID(),
		"gmail_id", sent.Id,
	)
	return nil
}

// Name returns the provider name.
func (g *GmailProvider) Name() string {
	return "gmail"
}

func mapGmailError(err error) error {
	apiErr, ok := err.(*googleapi.Error)
	if !ok {
		lower := strings.ToLower(err.Error())
		switch {
		case strings.Contains(lower, "deadline"):
			return email.NewServiceError("request timeout", err)
		case strings.Contains(lower, "connection") || strings.Contains(lower, "network"):
			return email.NewServiceError("network error", err)
		}
		return email.NewUnknownError("Gmail API error", err)
	}

	lower := strings.ToLower(apiErr.Message)
	switch apiErr.Code {
	case http.StatusBadRequest:
		if strings.Contains(lower, "recipient") || strings.Contains(lower, "address") {
			return email.NewInvalidAddressError("invalid email address", err)
		}
		return email.NewValidationError("invalid message", err)
	case http.StatusUnauthorized:
		return email.NewValidationError("authentication failed - check service account credentials", err)
	case http.StatusForbidden:
		if strings.Contains(lower, "blocked") {
			return email.NewMessageRejectedError("sender blocked by recipient", err)
		}
		return email.NewUnverifiedDomainError("insufficient permissions to send email", err)
	case http.StatusTooManyRequests:
		return email.NewRateLimitedError("Gmail API rate limit exceeded", err)
	case http.StatusInternalServerError, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return email.NewServiceError("Gmail service error", err)
	default:
		return email.NewServiceError(fmt.Sprintf("Gmail API error (HTTP %d)", apiErr.Code), err)
	}
}
