package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shineum/mailcompose/internal/email"
	"github.com/shineum/mailcompose/internal/provider"
)

var _ provider.Provider = &GraphProvider{}

// GraphProviderConfig holds the configuration for creating a GraphProvider.
type GraphProviderConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

// GraphProvider sends emails via the Microsoft Graph API using OAuth2
// client credentials authentication.
type GraphProvider struct {
	sender     string
	graphURL   string
	httpClient *http.Client
	token      *tokenCache
	retryDelay time.Duration
}

// New creates a new GraphProvider with the given configuration.
func New(cfg GraphProviderConfig) *GraphProvider {
	tokenURL := fmt.Sprintf(
		"https://login.microsoftonline.com/%s/oauth2/v2.0/token",
		url.PathEscape(cfg.TenantID),
	)
	graphURL := fmt.Sprintf(
		"https://graph.microsoft.com/v1.0/users/%s/sendMail",
		url.PathEscape(cfg.Sender),
	)

	return newWithOverrides(cfg, graphURL, tokenURL, &http.Client{Timeout: 30 * time.Second})
}

// newWithOverrides creates a GraphProvider with custom URLs and HTTP client,
// used for testing.
func newWithOverrides(cfg GraphProviderConfig, graphURL, tokenURL string, client *http.Client) *GraphProvider {
	return &GraphProvider{
		sender:     cfg.Sender,
		graphURL:   graphURL,
		httpClient: client,
		token:      newTokenCache(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		retryDelay: provider.BaseRetryDelay,
	}
}

// Send delivers the built message. Transient failures are retried with
// exponential backoff, HTTP 429 honours Retry-After, and a 401 triggers one
// token refresh.
func (g *GraphProvider) Send(ctx context.Context, msg *email.MimeMessage) error {
	body := encodeMIME(msg)

	var lastErr *sendError
	tokenRefreshed := false

	for attempt := 0; attempt <= provider.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Debug("retrying Graph API request",
				"attempt", attempt,
				"max_retries", provider.MaxRetries,
			)
		}

		err := g.doSendRequest(ctx, body)
		if err == nil {
			slog.Info("message accepted by Graph API",
				"message_id", msg.MessageID(),
				"sender", g.sender,
			)
			return nil
		}

		var graphErr *sendError
		if !errors.As(err, &graphErr) {
			return err
		}
		lastErr = graphErr

		switch {
		case graphErr.permanent:
			return toEmailError(graphErr)
		case graphErr.statusCode == http.StatusUnauthorized && !tokenRefreshed:
			slog.Info("refreshing Graph API token after 401")
			if _, refreshErr := g.token.ForceRefresh(ctx); refreshErr != nil {
				return email.NewValidationError("token refresh failed", refreshErr)
			}
			tokenRefreshed = true
			continue
		case graphErr.statusCode == http.StatusUnauthorized:
			return toEmailError(graphErr)
		case graphErr.statusCode == http.StatusTooManyRequests:
			delay := g.retryAfterDelay(graphErr.retryAfter, attempt+1)
			slog.Info("rate limited by Graph API",
				"retry_after", delay,
			)
			if err := provider.SleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		default:
			delay := provider.BackoffDelay(g.retryDelay, attempt+1)
			slog.Info("transient Graph API error, retrying",
				"status", graphErr.statusCode,
				"delay", delay,
			)
			if err := provider.SleepWithContext(ctx, delay); err != nil {
				return fmt.Errorf("context cancelled during retry wait: %w", err)
			}
		}
	}

	return toEmailError(lastErr)
}

// Name returns the provider name.
func (g *GraphProvider) Name() string {
	return "msgraph"
}

// doSendRequest performs a single sendMail request.
func (g *GraphProvider) doSendRequest(ctx context.Context, body []byte) error {
	token, err := g.token.Token(ctx)
	if err != nil {
		return email.NewValidationError("failed to get access token", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.graphURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("graph request aborted: %w", ctx.Err())
		}
		return &sendError{
			message:   fmt.Sprintf("HTTP request failed: %v", err),
			transient: true,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	respBody, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if jsonErr := json.Unmarshal(respBody, &graphErrResp); jsonErr == nil && graphErrResp.Error.Message != "" {
		return classifyError(resp.StatusCode, graphErrResp.Error.Code, graphErrResp.Error.Message, resp.Header.Get("Retry-After"))
	}

	return classifyError(resp.StatusCode, "", string(respBody), resp.Header.Get("Retry-After"))
}

// retryAfterDelay parses a Retry-After header given in seconds, falling back
// to exponential backoff.
func (g *GraphProvider) retryAfterDelay(retryAfter string, attempt int) time.Duration {
	if seconds, err := strconv.Atoi(retryAfter); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return provider.BackoffDelay(g.retryDelay, attempt)
}
