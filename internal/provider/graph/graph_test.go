package graph

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shineum/mailcompose/internal/email"
)

func buildMessage(t *testing.T) *email.MimeMessage {
	t.Helper()

	b := email.New()
	b.SetHostName("localhost")
	for _, err := range []error{
		b.SetFrom("sender@example.com"),
		b.AddTo("user@example.com"),
		b.AddCc("carol@example.com"),
		b.AddBcc("hidden@example.com"),
	} {
		if err != nil {
			t.Fatalf("builder setup: %v", err)
		}
	}
	b.SetSubject("Test")
	b.SetContent("Body", email.ContentTypeTextPlain)
	if err := b.BuildMimeMessage(); err != nil {
		t.Fatalf("BuildMimeMessage: %v", err)
	}
	return b.MimeMessage()
}

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{AccessToken: "token", ExpiresIn: 3600})
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestProvider(graphServer, tokenServer *httptest.Server) *GraphProvider {
	p := newWithOverrides(
		GraphProviderConfig{Sender: "s@example.com", TenantID: "t", ClientID: "c", ClientSecret: "s"},
		graphServer.URL, tokenServer.URL, graphServer.Client(),
	)
	p.retryDelay = time.Millisecond
	return p
}

func writeGraphError(w http.ResponseWriter, status int, code, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(graphErrorResponse{
		Error: graphError{Code: code, Message: message},
	})
}

func TestEncodeMIME(t *testing.T) {
	t.Parallel()

	msg := buildMessage(t)

	decoded, err := base64.StdEncoding.DecodeString(string(encodeMIME(msg)))
	if err != nil {
		t.Fatalf("body is not base64: %v", err)
	}
	if string(decoded) != string(msg.BytesWithBcc()) {
		t.Error("decoded body should equal the message with its Bcc header")
	}
}

func TestGraphProvider_Name(t *testing.T) {
	t.Parallel()

	p := &GraphProvider{}
	if p.Name() != "msgraph" {
		t.Errorf("Name: got %q, want %q", p.Name(), "msgraph")
	}
}

func TestGraphProvider_SendSuccess(t *testing.T) {
	t.Parallel()

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "test-token",
			ExpiresIn:   3600,
		})
	}))
	defer tokenServer.Close()

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Authorization header: got %q, want %q", r.Header.Get("Authorization"), "Bearer test-token")
		}
		if r.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("Content-Type header: got %q, want %q", r.Header.Get("Content-Type"), "text/plain")
		}

		body, _ := io.ReadAll(r.Body)
		raw, err := base64.StdEncoding.DecodeString(string(body))
		if err != nil {
			t.Errorf("request body is not base64: %v", err)
		}
		for _, want := range []string{"Bcc: <hidden@example.com>", "Subject: Test", "carol@example.com"} {
			if !strings.Contains(string(raw), want) {
				t.Errorf("MIME body missing %q", want)
			}
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer, tokenServer)

	if err := p.Send(context.Background(), buildMessage(t)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGraphProvider_PermanentErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status int
		code   string
		reason email.ErrorReason
	}{
		{name: "invalid recipients", status: http.StatusBadRequest, code: "ErrorInvalidRecipients", reason: email.REASON_INVALID_ADDRESS},
		{name: "bad request", status: http.StatusBadRequest, code: "BadRequest", reason: email.REASON_MESSAGE_REJECTED},
		{name: "forbidden", status: http.StatusForbidden, code: "ErrorAccessDenied", reason: email.REASON_UNVERIFIED_DOMAIN},
		{name: "not found", status: http.StatusNotFound, code: "ResourceNotFound", reason: email.REASON_UNKNOWN},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeGraphError(w, tt.status, tt.code, "rejected")
			}))
			defer graphServer.Close()

			err := newTestProvider(graphServer, newTokenServer(t)).Send(context.Background(), buildMessage(t))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if got := email.ReasonOf(err); got != tt.reason {
				t.Errorf("reason: got %q, want %q", got, tt.reason)
			}

			var sendErr *sendError
			if !errors.As(err, &sendErr) {
				t.Fatalf("expected wrapped *sendError, got %T", err)
			}
			if !sendErr.permanent {
				t.Error("error should be classified as permanent")
			}
			if calls.Load() != 1 {
				t.Errorf("graph call count: got %d, want 1", calls.Load())
			}
		})
	}
}

func TestGraphProvider_RetryOn5xx(t *testing.T) {
	t.Parallel()

	var graphCallCount atomic.Int32

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := graphCallCount.Add(1)
		if count <= 2 {
			writeGraphError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "Try again")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer, newTokenServer(t))

	if err := p.Send(context.Background(), buildMessage(t)); err != nil {
		t.Fatalf("expected success after retries, got: %v", err)
	}
	if graphCallCount.Load() != 3 {
		t.Errorf("graph call count: got %d, want 3 (2 failures + 1 success)", graphCallCount.Load())
	}
}

func TestGraphProvider_RetriesExhausted(t *testing.T) {
	t.Parallel()

	var graphCallCount atomic.Int32

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCallCount.Add(1)
		writeGraphError(w, http.StatusBadGateway, "BadGateway", "Down")
	}))
	defer graphServer.Close()

	err := newTestProvider(graphServer, newTokenServer(t)).Send(context.Background(), buildMessage(t))
	if got := email.ReasonOf(err); got != email.REASON_SERVICE_ERROR {
		t.Errorf("reason: got %q, want %q", got, email.REASON_SERVICE_ERROR)
	}
	if graphCallCount.Load() != 4 {
		t.Errorf("graph call count: got %d, want 4", graphCallCount.Load())
	}
}

func TestGraphProvider_RetryOn401WithTokenRefresh(t *testing.T) {
	t.Parallel()

	var tokenCallCount atomic.Int32

	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := tokenCallCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+count)),
			ExpiresIn:   3600,
		})
	}))
	defer tokenServer.Close()

	var graphCallCount atomic.Int32

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := graphCallCount.Add(1)
		if count == 1 {
			writeGraphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "Token expired")
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer token-2" {
			t.Errorf("Authorization after refresh: got %q, want %q", got, "Bearer token-2")
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer, tokenServer)

	if err := p.Send(context.Background(), buildMessage(t)); err != nil {
		t.Fatalf("expected success after token refresh, got: %v", err)
	}
	if graphCallCount.Load() != 2 {
		t.Errorf("graph call count: got %d, want 2", graphCallCount.Load())
	}
	if tokenCallCount.Load() != 2 {
		t.Errorf("token call count: got %d, want 2", tokenCallCount.Load())
	}
}

func TestGraphProvider_Repeated401(t *testing.T) {
	t.Parallel()

	var graphCallCount atomic.Int32

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		graphCallCount.Add(1)
		writeGraphError(w, http.StatusUnauthorized, "InvalidAuthenticationToken", "Still invalid")
	}))
	defer graphServer.Close()

	err := newTestProvider(graphServer, newTokenServer(t)).Send(context.Background(), buildMessage(t))
	if got := email.ReasonOf(err); got != email.REASON_VALIDATION_ERROR {
		t.Errorf("reason: got %q, want %q", got, email.REASON_VALIDATION_ERROR)
	}
	if graphCallCount.Load() != 2 {
		t.Errorf("graph call count: got %d, want 2 (one refresh only)", graphCallCount.Load())
	}
}

func TestGraphProvider_RateLimitWithRetryAfter(t *testing.T) {
	t.Parallel()

	var graphCallCount atomic.Int32

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count := graphCallCount.Add(1)
		if count == 1 {
			w.Header().Set("Retry-After", "1")
			writeGraphError(w, http.StatusTooManyRequests, "TooManyRequests", "Rate limited")
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer, newTokenServer(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if err := p.Send(ctx, buildMessage(t)); err != nil {
		t.Fatalf("expected success after rate limit retry, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Errorf("Retry-After not honoured: elapsed %v", elapsed)
	}
	if graphCallCount.Load() != 2 {
		t.Errorf("graph call count: got %d, want 2", graphCallCount.Load())
	}
}

func TestGraphProvider_ContextCancellation(t *testing.T) {
	t.Parallel()

	graphServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeGraphError(w, http.StatusServiceUnavailable, "ServiceUnavailable", "Down")
	}))
	defer graphServer.Close()

	p := newTestProvider(graphServer, newTokenServer(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := p.Send(ctx, buildMessage(t)); err == nil {
		t.Error("expected error for cancelled context, got nil")
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
		permanent  bool
		transient  bool
	}{
		{name: "400 Bad Request", statusCode: 400, permanent: true, transient: false},
		{name: "401 Unauthorized", statusCode: 401, permanent: false, transient: true},
		{name: "403 Forbidden", statusCode: 403, permanent: true, transient: false},
		{name: "404 Not Found", statusCode: 404, permanent: true, transient: false},
		{name: "429 Too Many Requests", statusCode: 429, permanent: false, transient: true},
		{name: "500 Internal Server Error", statusCode: 500, permanent: false, transient: true},
		{name: "503 Service Unavailable", statusCode: 503, permanent: false, transient: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := classifyError(tt.statusCode, "", "test message", "")
			if err.permanent != tt.permanent {
				t.Errorf("permanent: got %v, want %v", err.permanent, tt.permanent)
			}
			if err.transient != tt.transient {
				t.Errorf("transient: got %v, want %v", err.transient, tt.transient)
			}
		})
	}
}

func TestRetryAfterDelay(t *testing.T) {
	t.Parallel()

	p := &GraphProvider{retryDelay: 10 * time.Millisecond}

	tests := []struct {
		header  string
		attempt int
		want    time.Duration
	}{
		{header: "3", attempt: 1, want: 3 * time.Second},
		{header: "", attempt: 1, want: 10 * time.Millisecond},
		{header: "soon", attempt: 3, want: 40 * time.Millisecond},
		{header: "0", attempt: 2, want: 20 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := p.retryAfterDelay(tt.header, tt.attempt); got != tt.want {
			t.Errorf("retryAfterDelay(%q, %d): got %v, want %v", tt.header, tt.attempt, got, tt.want)
		}
	}
}

func TestSendError_Error(t *testing.T) {
	t.Parallel()

	err := &sendError{
		message:    "test error",
		statusCode: 500,
	}

	expected := "Graph API error (HTTP 500): test error"
	if err.Error() != expected {
		t.Errorf("Error(): got %q, want %q", err.Error(), expected)
	}
}
