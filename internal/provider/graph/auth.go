package graph

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// tokenExpiryBuffer is subtracted from the reported lifetime so a token is
// never used right before it expires.
const tokenExpiryBuffer = 5 * time.Minute

const graphScope = "https://graph.microsoft.com/.default"

// tokenCache holds an OAuth2 client-credentials access token and refreshes it
// on expiry. It is safe for concurrent use.
type tokenCache struct {
	mu         sync.Mutex
	token      *oauth2.Token
	config     clientcredentials.Config
	httpClient *http.Client
}

func newTokenCache(tokenURL, clientID, clientSecret string, httpClient *http.Client) *tokenCache {
	return &tokenCache{
		config: clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     tokenURL,
			Scopes:       []string{graphScope},
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: httpClient,
	}
}

// Token returns a valid access token, refreshing it if necessary.
func (tc *tokenCache) Token(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	if tc.usable() {
		return tc.token.AccessToken, nil
	}
	return tc.refresh(ctx)
}

// ForceRefresh discards the cached token and acquires a new one. Used after
// a 401 from the Graph API.
func (tc *tokenCache) ForceRefresh(ctx context.Context) (string, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	tc.token = nil
	return tc.refresh(ctx)
}

func (tc *tokenCache) usable() bool {
	if tc.token == nil || tc.token.AccessToken == "" {
		return false
	}
	if tc.token.Expiry.IsZero() {
		return true
	}
	return time.Now().Add(tokenExpiryBuffer).Before(tc.token.Expiry)
}

// refresh must be called with tc.mu held.
func (tc *tokenCache) refresh(ctx context.Context) (string, error) {
	if tc.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, tc.httpClient)
	}

	token, err := tc.config.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("token request failed: %w", err)
	}

	tc.token = token
	return token.AccessToken, nil
}
