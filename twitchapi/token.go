package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is Twitch's OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// expiryBuffer is how long before expiry a cached token is considered stale.
const expiryBuffer = 60 * time.Second

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// NOTE: app tokens cannot be used for IRC chat or moderation; those need the
// streamer's user token.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	// TokenURL overrides DefaultTokenURL.
	TokenURL   string
	HTTPClient *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

func (ts *TokenSource) config() *clientcredentials.Config {
	u := ts.TokenURL
	if u == "" {
		u = DefaultTokenURL
	}
	// Twitch rejects client credentials sent through basic auth.
	return &clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     u,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.token != nil && ts.token.AccessToken != "" && time.Until(ts.token.Expiry) > expiryBuffer {
		return ts.token.AccessToken, nil
	}
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	if ts.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, ts.HTTPClient)
	}
	tok, err := ts.config().Token(ctx)
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	ts.token = tok
	return tok.AccessToken, nil
}

// Invalidate drops the cached token so the next Get fetches a new one.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.token = nil
	ts.mu.Unlock()
}
