package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
)

// DefaultValidateURL is Twitch's token introspection endpoint.
const DefaultValidateURL = "https://id.twitch.tv/oauth2/validate"

// ErrInvalidToken is returned when Twitch rejects a user token.
var ErrInvalidToken = errors.New("twitch rejected the oauth token")

// TokenInfo describes a validated user token.
type TokenInfo struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
}

// HasScope reports whether the token carries scope.
func (t TokenInfo) HasScope(scope string) bool { return slices.Contains(t.Scopes, scope) }

// Expiry returns the absolute expiry, defaulting to +60m when unknown.
func (t TokenInfo) Expiry() time.Time {
	if t.ExpiresIn <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(t.ExpiresIn) * time.Second)
}

// TrimOAuthPrefix strips the "oauth:" prefix IRC tokens are usually stored with.
func TrimOAuthPrefix(token string) string {
	return strings.TrimPrefix(strings.TrimSpace(token), "oauth:")
}

// ValidateToken introspects a user token. validateURL may be empty.
func ValidateToken(ctx context.Context, hc *http.Client, validateURL, token string) (TokenInfo, error) {
	token = TrimOAuthPrefix(token)
	if token == "" {
		return TokenInfo{}, errors.New("missing token")
	}
	if validateURL == "" {
		validateURL = DefaultValidateURL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return TokenInfo{}, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	resp, err := hc.Do(req)
	if err != nil {
		return TokenInfo{}, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode == http.StatusUnauthorized {
		return TokenInfo{}, ErrInvalidToken
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return TokenInfo{}, fmt.Errorf("twitch token validation failed: %s: %s", resp.Status, string(b))
	}
	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return TokenInfo{}, err
	}
	return info, nil
}
