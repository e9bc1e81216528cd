// Package twitchapi contains minimal helpers for the Twitch Helix API: user id
// resolution, the channel follower list and the moderation calls IRC no
// longer carries.
package twitchapi

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
	"sync"
	"time"
)

// DefaultBaseURL is the Helix API root.
const DefaultBaseURL = "https://api.twitch.tv/helix"

// ErrUserNotFound is returned when a login does not resolve.
var ErrUserNotFound = errors.New("user not found")

// ErrNoUserToken is returned by calls that need the streamer's user token.
var ErrNoUserToken = errors.New("helix call requires a user token")

// HelixClient talks to Helix. App-token calls use AppTokenSource; moderation
// and follower calls use UserToken and act as ModeratorID.
type HelixClient struct {
	AppTokenSource *TokenSource
	// UserToken is the streamer's OAuth token, without the "oauth:" prefix.
	UserToken     string
	ClientID      string
	BroadcasterID string
	// ModeratorID defaults to BroadcasterID.
	ModeratorID string
	BaseURL     string
	HTTPClient  *http.Client

	idMu sync.Mutex
	ids  map[string]string
}

// Follower is one entry of the channel follower list.
type Follower struct {
	UserID     string    `json:"user_id"`
	UserLogin  string    `json:"user_login"`
	UserName   string    `json:"user_name"`
	FollowedAt time.Time `json:"followed_at"`
}

// StatusError is a non-2xx Helix response.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix request failed: %d: %s", e.Status, e.Body)
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) base() string {
	if hc.BaseURL != "" {
		return hc.BaseURL
	}
	return DefaultBaseURL
}

func (hc *HelixClient) moderatorID() string {
	if hc.ModeratorID != "" {
		return hc.ModeratorID
	}
	return hc.BroadcasterID
}

func (hc *HelixClient) token(ctx context.Context, user bool) (string, error) {
	if user || hc.AppTokenSource == nil {
		if hc.UserToken == "" {
			return "", ErrNoUserToken
		}
		return hc.UserToken, nil
	}
	return hc.AppTokenSource.Get(ctx)
}

// do sends one request. An app token rejected with 401 is refreshed once and
// a 429 is retried once after Ratelimit-Reset (capped at 5s).
func (hc *HelixClient) do(ctx context.Context, method, path string, q url.Values, body any, user bool, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}
	for attempt := 0; ; attempt++ {
		tok, err := hc.token(ctx, user)
		if err != nil {
			return err
		}
		u := hc.base() + path
		if len(q) > 0 {
			u += "?" + q.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := hc.http().Do(req)
		if err != nil {
			return err
		}
		retry, err := hc.read(ctx, resp, user, attempt, out)
		if !retry {
			return err
		}
	}
}

func (hc *HelixClient) read(ctx context.Context, resp *http.Response, user bool, attempt int, out any) (bool, error) {
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	switch {
	case resp.StatusCode == http.StatusUnauthorized && !user && hc.AppTokenSource != nil && attempt == 0:
		hc.AppTokenSource.Invalidate()
		return true, nil
	case resp.StatusCode == http.StatusTooManyRequests && attempt == 0:
		wait := time.Second
		if reset, err := strconv.ParseInt(resp.Header.Get("Ratelimit-Reset"), 10, 64); err == nil {
			wait = time.Until(time.Unix(reset, 0))
		}
		wait = min(max(wait, 0), 5*time.Second)
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(wait):
		}
		return true, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return false, nil
	}
	return false, json.NewDecoder(resp.Body).Decode(out)
}

// GetUserID resolves a login name to its user ID. Results are cached.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	hc.idMu.Lock()
	id, ok := hc.ids[login]
	hc.idMu.Unlock()
	if ok {
		return id, nil
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.do(ctx, http.MethodGet, "/users", url.Values{"login": {login}}, nil, false, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, login)
	}
	hc.idMu.Lock()
	if hc.ids == nil {
		hc.ids = make(map[string]string)
	}
	hc.ids[login] = body.Data[0].ID
	hc.idMu.Unlock()
	return body.Data[0].ID, nil
}

// GetChannelFollowers returns the first page of followers, newest first.
func (hc *HelixClient) GetChannelFollowers(ctx context.Context, first int) ([]Follower, error) {
	if hc.BroadcasterID == "" {
		return nil, fmt.Errorf("broadcaster id empty")
	}
	if first <= 0 || first > 100 {
		first = 20
	}
	q := url.Values{"broadcaster_id": {hc.BroadcasterID}, "first": {strconv.Itoa(first)}}
	var body struct {
		Data []Follower `json:"data"`
	}
	// Follower details need moderator:read:followers; an app token only
	// sees the total, so prefer the user token when there is one.
	if err := hc.do(ctx, http.MethodGet, "/channels/followers", q, nil, hc.UserToken != "", &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// SendWhisper whispers message to toLogin from the moderator account.
func (hc *HelixClient) SendWhisper(ctx context.Context, toLogin, message string) error {
	to, err := hc.GetUserID(ctx, toLogin)
	if err != nil {
		return err
	}
	q := url.Values{"from_user_id": {hc.moderatorID()}, "to_user_id": {to}}
	return hc.do(ctx, http.MethodPost, "/whispers", q, map[string]string{"message": message}, true, nil)
}

// DeleteChatMessage removes one message from the broadcaster's chat.
func (hc *HelixClient) DeleteChatMessage(ctx context.Context, messageID string) error {
	q := url.Values{"broadcaster_id": {hc.BroadcasterID}, "moderator_id": {hc.moderatorID()}, "message_id": {messageID}}
	return hc.do(ctx, http.MethodDelete, "/moderation/chat", q, nil, true, nil)
}

// BanUser bans login; a positive duration makes it a timeout.
func (hc *HelixClient) BanUser(ctx context.Context, login string, duration time.Duration, reason string) error {
	id, err := hc.GetUserID(ctx, login)
	if err != nil {
		return err
	}
	data := map[string]any{"user_id": id}
	if duration > 0 {
		data["duration"] = max(int(duration/time.Second), 1)
	}
	if reason != "" {
		data["reason"] = reason
	}
	q := url.Values{"broadcaster_id": {hc.BroadcasterID}, "moderator_id": {hc.moderatorID()}}
	return hc.do(ctx, http.MethodPost, "/moderation/bans", q, map[string]any{"data": data}, true, nil)
}

// UnbanUser lifts a ban or timeout.
func (hc *HelixClient) UnbanUser(ctx context.Context, login string) error {
	id, err := hc.GetUserID(ctx, login)
	if err != nil {
		return err
	}
	q := url.Values{"broadcaster_id": {hc.BroadcasterID}, "moderator_id": {hc.moderatorID()}, "user_id": {id}}
	return hc.do(ctx, http.MethodDelete, "/moderation/bans", q, nil, true, nil)
}
