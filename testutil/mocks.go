package testutil

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/senepa/Firebot/chat"
)

// MockTwitchServer creates a test server that mocks Twitch Helix API responses
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu       sync.Mutex
	requests []*http.Request
}

// NewMockTwitchServer creates a new mock Twitch API server
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.requests = append(m.requests, r.Clone(context.Background()))
		handler, ok := m.Handlers[r.Method+" "+r.URL.Path]
		if !ok {
			handler, ok = m.Handlers[r.URL.Path]
		}
		m.mu.Unlock()
		if ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// Requests returns every request received so far.
func (m *MockTwitchServer) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request(nil), m.requests...)
}

func (m *MockTwitchServer) handle(key string, h http.HandlerFunc) {
	m.mu.Lock()
	m.Handlers[key] = h
	m.mu.Unlock()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test mock response
}

// MockUserResponse adds a handler for /helix/users endpoint
func (m *MockTwitchServer) MockUserResponse(userID, login string) {
	m.handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"data": []map[string]string{
				{"id": userID, "login": login, "display_name": login},
			},
		})
	})
}

// Follower is one entry of a mocked follower page.
type Follower struct {
	UserID     string
	UserLogin  string
	FollowedAt time.Time
}

// MockFollowersResponse serves the given followers, newest first.
func (m *MockTwitchServer) MockFollowersResponse(followers func() []Follower) {
	m.handle("/helix/channels/followers", func(w http.ResponseWriter, r *http.Request) {
		list := followers()
		data := make([]map[string]string, 0, len(list))
		for _, f := range list {
			data = append(data, map[string]string{
				"user_id":     f.UserID,
				"user_login":  f.UserLogin,
				"user_name":   f.UserLogin,
				"followed_at": f.FollowedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, map[string]any{"data": data, "total": len(data), "pagination": map[string]string{}})
	})
}

// MockNoContent answers method+path with 204, as Helix does for whispers,
// message deletes and unbans.
func (m *MockTwitchServer) MockNoContent(method, path string) {
	m.handle(method+" "+path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

// MockOAuthTokenResponse adds a handler for OAuth token endpoint
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken string, expiresIn int) {
	m.handle("/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	})
}

// SentMessage is one message captured by RecordingChat.
type SentMessage struct {
	Text string
	Opts chat.SendOptions
}

// RecordingChat captures outbound chat and moderation calls.
type RecordingChat struct {
	mu       sync.Mutex
	sent     []SentMessage
	deleted  []string
	timeouts []string
	Err      error
}

// Send records the message.
func (r *RecordingChat) Send(_ context.Context, text string, opts chat.SendOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, SentMessage{Text: text, Opts: opts})
	return nil
}

// DeleteMessage records the message id.
func (r *RecordingChat) DeleteMessage(_ context.Context, id string) error {
	r.mu.Lock()
	r.deleted = append(r.deleted, id)
	r.mu.Unlock()
	return nil
}

// Timeout records the username.
func (r *RecordingChat) Timeout(_ context.Context, username string, _ time.Duration, _ string) error {
	r.mu.Lock()
	r.timeouts = append(r.timeouts, username)
	r.mu.Unlock()
	return nil
}

// Sent returns every recorded message.
func (r *RecordingChat) Sent() []SentMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SentMessage(nil), r.sent...)
}

// Texts returns the text of every recorded message.
func (r *RecordingChat) Texts() []string {
	var out []string
	for _, m := range r.Sent() {
		out = append(out, m.Text)
	}
	return out
}

// Contains reports whether any recorded message contains substr.
func (r *RecordingChat) Contains(substr string) bool {
	for _, m := range r.Sent() {
		if strings.Contains(m.Text, substr) {
			return true
		}
	}
	return false
}

// Deleted returns deleted message ids.
func (r *RecordingChat) Deleted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deleted...)
}

// Reset clears recorded messages.
func (r *RecordingChat) Reset() {
	r.mu.Lock()
	r.sent, r.deleted, r.timeouts = nil, nil, nil
	r.mu.Unlock()
}
