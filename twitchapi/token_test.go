package twitchapi

import (
	"context"
	"net/http"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/senepa/Firebot/testutil"
)

func TestTokenSource_GetCached(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.MockOAuthTokenResponse("test-token-123", 3600)

	ts := &TokenSource{ClientID: "test-client", ClientSecret: "test-secret", TokenURL: srv.URL + "/oauth2/token"}
	ctx := context.Background()

	token1, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token1 != "test-token-123" {
		t.Errorf("Get() = %s, want test-token-123", token1)
	}
	token2, err := ts.Get(ctx)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if token2 != token1 {
		t.Errorf("cached token = %s, want %s", token2, token1)
	}
	if n := len(srv.Requests()); n != 1 {
		t.Errorf("expected 1 token request, got %d", n)
	}
}

func TestTokenSource_SendsCredentialsInBody(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	var form atomic.Value
	srv.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		form.Store(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","expires_in":3600,"token_type":"bearer"}`))
	}
	ts := &TokenSource{ClientID: "cid", ClientSecret: "secret", TokenURL: srv.URL + "/oauth2/token"}
	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatal(err)
	}
	got, _ := form.Load().(url.Values)
	if got.Get("client_id") != "cid" || got.Get("client_secret") != "secret" || got.Get("grant_type") != "client_credentials" {
		t.Fatalf("token form = %v", got)
	}
}

func TestTokenSource_RefreshesNearExpiry(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	// Expiry inside the buffer forces a fetch on every Get.
	srv.MockOAuthTokenResponse("short", 30)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/oauth2/token"}
	for range 2 {
		if _, err := ts.Get(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(srv.Requests()); n != 2 {
		t.Errorf("expected 2 token requests, got %d", n)
	}
}

func TestTokenSource_Errors(t *testing.T) {
	if _, err := (&TokenSource{}).Get(context.Background()); err == nil {
		t.Fatal("missing credentials must fail")
	}

	srv := testutil.NewMockTwitchServer(t)
	srv.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"status":400,"message":"invalid client"}`, http.StatusBadRequest)
	}
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/oauth2/token"}
	if _, err := ts.Get(context.Background()); err == nil {
		t.Fatal("400 response must fail")
	}
}

func TestTokenSource_Invalidate(t *testing.T) {
	srv := testutil.NewMockTwitchServer(t)
	srv.MockOAuthTokenResponse("tok", 3600)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: srv.URL + "/oauth2/token"}
	ts.Get(context.Background())
	ts.Invalidate()
	ts.Get(context.Background())
	if n := len(srv.Requests()); n != 2 {
		t.Errorf("expected a refetch after Invalidate, got %d requests", n)
	}
}
