package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/effects"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/giveaways"
	"github.com/senepa/Firebot/store"
	"github.com/senepa/Firebot/syscommands"
	"github.com/senepa/Firebot/testutil"
)

type harness struct {
	t      *testing.T
	h      http.Handler
	store  *store.SQLStore
	ledger *currency.Ledger
	chat   *testutil.RecordingChat
}

func newHarness(t *testing.T, mutate func(*Deps)) *harness {
	t.Helper()
	t.Setenv("RATE_LIMIT_ENABLED", "0")
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := testutil.NewStore(t)
	bus := events.NewBus(64)
	logger := testutil.Logger()
	rec := &testutil.RecordingChat{}
	ledger := currency.NewLedger(s, bus, logger)
	reg := commands.NewRegistry(s, bus, logger)
	syscommands.Register(reg, ledger, rec, logger)
	disp := commands.NewDispatcher(commands.DispatcherDeps{
		Registry: reg,
		Chat:     rec,
		Executor: effects.NewExecutor(rec, logger),
		Bus:      bus,
		Logger:   logger,
		Accounts: func() commands.Accounts { return commands.Accounts{Streamer: "streamer"} },
	})
	gm := giveaways.NewManager(s, bus, logger)
	gm.Register(ctx, giveaways.NewRaffle(giveaways.Deps{Registry: reg, Ledger: ledger, Chat: rec, Bus: bus, Logger: logger}))
	t.Cleanup(gm.Shutdown)

	deps := Deps{
		DB:         s.DB(),
		Registry:   reg,
		Dispatcher: disp,
		Ledger:     ledger,
		Giveaways:  gm,
		Chat:       rec,
	}
	if mutate != nil {
		mutate(&deps)
	}
	return &harness{t: t, h: NewMux(ctx, deps), store: s, ledger: ledger, chat: rec}
}

func (h *harness) do(method, path string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	h.h.ServeHTTP(rr, req)
	return rr
}

func (h *harness) expect(rr *httptest.ResponseRecorder, status int) {
	h.t.Helper()
	if rr.Code != status {
		h.t.Fatalf("expected %d, got %d, body=%s", status, rr.Code, rr.Body.String())
	}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealthzOK(t *testing.T) {
	h := newHarness(t, nil)
	rr := h.do(http.MethodGet, "/healthz", nil)
	h.expect(rr, http.StatusOK)
	if got := rr.Body.String(); got != "ok" {
		t.Fatalf("expected ok body, got %q", got)
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Fatal("missing correlation id header")
	}
}

func TestReadyzReportsChat(t *testing.T) {
	connected := false
	h := newHarness(t, func(d *Deps) { d.ChatConnected = func() bool { return connected } })

	rr := h.do(http.MethodGet, "/readyz", nil)
	h.expect(rr, http.StatusServiceUnavailable)
	if body := decode[map[string]string](t, rr); body["failed_check"] != "chat" {
		t.Fatalf("failed check %q", body["failed_check"])
	}

	connected = true
	h.expect(h.do(http.MethodGet, "/readyz", nil), http.StatusOK)
}

func TestMissingComponentsAreUnavailable(t *testing.T) {
	h := newHarness(t, func(d *Deps) { *d = Deps{DB: d.DB} })
	for _, path := range []string{"/commands/system", "/currencies", "/giveaways"} {
		h.expect(h.do(http.MethodGet, path, nil), http.StatusServiceUnavailable)
	}
	h.expect(h.do(http.MethodPost, "/chat/send", map[string]string{"message": "hi"}), http.StatusServiceUnavailable)
}

func TestCustomCommandLifecycle(t *testing.T) {
	h := newHarness(t, nil)

	h.expect(h.do(http.MethodPost, "/commands/custom", map[string]any{"trigger": "  "}), http.StatusBadRequest)
	h.expect(h.do(http.MethodPost, "/commands/custom", map[string]any{"trigger": "!x", "bogus": 1}), http.StatusBadRequest)

	rr := h.do(http.MethodPost, "/commands/custom?user=alice", map[string]any{
		"trigger": "!hello",
		"active":  true,
		"effects": []map[string]string{{"type": "chat", "message": "hi {user}"}},
	})
	h.expect(rr, http.StatusOK)
	saved := decode[commands.Command](t, rr)
	if saved.ID == "" || saved.CreatedBy != "alice" || saved.Type != commands.TypeCustom {
		t.Fatalf("saved %+v", saved)
	}

	list := decode[[]commands.Command](t, h.do(http.MethodGet, "/commands/custom", nil))
	if len(list) != 1 || list[0].Trigger != "!hello" {
		t.Fatalf("list %+v", list)
	}

	h.expect(h.do(http.MethodPost, "/commands/custom/"+saved.ID+"/trigger", nil), http.StatusAccepted)
	if !h.chat.Contains("hi streamer") {
		t.Fatalf("manual trigger sent %q", h.chat.Texts())
	}
	h.expect(h.do(http.MethodPost, "/commands/custom/missing/trigger", nil), http.StatusNotFound)

	h.expect(h.do(http.MethodDelete, "/commands/custom/"+saved.ID, nil), http.StatusNoContent)
	h.expect(h.do(http.MethodDelete, "/commands/custom/"+saved.ID, nil), http.StatusNotFound)
	h.expect(h.do(http.MethodPost, "/commands/refresh", nil), http.StatusOK)
}

func TestSystemCommandOverride(t *testing.T) {
	h := newHarness(t, nil)

	defs := decode[[]commands.Command](t, h.do(http.MethodGet, "/commands/system", nil))
	var list commands.Command
	for _, d := range defs {
		if d.ID == syscommands.CommandListID {
			list = d
		}
	}
	if list.Trigger != "!commands" {
		t.Fatalf("command list missing from %+v", defs)
	}

	list.Trigger = "!cmds"
	rr := h.do(http.MethodPut, "/commands/system/"+syscommands.CommandListID, list)
	h.expect(rr, http.StatusOK)
	if got := decode[commands.Command](t, rr); got.Trigger != "!cmds" {
		t.Fatalf("override not applied: %+v", got)
	}

	h.expect(h.do(http.MethodDelete, "/commands/system/"+syscommands.CommandListID, nil), http.StatusNoContent)
	h.expect(h.do(http.MethodDelete, "/commands/system/missing", nil), http.StatusNotFound)
}

func TestCurrencyEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	testutil.AddViewer(t, h.store, "1", "alice", true)
	testutil.AddViewer(t, h.store, "2", "bob", true)

	h.expect(h.do(http.MethodPost, "/currencies", map[string]any{"name": ""}), http.StatusBadRequest)
	rr := h.do(http.MethodPost, "/currencies", map[string]any{"name": "gold", "limit": 100})
	h.expect(rr, http.StatusCreated)
	gold := decode[currency.Currency](t, rr)
	h.expect(h.do(http.MethodPost, "/currencies", map[string]any{"name": "Gold"}), http.StatusConflict)

	h.expect(h.do(http.MethodPost, "/currencies/"+gold.ID+"/adjust", map[string]any{"username": "alice", "amount": 150}), http.StatusOK)
	rr = h.do(http.MethodPost, "/currencies/"+gold.ID+"/adjust", map[string]any{"username": "bob", "amount": 40, "mode": "set"})
	h.expect(rr, http.StatusOK)
	if body := decode[map[string]any](t, rr); body["amount"] != float64(40) {
		t.Fatalf("adjust body %+v", body)
	}
	h.expect(h.do(http.MethodPost, "/currencies/"+gold.ID+"/adjust", map[string]any{"username": "nobody", "amount": 5}), http.StatusUnprocessableEntity)
	h.expect(h.do(http.MethodPost, "/currencies/missing/adjust", map[string]any{"username": "bob", "amount": 5}), http.StatusNotFound)

	top := decode[[]store.Holder](t, h.do(http.MethodGet, "/currencies/"+gold.ID+"/top?count=1", nil))
	if len(top) != 1 || top[0].Username != "alice" || top[0].Amount != 100 {
		t.Fatalf("top %+v", top)
	}

	views := decode[[]currencyView](t, h.do(http.MethodGet, "/currencies", nil))
	if len(views) != 1 || views[0].Circulation != 140 {
		t.Fatalf("currencies %+v", views)
	}

	h.expect(h.do(http.MethodPost, "/currencies/"+gold.ID+"/purge", nil), http.StatusOK)
	if got := h.ledger.GetAmount(context.Background(), "alice", gold.ID); got != 0 {
		t.Fatalf("purge left %d", got)
	}

	gold.Payout = 5
	h.expect(h.do(http.MethodPut, "/currencies/"+gold.ID, gold), http.StatusOK)
	h.expect(h.do(http.MethodPut, "/currencies/missing", gold), http.StatusNotFound)
	h.expect(h.do(http.MethodDelete, "/currencies/"+gold.ID, nil), http.StatusNoContent)
	h.expect(h.do(http.MethodDelete, "/currencies/"+gold.ID, nil), http.StatusNotFound)
}

func TestGiveawayEndpoints(t *testing.T) {
	h := newHarness(t, nil)
	path := "/giveaways/" + giveaways.RaffleID

	h.expect(h.do(http.MethodPost, path+"/start", nil), http.StatusConflict)
	h.expect(h.do(http.MethodPost, "/giveaways/missing/start", nil), http.StatusNotFound)

	bad := map[string]any{"active": true, "settings": map[string]any{"generalSettings": map[string]any{"startDelay": 0}}}
	h.expect(h.do(http.MethodPut, path+"/settings", bad), http.StatusBadRequest)
	h.expect(h.do(http.MethodPut, path+"/settings", map[string]any{"active": true}), http.StatusOK)

	rr := h.do(http.MethodPost, path+"/start?minutes=5", nil)
	h.expect(rr, http.StatusOK)
	if decode[map[string]string](t, rr)["lobbyId"] == "" {
		t.Fatal("missing lobby id")
	}
	if !h.chat.Contains("within 5 minute(s)") {
		t.Fatalf("start message %q", h.chat.Texts())
	}
	h.expect(h.do(http.MethodPost, path+"/start", nil), http.StatusConflict)

	list := decode[[]giveaways.Info](t, h.do(http.MethodGet, "/giveaways", nil))
	if len(list) != 1 || list[0].Lobby != giveaways.StateOpen {
		t.Fatalf("list %+v", list)
	}

	h.expect(h.do(http.MethodPost, path+"/stop", nil), http.StatusOK)
	h.expect(h.do(http.MethodPost, path+"/stop", nil), http.StatusConflict)

	rr = h.do(http.MethodPost, path+"/reset", nil)
	h.expect(rr, http.StatusOK)
	if s := decode[giveaways.Settings](t, rr); s.Active {
		t.Fatal("reset left the giveaway active")
	}
}

func TestChatSend(t *testing.T) {
	h := newHarness(t, nil)

	h.expect(h.do(http.MethodPost, "/chat/send", map[string]string{"message": "   "}), http.StatusBadRequest)
	h.expect(h.do(http.MethodPost, "/chat/send", map[string]string{"message": "hello", "account": "Streamer"}), http.StatusAccepted)
	sent := h.chat.Sent()
	if len(sent) != 1 || sent[0].Opts.Account != chat.AccountStreamer {
		t.Fatalf("sent %+v", sent)
	}

	h.chat.Err = chat.ErrNotConnected
	h.expect(h.do(http.MethodPost, "/chat/send", map[string]string{"message": "hello"}), http.StatusServiceUnavailable)
	h.chat.Err = context.DeadlineExceeded
	h.expect(h.do(http.MethodPost, "/chat/send", map[string]string{"message": "hello"}), http.StatusBadGateway)
}

func TestMutatingEndpointsRequireAuth(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.AdminToken = "s3cret" })

	h.expect(h.do(http.MethodGet, "/currencies", nil), http.StatusOK)
	h.expect(h.do(http.MethodPost, "/currencies", map[string]any{"name": "gold"}), http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodPost, "/currencies", strings.NewReader(`{"name":"gold"}`))
	req.Header.Set("X-Admin-Token", "s3cret")
	rr := httptest.NewRecorder()
	h.h.ServeHTTP(rr, req)
	h.expect(rr, http.StatusCreated)
}

func TestStartAndShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- Start(ctx, Deps{}, "127.0.0.1:0") }()

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("server returned error: %v", err)
	}
}
