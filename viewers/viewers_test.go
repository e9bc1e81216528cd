package viewers

import (
	"context"
	"testing"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/store"
	"github.com/senepa/Firebot/testutil"
)

func newTracker(t *testing.T) (*Tracker, *store.SQLStore, *currency.Ledger, currency.Currency) {
	t.Helper()
	s := testutil.NewStore(t)
	l := currency.NewLedger(s, nil, testutil.Logger())
	gold, err := l.CreateCurrency(context.Background(), currency.Currency{Name: "gold"})
	if err != nil {
		t.Fatal(err)
	}
	return NewTracker(s, l, testutil.Logger()), s, l, gold
}

func TestMessageCreatesViewer(t *testing.T) {
	tr, s, l, gold := newTracker(t)
	ctx := context.Background()

	tr.HandleMessage(ctx, chat.Message{UserID: "42", Username: "Alice", DisplayName: "Alice", Roles: []string{chat.RoleMod}})
	v, err := s.GetViewerByUsername(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != "42" || !v.Online || v.DisplayName != "Alice" || len(v.Roles) != 1 {
		t.Fatalf("viewer %+v", v)
	}
	if _, ok := v.Balances[gold.ID]; !ok {
		t.Fatalf("new viewer not seeded: %v", v.Balances)
	}
	if tr.Online() != 1 {
		t.Fatalf("online = %d", tr.Online())
	}

	l.AdjustForUser(ctx, "alice", gold.ID, 50, currency.ModeAdjust)
	tr.HandleMessage(ctx, chat.Message{UserID: "42", Username: "alice"})
	if got := l.GetAmount(ctx, "alice", gold.ID); got != 50 {
		t.Fatalf("second message reset balance to %d", got)
	}
}

func TestPresenceLifecycle(t *testing.T) {
	tr, s, _, _ := newTracker(t)
	ctx := context.Background()

	tr.HandlePresence(ctx, "lurker", true)
	v, err := s.GetViewerByUsername(ctx, "lurker")
	if err != nil {
		t.Fatal(err)
	}
	if v.ID == "" || !v.Online {
		t.Fatalf("joined viewer %+v", v)
	}
	joinedID := v.ID

	// A later chat message carries the platform id; the stored id stays.
	tr.HandleMessage(ctx, chat.Message{UserID: "999", Username: "lurker"})
	v, _ = s.GetViewerByUsername(ctx, "lurker")
	if v.ID != joinedID {
		t.Fatalf("viewer id changed from %s to %s", joinedID, v.ID)
	}

	tr.HandlePresence(ctx, "lurker", false)
	v, _ = s.GetViewerByUsername(ctx, "lurker")
	if v.Online || tr.Online() != 0 {
		t.Fatalf("part did not mark offline: %+v, %d", v, tr.Online())
	}
	tr.HandlePresence(ctx, "lurker", true)
	if v, _ = s.GetViewerByUsername(ctx, "lurker"); !v.Online {
		t.Fatal("rejoin did not mark online")
	}
}

func TestResetAndEcho(t *testing.T) {
	tr, s, _, _ := newTracker(t)
	ctx := context.Background()
	tr.HandleMessage(ctx, chat.Message{UserID: "1", Username: "bob"})
	tr.HandleMessage(ctx, chat.Message{UserID: "2", Username: "streamer", Echo: true})
	if _, err := s.GetViewerByUsername(ctx, "streamer"); err == nil {
		t.Fatal("echoed message created a viewer")
	}
	if err := tr.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	v, _ := s.GetViewerByUsername(ctx, "bob")
	if v.Online || tr.Online() != 0 {
		t.Fatal("reset left viewers online")
	}
}
