package restrictions

import (
	"context"
	"errors"
	"testing"
)

type balances map[string]int64

func (b balances) GetAmount(_ context.Context, username, _ string) int64 { return b[username] }

type faulty struct{}

func (faulty) Type() string { return "test:faulty" }
func (faulty) Evaluate(context.Context, Trigger, Restriction) error {
	return errors.New("backend down")
}

func newManager() *Manager {
	return NewManager(
		Permissions{Names: map[string]string{"mod": "Moderator", "broadcaster": "Streamer"}},
		Currency{Balances: balances{"rich": 500, "poor": 5}, Name: func(string) string { return "Gold" }},
		faulty{},
	)
}

func trigger(user string, roles ...string) Trigger {
	return Trigger{Type: TriggerCommand, Metadata: Metadata{Username: user, Roles: roles}}
}

func TestRunPredicates(t *testing.T) {
	modsOnly := Restriction{ID: "r1", Type: TypePermissions, Mode: "roles", RoleIDs: []string{"mod", "broadcaster"}}
	needsGold := Restriction{ID: "r2", Type: TypeCurrency, CurrencyID: "gold", Amount: 100}

	tests := []struct {
		name       string
		trigger    Trigger
		data       Data
		wantReason string
	}{
		{"empty passes", trigger("anyone"), Data{}, ""},
		{"role ok", trigger("m", "mod"), Data{Restrictions: []Restriction{modsOnly}}, ""},
		{"role missing", trigger("v"), Data{Restrictions: []Restriction{modsOnly}}, "You must be one of the following roles: Moderator, Streamer"},
		{"all collects reasons", trigger("poor"), Data{Restrictions: []Restriction{modsOnly, needsGold}},
			"You must be one of the following roles: Moderator, Streamer, You need at least 100 Gold"},
		{"any passes on one", trigger("rich"), Data{Mode: ModeAny, Restrictions: []Restriction{modsOnly, needsGold}}, ""},
		{"any fails on none", trigger("poor"), Data{Mode: ModeAny, Restrictions: []Restriction{needsGold}}, "You need at least 100 Gold"},
		{"custom fail message", trigger("v"), Data{FailMessage: "mods only", Restrictions: []Restriction{modsOnly}}, "mods only"},
		{"unknown type skipped", trigger("v"), Data{Restrictions: []Restriction{{Type: "nope"}}}, ""},
		{"viewer list", trigger("Alice"), Data{Restrictions: []Restriction{{Type: TypePermissions, Mode: "viewer", Usernames: []string{"alice"}}}}, ""},
	}
	m := newManager()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.RunPredicates(context.Background(), tt.trigger, tt.data)
			if tt.wantReason == "" {
				if err != nil {
					t.Fatalf("unexpected rejection: %v", err)
				}
				return
			}
			var rej *Rejection
			if !errors.As(err, &rej) {
				t.Fatalf("expected *Rejection, got %v", err)
			}
			if rej.Error() != tt.wantReason {
				t.Fatalf("reason = %q, want %q", rej.Error(), tt.wantReason)
			}
		})
	}
}

func TestCustomRolesResolver(t *testing.T) {
	m := NewManager(Permissions{Roles: func(_ context.Context, u string) []string {
		if u == "regular" {
			return []string{"regulars"}
		}
		return nil
	}})
	data := Data{Restrictions: []Restriction{{Type: TypePermissions, Mode: "roles", RoleIDs: []string{"regulars"}}}}
	if err := m.RunPredicates(context.Background(), trigger("Regular"), data); err != nil {
		t.Fatalf("custom role should pass: %v", err)
	}
}

func TestFaultIsNotRejection(t *testing.T) {
	err := newManager().RunPredicates(context.Background(), trigger("x"), Data{Restrictions: []Restriction{{Type: "test:faulty"}}})
	var rej *Rejection
	if err == nil || errors.As(err, &rej) {
		t.Fatalf("expected plain error, got %v", err)
	}
}

func TestShouldSendFailMessage(t *testing.T) {
	f := false
	if !(Data{}).ShouldSendFailMessage() {
		t.Error("unset must default to true")
	}
	if (Data{SendFailMessage: &f}).ShouldSendFailMessage() {
		t.Error("explicit false must be honoured")
	}
}
