package restrictions

import (
	"context"
	"strings"

	"github.com/dustin/go-humanize"
)

// Built-in predicate types.
const (
	TypePermissions = "firebot:permissions"
	TypeCurrency    = "firebot:currency"
)

// Permissions passes when the sender holds one of RoleIDs (mode "roles") or
// is listed in Usernames (mode "viewer").
type Permissions struct {
	// Roles optionally resolves custom roles stored for a viewer.
	Roles func(ctx context.Context, username string) []string
	// Names maps role ids onto display names for the failure reason.
	Names map[string]string
}

// Type implements Predicate.
func (Permissions) Type() string { return TypePermissions }

// Evaluate implements Predicate.
func (p Permissions) Evaluate(ctx context.Context, trigger Trigger, r Restriction) error {
	username := strings.ToLower(trigger.Metadata.Username)
	if r.Mode == "viewer" {
		for _, u := range r.Usernames {
			if strings.EqualFold(u, username) {
				return nil
			}
		}
		return reject("You are not on the allowed viewer list")
	}

	have := append([]string(nil), trigger.Metadata.Roles...)
	if p.Roles != nil && username != "" {
		have = append(have, p.Roles(ctx, username)...)
	}
	for _, want := range r.RoleIDs {
		for _, h := range have {
			if strings.EqualFold(h, want) {
				return nil
			}
		}
	}
	names := make([]string, 0, len(r.RoleIDs))
	for _, id := range r.RoleIDs {
		if n, ok := p.Names[id]; ok {
			names = append(names, n)
		} else {
			names = append(names, id)
		}
	}
	return reject("You must be one of the following roles: %s", strings.Join(names, ", "))
}

// BalanceReader is the ledger view the currency predicate needs.
type BalanceReader interface {
	GetAmount(ctx context.Context, username, currencyID string) int64
}

// CurrencyNamer resolves currency display names.
type CurrencyNamer func(currencyID string) string

// Currency passes when the sender holds at least Amount of CurrencyID.
type Currency struct {
	Balances BalanceReader
	Name     CurrencyNamer
}

// Type implements Predicate.
func (Currency) Type() string { return TypeCurrency }

// Evaluate implements Predicate.
func (c Currency) Evaluate(ctx context.Context, trigger Trigger, r Restriction) error {
	if r.Amount <= 0 || r.CurrencyID == "" {
		return nil
	}
	if c.Balances.GetAmount(ctx, trigger.Metadata.Username, r.CurrencyID) >= r.Amount {
		return nil
	}
	name := r.CurrencyID
	if c.Name != nil {
		if n := c.Name(r.CurrencyID); n != "" {
			name = n
		}
	}
	return reject("You need at least %s %s", humanize.Comma(r.Amount), name)
}
