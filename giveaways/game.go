package giveaways

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/senepa/Firebot/chat"
	"github.com/senepa/Firebot/commands"
	"github.com/senepa/Firebot/currency"
	"github.com/senepa/Firebot/events"
	"github.com/senepa/Firebot/options"
	"github.com/senepa/Firebot/restrictions"
	"github.com/senepa/Firebot/telemetry"
)

// Ledger is the currency surface the games use.
type Ledger interface {
	GetCurrencyByID(id string) (currency.Currency, bool)
	GetAmount(ctx context.Context, username, currencyID string) int64
	AdjustForUser(ctx context.Context, username, currencyID string, value int64, mode currency.Mode) bool
	Charge(ctx context.Context, username, currencyID string, amount int64) bool
}

// Deps wires a game.
type Deps struct {
	Registry *commands.Registry
	Ledger   Ledger
	Chat     chat.Sender
	Bus      events.Publisher
	Logger   *slog.Logger
	// Lobby options (test clocks and random sources).
	Lobby []LobbyOption
}

// modsOnly limits lobby control sub-commands.
var modsOnly = restrictions.Data{
	Restrictions: []restrictions.Restriction{{
		ID:      "sys-cmd-mods-only-perms",
		Type:    restrictions.TypePermissions,
		Mode:    "roles",
		RoleIDs: []string{chat.RoleMod, chat.RoleBroadcaster},
	}},
}

var chatCategory = options.Category{
	Title:    "Chat Settings",
	SortRank: 9,
	Settings: map[string]options.Definition{
		"chatter": {Type: options.KindChatter, Title: "Chat As", Default: string(chat.AccountBot)},
	},
}

// game holds what raffle, lottery and bid share.
type game struct {
	id     string
	deps   Deps
	logger *slog.Logger
	lobby  *Lobby

	mu       sync.RWMutex
	settings Settings
}

func newGame(id string, mode DrawMode, deps Deps, settle Settler) *game {
	if deps.Bus == nil {
		deps.Bus = events.Nop{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	g := &game{id: id, deps: deps, logger: deps.Logger.With("component", "giveaway", "giveaway", id)}
	g.lobby = NewLobby(id, mode, settle, deps.Logger, deps.Lobby...)
	return g
}

func (g *game) current() Settings {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.settings
}

func (g *game) setSettings(s Settings) {
	g.mu.Lock()
	g.settings = s
	g.mu.Unlock()
}

func (g *game) say(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}
	acct := chat.Account(g.current().Category("chatSettings").String("chatter"))
	if err := g.deps.Chat.Send(ctx, text, chat.SendOptions{Account: acct}); err != nil {
		g.logger.Warn("chat send failed", slog.Any("err", err))
	}
}

func (g *game) register(cmds ...commands.SystemCommand) {
	for _, c := range cmds {
		g.deps.Registry.RegisterSystemCommand(c)
	}
}

func (g *game) unregister(ids ...string) {
	for _, id := range ids {
		g.deps.Registry.UnregisterSystemCommand(id)
	}
}

// LobbyState reports the lobby state for the operator view.
func (g *game) LobbyState() State { return g.lobby.State() }

// ClearLobby implements LobbyController.
func (g *game) ClearLobby() { g.lobby.Clear() }

func (g *game) window(minutes int64, fallback int64) time.Duration {
	if minutes <= 0 {
		minutes = fallback
	}
	if minutes <= 0 {
		minutes = 1
	}
	return time.Duration(minutes) * time.Minute
}

func (g *game) published(kind string, data map[string]any) {
	data["giveaway"] = g.id
	g.deps.Bus.Publish(kind, data)
}

func (g *game) settled(o Outcome) {
	outcome := "winner"
	switch {
	case o.Abandoned:
		outcome = "abandoned"
	case o.NoWinner():
		outcome = "no_winner"
	}
	telemetry.IncGiveawaySettled(g.id, outcome)
	data := map[string]any{"lobbyId": o.LobbyID, "entrants": len(o.Entrants), "outcome": outcome}
	if o.Winner != nil {
		data["winner"] = o.Winner.Username
	}
	g.published(events.TypeGiveawaySettled, data)
}

// fill replaces {key} placeholders.
func fill(tmpl string, kv ...string) string {
	pairs := make([]string, 0, len(kv))
	for i := 0; i+1 < len(kv); i += 2 {
		pairs = append(pairs, "{"+kv[i]+"}", kv[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
